package repository_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/infrastructure"
	"bizforge.io/platform/internal/repository"
	"bizforge.io/platform/internal/testutil"
)

func newAuditStore(t *testing.T) (*repository.AuditStore, *pgxpool.Pool) {
	t.Helper()
	pool := testutil.OpenPGXPool(t, t.Name())
	require.NoError(t, infrastructure.ApplySchema(context.Background(), pool))
	return repository.NewAuditStore(pool), pool
}

func auditRecord(tenant, action, idemKey string) repository.AuditRecord {
	id := uuid.Must(uuid.NewV7()).String()
	return repository.AuditRecord{
		ID:             id,
		TenantID:       tenant,
		ActorID:        "u1",
		Action:         action,
		EntityType:     "sales_order",
		EntityID:       "so-1",
		Channel:        string(domain.ChannelInteractive),
		IdempotencyKey: idemKey,
		Receipt: domain.Receipt{
			MutationID:   id,
			EntityType:   "sales_order",
			Status:       domain.ReceiptOK,
			VersionAfter: 1,
		},
	}
}

func insertAudit(t *testing.T, pool *pgxpool.Pool, store *repository.AuditStore, rec repository.AuditRecord) error {
	t.Helper()
	ctx := context.Background()
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	if err := store.Insert(ctx, tx, rec); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Two commits racing on the same create idempotency key can both pass the
// plan-phase replay lookup; the audit table itself must reject the loser.
func TestAuditIdempotencyKeyUnique(t *testing.T) {
	store, pool := newAuditStore(t)

	require.NoError(t, insertAudit(t, pool, store, auditRecord("t1", "sales_order.create", "idem-1")))
	err := insertAudit(t, pool, store, auditRecord("t1", "sales_order.create", "idem-1"))
	assert.Error(t, err, "duplicate (tenant, action, idempotency_key) must not commit")

	// Different key, different tenant, and key-less rows stay unrestricted.
	assert.NoError(t, insertAudit(t, pool, store, auditRecord("t1", "sales_order.create", "idem-2")))
	assert.NoError(t, insertAudit(t, pool, store, auditRecord("t2", "sales_order.create", "idem-1")))
	assert.NoError(t, insertAudit(t, pool, store, auditRecord("t1", "sales_order.create", "")))
	assert.NoError(t, insertAudit(t, pool, store, auditRecord("t1", "sales_order.create", "")))

	receipt, err := store.FindReceiptByIdempotencyKey(context.Background(), "t1", "sales_order.create", "idem-1")
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, int64(1), receipt.VersionAfter)
}
