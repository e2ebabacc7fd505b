package repository

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bizforge.io/platform/internal/domain"
)

// AuditRecord is one append-only audit row. Written in the same transaction
// as the entity change and never updated afterwards.
type AuditRecord struct {
	ID             string
	TenantID       string
	ActorID        string
	Action         string
	EntityType     string
	EntityID       string
	Before         map[string]any
	After          map[string]any
	Diff           map[string]any
	Authority      []domain.Permission
	Channel        string
	IdempotencyKey string
	Receipt        domain.Receipt
}

// AuditStore persists audit records.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on the shared pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Insert writes the audit row inside tx.
func (s *AuditStore) Insert(ctx context.Context, tx pgx.Tx, rec AuditRecord) error {
	before, err := marshalJSON(rec.Before)
	if err != nil {
		return fmt.Errorf("audit marshal before: %w", err)
	}
	after, err := marshalJSON(rec.After)
	if err != nil {
		return fmt.Errorf("audit marshal after: %w", err)
	}
	diff, err := marshalJSON(rec.Diff)
	if err != nil {
		return fmt.Errorf("audit marshal diff: %w", err)
	}
	authority, err := json.Marshal(rec.Authority)
	if err != nil {
		return fmt.Errorf("audit marshal authority: %w", err)
	}
	receipt, err := json.Marshal(rec.Receipt)
	if err != nil {
		return fmt.Errorf("audit marshal receipt: %w", err)
	}

	query, args, err := psql.Insert("audit_logs").
		Columns("id", "tenant_id", "actor_id", "action", "entity_type", "entity_id",
			"before_snapshot", "after_snapshot", "diff", "authority", "channel",
			"idempotency_key", "receipt").
		Values(rec.ID, rec.TenantID, rec.ActorID, rec.Action, rec.EntityType, rec.EntityID,
			before, after, diff, authority, rec.Channel,
			nullIfEmpty(rec.IdempotencyKey), receipt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit log %s: %w", rec.ID, err)
	}
	return nil
}

// FindReceiptByIdempotencyKey returns the receipt of a prior audit row with
// the same (tenant, action, key), or nil when none exists. Serves the
// create idempotency replay.
func (s *AuditStore) FindReceiptByIdempotencyKey(ctx context.Context, tenantID, action, key string) (*domain.Receipt, error) {
	query, args, err := psql.Select("receipt").
		From("audit_logs").
		Where(sq.Eq{"tenant_id": tenantID, "action": action, "idempotency_key": key}).
		OrderBy("created_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build idempotency lookup: %w", err)
	}

	var raw []byte
	err = s.pool.QueryRow(ctx, query, args...).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup (%s, %s): %w", action, key, err)
	}

	var receipt domain.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("decode replayed receipt: %w", err)
	}
	return &receipt, nil
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
