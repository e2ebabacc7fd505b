package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bizforge.io/platform/internal/domain"
)

// OutboxStore persists deduplicated event intents and serves the relay.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore creates an OutboxStore on the shared pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

// Insert writes one intent inside tx with insert-if-absent semantics keyed
// on (tenant, dedup key). Re-running the same commit produces the same keys
// and therefore no duplicate downstream events. Returns whether a row was
// actually inserted.
func (s *OutboxStore) Insert(ctx context.Context, tx pgx.Tx, intent domain.OutboxIntent) (bool, error) {
	payload, err := json.Marshal(intent.Payload)
	if err != nil {
		return false, fmt.Errorf("outbox marshal payload: %w", err)
	}

	query, args, err := psql.Insert("outbox_intents").
		Columns("id", "tenant_id", "trace_id", "dedup_key", "kind", "event",
			"entity_type", "entity_id", "payload", "status").
		Values(intent.ID, intent.TenantID, intent.TraceID, intent.DedupKey,
			string(intent.Kind), intent.Event, intent.EntityType, intent.EntityID,
			payload, string(domain.IntentPending)).
		Suffix("ON CONFLICT (tenant_id, dedup_key) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build outbox insert: %w", err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert outbox intent %s: %w", intent.DedupKey, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimPending atomically claims up to limit pending intents for delivery,
// flipping them to processing so concurrent relays do not double-claim.
func (s *OutboxStore) ClaimPending(ctx context.Context, limit int) ([]domain.OutboxIntent, error) {
	// SKIP LOCKED keeps concurrent relay instances from serializing on the
	// same rows.
	const query = `
		UPDATE outbox_intents SET status = 'processing'
		WHERE id IN (
			SELECT id FROM outbox_intents
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, trace_id, dedup_key, kind, event,
			entity_type, entity_id, payload, created_at`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending intents: %w", err)
	}
	defer rows.Close()

	var out []domain.OutboxIntent
	for rows.Next() {
		var (
			intent  domain.OutboxIntent
			kind    string
			payload []byte
			created time.Time
		)
		if err := rows.Scan(&intent.ID, &intent.TenantID, &intent.TraceID, &intent.DedupKey,
			&kind, &intent.Event, &intent.EntityType, &intent.EntityID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan claimed intent: %w", err)
		}
		intent.Kind = domain.IntentKind(kind)
		intent.Status = domain.IntentPending
		intent.CreatedAt = created
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &intent.Payload); err != nil {
				return nil, fmt.Errorf("decode intent payload %s: %w", intent.ID, err)
			}
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// Requeue returns a claimed intent to pending, e.g. when tenant quota
// forces the relay to back off.
func (s *OutboxStore) Requeue(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.IntentPending)
}

// MarkProcessed finalizes a delivered intent.
func (s *OutboxStore) MarkProcessed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.IntentProcessed)
}

// MarkFailed parks an intent whose handlers failed; a later sweep or a
// human decides what to do with failed rows.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, domain.IntentFailed)
}

func (s *OutboxStore) setStatus(ctx context.Context, id string, status domain.IntentStatus) error {
	builder := psql.Update("outbox_intents").
		Set("status", string(status)).
		Where(sq.Eq{"id": id})
	if status == domain.IntentPending {
		builder = builder.Set("processed_at", nil)
	} else {
		builder = builder.Set("processed_at", sq.Expr("now()"))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build intent status update: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("set intent %s to %s: %w", id, status, err)
	}
	return nil
}

// CountByDedupKey reports how many rows exist for (tenant, dedupKey).
// Test support for the at-most-one invariant.
func (s *OutboxStore) CountByDedupKey(ctx context.Context, tenantID, dedupKey string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM outbox_intents WHERE tenant_id = $1 AND dedup_key = $2`,
		tenantID, dedupKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count intents by dedup key: %w", err)
	}
	return n, nil
}
