package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VersionStore persists point-in-time entity snapshots keyed by
// (entity, version number). Append-only, written in the commit transaction.
type VersionStore struct {
	pool *pgxpool.Pool
}

// NewVersionStore creates a VersionStore on the shared pool.
func NewVersionStore(pool *pgxpool.Pool) *VersionStore {
	return &VersionStore{pool: pool}
}

// Insert writes one version snapshot inside tx.
func (s *VersionStore) Insert(ctx context.Context, tx pgx.Tx, id, tenantID, entityType, entityID string, version int64, snapshot map[string]any, actorID string) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("version marshal snapshot: %w", err)
	}

	query, args, err := psql.Insert("entity_versions").
		Columns("id", "tenant_id", "entity_type", "entity_id", "version", "snapshot", "created_by").
		Values(id, tenantID, entityType, entityID, version, payload, actorID).
		ToSql()
	if err != nil {
		return fmt.Errorf("build version insert: %w", err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert version %s@%d: %w", entityID, version, err)
	}
	return nil
}
