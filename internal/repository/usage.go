package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageStore tracks per-tenant mutation counters, incremented best-effort
// from the deliver phase.
type UsageStore struct {
	pool *pgxpool.Pool
}

// NewUsageStore creates a UsageStore on the shared pool.
func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	return &UsageStore{pool: pool}
}

// IncrementMutations adds one mutation to the tenant's counter for the
// current UTC day.
func (s *UsageStore) IncrementMutations(ctx context.Context, tenantID string) error {
	period := time.Now().UTC().Format("2006-01-02")
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_counters (tenant_id, period, mutations)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, period)
		DO UPDATE SET mutations = usage_counters.mutations + 1`,
		tenantID, period)
	if err != nil {
		return fmt.Errorf("increment usage for %s: %w", tenantID, err)
	}
	return nil
}

// Mutations reads the tenant's counter for one period. Test support.
func (s *UsageStore) Mutations(ctx context.Context, tenantID, period string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT mutations FROM usage_counters WHERE tenant_id = $1 AND period = $2`,
		tenantID, period).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
