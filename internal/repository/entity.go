// Package repository provides the PostgreSQL persistence layer of the
// kernel: generic entity-table access, append-only audit and version
// stores, the outbox table, and usage counters. All writes happen inside a
// caller-owned pgx transaction so the commit executor controls atomicity.
package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/registry"
)

// psql builds placeholders in PostgreSQL style ($1, $2, ...).
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// EntityStore performs the generic reads and writes against registered
// entity tables.
type EntityStore struct {
	pool *pgxpool.Pool
}

// NewEntityStore creates an EntityStore on the shared pool.
func NewEntityStore(pool *pgxpool.Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

// readColumns lists every column the kernel reads back: writable fields
// plus the invariant columns the guards consult.
func readColumns(def registry.Definition) []string {
	cols := def.WritableFields()
	cols = append(cols,
		domain.ColID, domain.ColTenantID, domain.ColVersion,
		domain.ColCreatedAt, domain.ColCreatedBy, domain.ColUpdatedAt, domain.ColUpdatedBy,
	)
	if def.HasSoftDelete {
		cols = append(cols, domain.ColDeleted, domain.ColDeletedAt, domain.ColDeletedBy)
	}
	if def.HasDocStatus {
		cols = append(cols, domain.ColDocStatus)
	}
	if def.HasPostingStatus {
		cols = append(cols, domain.ColPostingStatus)
	}
	return dedupe(cols)
}

func dedupe(cols []string) []string {
	seen := make(map[string]struct{}, len(cols))
	out := cols[:0]
	for _, c := range cols {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ReadRow loads one row by (tenant, id) as a column map. Soft-deleted rows
// are returned too; the plan phase decides whether they are visible for the
// verb at hand. Returns nil when the row does not exist.
func (s *EntityStore) ReadRow(ctx context.Context, def registry.Definition, tenantID, id string) (map[string]any, error) {
	cols := readColumns(def)
	query, args, err := psql.Select(cols...).
		From(def.Table).
		Where(sq.Eq{domain.ColTenantID: tenantID, domain.ColID: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build read for %s: %w", def.Table, err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", def.Type, id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("scan %s %s: %w", def.Type, id, err)
	}

	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = normalizeValue(values[i])
	}
	return row, nil
}

// normalizeValue flattens pgx driver values to plain Go types so row
// snapshots are JSON-friendly.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case [16]byte: // uuid
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	default:
		return v
	}
}

// InsertRow performs the generic create inside tx: caller fields plus
// stamps, version 1, and draft status for documents. Returns the inserted
// row snapshot.
func (s *EntityStore) InsertRow(ctx context.Context, tx pgx.Tx, def registry.Definition, id string, input map[string]any, actor domain.ResolvedActor) (map[string]any, error) {
	now := time.Now().UTC()

	row := make(map[string]any, len(input)+8)
	for k, v := range input {
		row[k] = v
	}
	row[domain.ColID] = id
	row[domain.ColTenantID] = actor.TenantID
	row[domain.ColVersion] = int64(1)
	row[domain.ColCreatedAt] = now
	row[domain.ColCreatedBy] = actor.UserID
	row[domain.ColUpdatedAt] = now
	row[domain.ColUpdatedBy] = actor.UserID
	if def.HasSoftDelete {
		row[domain.ColDeleted] = false
	}
	if def.HasDocStatus {
		row[domain.ColDocStatus] = string(domain.DocDraft)
	}
	if def.HasPostingStatus {
		row[domain.ColPostingStatus] = string(domain.PostingNone)
	}

	builder := psql.Insert(def.Table)
	cols := make([]string, 0, len(row))
	vals := make([]any, 0, len(row))
	for _, c := range sortedMapKeys(row) {
		cols = append(cols, c)
		vals = append(vals, row[c])
	}
	query, args, err := builder.Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert for %s: %w", def.Table, err)
	}

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert %s %s: %w", def.Type, id, err)
	}
	return row, nil
}

// UpdateRow performs the generic conditional update inside tx: SET the
// given columns plus stamps and version+1, guarded by the expected version
// so a concurrent writer causes zero rows affected instead of a lost
// update. Returns the number of rows affected.
func (s *EntityStore) UpdateRow(ctx context.Context, tx pgx.Tx, def registry.Definition, id string, expectedVersion int64, set map[string]any, actor domain.ResolvedActor, includeDeleted bool) (int64, error) {
	now := time.Now().UTC()

	builder := psql.Update(def.Table)
	for _, c := range sortedMapKeys(set) {
		builder = builder.Set(c, set[c])
	}
	builder = builder.
		Set(domain.ColVersion, sq.Expr(domain.ColVersion+" + 1")).
		Set(domain.ColUpdatedAt, now).
		Set(domain.ColUpdatedBy, actor.UserID)

	where := sq.Eq{
		domain.ColID:       id,
		domain.ColTenantID: actor.TenantID,
		domain.ColVersion:  expectedVersion,
	}
	builder = builder.Where(where)
	if def.HasSoftDelete && !includeDeleted {
		builder = builder.Where(sq.Eq{domain.ColDeleted: false})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update for %s: %w", def.Table, err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s %s: %w", def.Type, id, err)
	}
	return tag.RowsAffected(), nil
}

func sortedMapKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Deterministic statement text keeps prepared-statement caches warm.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
