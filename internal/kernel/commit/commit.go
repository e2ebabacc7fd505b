// Package commit executes the write half of a mutation as one atomic
// PostgreSQL transaction: governor limits, the entity write under
// optimistic versioning, the version snapshot, the audit row, and the
// outbox intents. Either everything lands or nothing does.
package commit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/kernel/governor"
	"bizforge.io/platform/internal/kernel/handler"
	"bizforge.io/platform/internal/kernel/outbox"
	apperrors "bizforge.io/platform/internal/pkg/errors"
	"bizforge.io/platform/internal/pkg/logger"
	"bizforge.io/platform/internal/registry"
	"bizforge.io/platform/internal/repository"
)

// Executor runs commit transactions.
type Executor struct {
	pool     *pgxpool.Pool
	gov      *governor.Governor
	entities *repository.EntityStore
	versions *repository.VersionStore
	audits   *repository.AuditStore
	outbox   *outbox.Writer
	handlers *handler.Registry
}

// NewExecutor wires an Executor.
func NewExecutor(pool *pgxpool.Pool, gov *governor.Governor, entities *repository.EntityStore, versions *repository.VersionStore, audits *repository.AuditStore, ob *outbox.Writer, handlers *handler.Registry) *Executor {
	return &Executor{
		pool:     pool,
		gov:      gov,
		entities: entities,
		versions: versions,
		audits:   audits,
		outbox:   ob,
		handlers: handlers,
	}
}

// Execute commits one prepared mutation and returns what it produced plus
// the success receipt persisted in the audit row.
func (e *Executor) Execute(ctx context.Context, def registry.Definition, p *domain.PreparedMutation) (domain.CommitResult, domain.Receipt, error) {
	var zero domain.CommitResult
	var zeroReceipt domain.Receipt

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return zero, zeroReceipt, apperrors.InternalError(fmt.Errorf("begin commit tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	limits := e.gov.LimitsFor(p.Context)
	if err := e.gov.Apply(ctx, tx, limits); err != nil {
		return zero, zeroReceipt, apperrors.InternalError(err)
	}

	after, err := e.writeEntity(ctx, tx, def, p)
	if err != nil {
		return zero, zeroReceipt, mapWriteError(err)
	}

	if h, ok := e.handlers.Resolve(def.Type); ok && h.Kind == handler.KindHook && h.Hooks.AfterEntityWrite != nil {
		req := handler.WriteRequest{Def: def, Prepared: *p}
		if err := h.Hooks.AfterEntityWrite(ctx, tx, req, after); err != nil {
			return zero, zeroReceipt, mapWriteError(err)
		}
	}

	entityID := p.EntityID
	if p.Verb == domain.VerbCreate {
		entityID, _ = domain.RowString(after, domain.ColID)
	}
	versionAfter := domain.RowVersion(after)
	result := domain.CommitResult{
		EntityID:      entityID,
		Before:        p.Current,
		After:         after,
		VersionBefore: domain.RowVersion(p.Current),
		VersionAfter:  versionAfter,
		AuditLogID:    uuid.Must(uuid.NewV7()).String(),
	}
	diff := Diff(result.Before, result.After)

	receipt := domain.Receipt{
		RequestID:     p.Context.RequestID,
		MutationID:    p.MutationID,
		BatchID:       p.Spec.BatchID,
		EntityID:      entityID,
		EntityType:    def.Type,
		VersionBefore: result.VersionBefore,
		VersionAfter:  result.VersionAfter,
		Status:        domain.ReceiptOK,
		AuditLogID:    result.AuditLogID,
	}

	if err := e.versions.Insert(ctx, tx, uuid.Must(uuid.NewV7()).String(),
		p.Context.Actor.TenantID, def.Type, entityID, versionAfter, after,
		p.Context.Actor.UserID); err != nil {
		return zero, zeroReceipt, mapWriteError(err)
	}

	if err := e.audits.Insert(ctx, tx, repository.AuditRecord{
		ID:             result.AuditLogID,
		TenantID:       p.Context.Actor.TenantID,
		ActorID:        p.Context.Actor.UserID,
		Action:         string(p.Spec.ActionType),
		EntityType:     def.Type,
		EntityID:       entityID,
		Before:         result.Before,
		After:          result.After,
		Diff:           diff,
		Authority:      p.Context.Actor.Permissions,
		Channel:        string(p.Context.Channel),
		IdempotencyKey: p.Spec.IdempotencyKey,
		Receipt:        receipt,
	}); err != nil {
		return zero, zeroReceipt, mapWriteError(err)
	}

	if err := e.outbox.Write(ctx, tx, def, outbox.Commit{
		TenantID:   p.Context.Actor.TenantID,
		TraceID:    p.Context.RequestID,
		EntityType: def.Type,
		EntityID:   entityID,
		Verb:       p.Verb,
		Version:    versionAfter,
		Diff:       diff,
	}); err != nil {
		return zero, zeroReceipt, mapWriteError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, zeroReceipt, mapWriteError(fmt.Errorf("commit mutation %s: %w", p.MutationID, err))
	}

	logger.L().Debug("mutation committed",
		zap.String("mutation_id", p.MutationID),
		zap.String("entity_type", def.Type),
		zap.String("entity_id", entityID),
		zap.Int64("version", versionAfter))
	return result, receipt, nil
}

// writeEntity performs the entity write, dispatching to a registered verb
// override or the generic path.
func (e *Executor) writeEntity(ctx context.Context, tx pgx.Tx, def registry.Definition, p *domain.PreparedMutation) (map[string]any, error) {
	if h, ok := e.handlers.Resolve(def.Type); ok && h.Kind == handler.KindVerb {
		if fn := h.Verbs.For(p.Verb); fn != nil {
			return fn(ctx, tx, handler.WriteRequest{Def: def, Prepared: *p})
		}
	}

	switch p.Verb {
	case domain.VerbCreate:
		id := uuid.Must(uuid.NewV7()).String()
		return e.entities.InsertRow(ctx, tx, def, id, p.Input, p.Context.Actor)
	default:
		set, includeDeleted, err := genericSet(def, p)
		if err != nil {
			return nil, err
		}
		affected, err := e.entities.UpdateRow(ctx, tx, def, p.EntityID, p.ExpectedVersion,
			set, p.Context.Actor, includeDeleted)
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			// The plan-phase read saw the expected version; losing the race
			// here means a concurrent writer advanced it first.
			return nil, apperrors.VersionConflict(def.Type, p.EntityID)
		}
		return afterRow(p, set), nil
	}
}

// genericSet computes the column set for the non-create generic verbs.
func genericSet(def registry.Definition, p *domain.PreparedMutation) (map[string]any, bool, error) {
	now := time.Now().UTC()
	set := make(map[string]any, len(p.Input)+4)
	for k, v := range p.Input {
		set[k] = v
	}

	switch p.Verb {
	case domain.VerbUpdate:
		return set, false, nil

	case domain.VerbDelete:
		if !def.HasSoftDelete {
			return nil, false, apperrors.ValidationFailed(
				fmt.Sprintf("%s does not support delete", def.Type))
		}
		set[domain.ColDeleted] = true
		set[domain.ColDeletedAt] = now
		set[domain.ColDeletedBy] = p.Context.Actor.UserID
		return set, false, nil

	case domain.VerbRestore:
		if !def.HasSoftDelete {
			return nil, false, apperrors.ValidationFailed(
				fmt.Sprintf("%s does not support restore", def.Type))
		}
		set[domain.ColDeleted] = false
		set[domain.ColDeletedAt] = nil
		set[domain.ColDeletedBy] = nil
		if def.HasDocStatus {
			if s, _ := domain.RowString(p.Current, domain.ColDocStatus); s == string(domain.DocCancelled) {
				set[domain.ColDocStatus] = string(domain.DocDraft)
			}
		}
		return set, true, nil

	case domain.VerbSubmit, domain.VerbCancel, domain.VerbAmend, domain.VerbApprove, domain.VerbReject:
		if !def.HasDocStatus {
			return nil, false, apperrors.ValidationFailed(
				fmt.Sprintf("%s has no document lifecycle", def.Type))
		}
		set[domain.ColDocStatus] = string(statusAfter(p.Verb))
		return set, false, nil

	default:
		return nil, false, apperrors.ValidationFailed(fmt.Sprintf("unsupported verb %q", p.Verb))
	}
}

// statusAfter is the target doc status of each status verb.
func statusAfter(verb domain.Verb) domain.DocStatus {
	switch verb {
	case domain.VerbSubmit:
		return domain.DocSubmitted
	case domain.VerbCancel:
		return domain.DocCancelled
	case domain.VerbAmend:
		return domain.DocAmended
	case domain.VerbApprove:
		return domain.DocActive
	case domain.VerbReject:
		return domain.DocDraft
	default:
		return domain.DocDraft
	}
}

// afterRow projects the post-write row from the pre-write snapshot and the
// applied set. Matches what UpdateRow stamped, modulo clock skew within the
// transaction.
func afterRow(p *domain.PreparedMutation, set map[string]any) map[string]any {
	out := make(map[string]any, len(p.Current)+len(set)+3)
	for k, v := range p.Current {
		out[k] = v
	}
	for k, v := range set {
		out[k] = v
	}
	out[domain.ColVersion] = p.ExpectedVersion + 1
	out[domain.ColUpdatedAt] = time.Now().UTC()
	out[domain.ColUpdatedBy] = p.Context.Actor.UserID
	return out
}

// Diff computes the normalized change set between two row snapshots: each
// changed column maps to its from/to pair. Nil before (create) diffs every
// non-nil after column.
func Diff(before, after map[string]any) map[string]any {
	out := map[string]any{}
	seen := map[string]struct{}{}
	for k, b := range before {
		seen[k] = struct{}{}
		a, ok := after[k]
		if !ok || !valueEqual(a, b) {
			out[k] = map[string]any{"from": b, "to": a}
		}
	}
	for k, a := range after {
		if _, ok := seen[k]; ok {
			continue
		}
		if before == nil && a == nil {
			continue
		}
		out[k] = map[string]any{"from": nil, "to": a}
	}
	return out
}

// valueEqual compares snapshot values, normalizing times to UTC instants.
func valueEqual(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// mapWriteError classifies a commit-phase failure: typed errors pass
// through, governor limit expiry becomes a retryable timeout, everything
// else a retryable internal error.
func mapWriteError(err error) error {
	if appErr, ok := apperrors.IsAppError(err); ok {
		return appErr
	}
	if governor.IsTimeoutError(err) {
		return apperrors.Timeout(err)
	}
	return apperrors.InternalError(err)
}
