// Package deliver runs the fire-and-forget effects of a committed
// mutation: cache invalidation, the workflow after-hook, and usage
// metering. Delivery happens on the detached worker pool after the commit
// transaction has returned; the caller's receipt never depends on it and
// every failure is logged and swallowed.
package deliver

import (
	"context"

	"go.uber.org/zap"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/pkg/logger"
	"bizforge.io/platform/internal/pkg/worker"
	"bizforge.io/platform/internal/workflow"
)

// CacheInvalidator drops cached reads of a changed entity.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID, entityType, entityID string) error
}

// NoopCache is the default when no cache layer is deployed.
type NoopCache struct{}

// Invalidate implements CacheInvalidator.
func (NoopCache) Invalidate(context.Context, string, string, string) error { return nil }

// UsageMeter counts committed mutations per tenant.
type UsageMeter interface {
	IncrementMutations(ctx context.Context, tenantID string) error
}

// Executor fires post-commit effects.
type Executor struct {
	pools *worker.Pools
	cache CacheInvalidator
	wf    workflow.Evaluator
	usage UsageMeter
}

// NewExecutor wires an Executor.
func NewExecutor(pools *worker.Pools, cache CacheInvalidator, wf workflow.Evaluator, usage UsageMeter) *Executor {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Executor{pools: pools, cache: cache, wf: wf, usage: usage}
}

// Fire schedules the post-commit effects for one committed mutation and
// returns immediately. The detached task runs on the service lifecycle
// context so it survives the caller's response.
func (e *Executor) Fire(spec domain.MutationSpec, mctx domain.MutationContext, result domain.CommitResult) {
	entityType := spec.EntityRef.Type
	err := e.pools.SubmitDetached("deliver", func(ctx context.Context) {
		if err := e.cache.Invalidate(ctx, mctx.Actor.TenantID, entityType, result.EntityID); err != nil {
			logger.L().Warn("cache invalidation failed",
				zap.String("entity_type", entityType),
				zap.String("entity_id", result.EntityID),
				zap.Error(err))
		}

		if _, err := e.wf.Evaluate(ctx, workflow.PhaseAfter, spec, result.After, mctx); err != nil {
			logger.L().Warn("workflow after-hook failed",
				zap.String("entity_type", entityType),
				zap.String("entity_id", result.EntityID),
				zap.Error(err))
		}

		if err := e.usage.IncrementMutations(ctx, mctx.Actor.TenantID); err != nil {
			logger.L().Warn("usage metering failed",
				zap.String("tenant_id", mctx.Actor.TenantID),
				zap.Error(err))
		}
	})
	if err != nil {
		// Pool saturation or shutdown. The mutation is already durable;
		// only the soft effects are lost.
		logger.L().Warn("deliver submit failed",
			zap.String("entity_id", result.EntityID),
			zap.Error(err))
	}
}
