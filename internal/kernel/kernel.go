// Package kernel is the single entry point for entity mutations. Every
// write, whatever its origin (API call, background job, import), flows
// through Orchestrator.Mutate: plan, commit, deliver, receipt.
package kernel

import (
	"context"

	"go.uber.org/zap"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/kernel/commit"
	"bizforge.io/platform/internal/kernel/deliver"
	"bizforge.io/platform/internal/kernel/plan"
	apperrors "bizforge.io/platform/internal/pkg/errors"
	"bizforge.io/platform/internal/pkg/logger"
	"bizforge.io/platform/internal/registry"
)

// Orchestrator runs the full mutation pipeline.
type Orchestrator struct {
	registry *registry.Registry
	planner  *plan.Builder
	commits  *commit.Executor
	deliver  *deliver.Executor
}

// New wires an Orchestrator.
func New(reg *registry.Registry, planner *plan.Builder, commits *commit.Executor, d *deliver.Executor) *Orchestrator {
	return &Orchestrator{registry: reg, planner: planner, commits: commits, deliver: d}
}

// Mutate executes one mutation end to end and always returns a response
// envelope; failures are encoded in it, never raised past this boundary.
func (o *Orchestrator) Mutate(ctx context.Context, spec domain.MutationSpec, mctx domain.MutationContext) domain.Response {
	res, err := o.planner.Build(ctx, spec, mctx)
	if err != nil {
		return o.failure(spec, mctx, res.MutationID, err)
	}

	// Idempotent replay: the original receipt stands in for new work.
	if res.Replayed != nil {
		logger.L().Info("mutation replayed",
			zap.String("request_id", mctx.RequestID),
			zap.String("mutation_id", res.Replayed.MutationID),
			zap.String("idempotency_key", spec.IdempotencyKey))
		return domain.Response{
			OK: true,
			Data: map[string]any{
				"entity_id": res.Replayed.EntityID,
				"version":   res.Replayed.VersionAfter,
				"replayed":  true,
			},
			Meta: domain.ResponseMeta{RequestID: mctx.RequestID, Receipt: *res.Replayed},
		}
	}

	def, ok := o.registry.Resolve(res.Prepared.EntityType)
	if !ok {
		// The planner resolved it moments ago; losing it now means a
		// concurrent deregistration.
		return o.failure(spec, mctx, res.MutationID,
			apperrors.ValidationFailed("entity type no longer registered"))
	}

	result, receipt, err := o.commits.Execute(ctx, def, res.Prepared)
	if err != nil {
		return o.failure(spec, mctx, res.MutationID, err)
	}

	o.deliver.Fire(spec, mctx, result)

	logger.L().Info("mutation ok",
		zap.String("request_id", mctx.RequestID),
		zap.String("mutation_id", res.MutationID),
		zap.String("action", string(spec.ActionType)),
		zap.String("entity_id", result.EntityID),
		zap.Int64("version", result.VersionAfter))

	return domain.Response{
		OK: true,
		Data: map[string]any{
			"entity_id": result.EntityID,
			"version":   result.VersionAfter,
			"entity":    result.After,
		},
		Meta: domain.ResponseMeta{RequestID: mctx.RequestID, Receipt: receipt},
	}
}

// failure renders a typed failure as a response envelope. The error id is
// CODE:mutation-id so a support ticket can be joined back to logs.
func (o *Orchestrator) failure(spec domain.MutationSpec, mctx domain.MutationContext, mutationID string, err error) domain.Response {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		appErr = apperrors.InternalError(err)
	}

	status := domain.ReceiptError
	if appErr.ClientFault {
		status = domain.ReceiptRejected
	}
	receipt := domain.Receipt{
		RequestID:     mctx.RequestID,
		MutationID:    mutationID,
		BatchID:       spec.BatchID,
		EntityID:      spec.EntityRef.ID,
		EntityType:    spec.EntityRef.Type,
		Status:        status,
		ErrorID:       appErr.Code + ":" + mutationID,
		ErrorCode:     appErr.Code,
		IsClientFault: appErr.ClientFault,
		Retryable:     appErr.Retryable,
		RetryAfterMs:  appErr.RetryAfterMs,
	}
	if appErr.Retryable {
		receipt.RetryableReason = appErr.Message
	}

	log := logger.L().With(
		zap.String("request_id", mctx.RequestID),
		zap.String("mutation_id", mutationID),
		zap.String("action", string(spec.ActionType)),
		zap.String("error_code", appErr.Code))
	if appErr.ClientFault {
		log.Info("mutation rejected", zap.String("reason", appErr.Message))
	} else {
		log.Error("mutation failed", zap.Error(appErr))
	}

	return domain.Response{
		OK:    false,
		Error: &domain.ResponseError{Code: appErr.Code, Message: appErr.Message},
		Meta:  domain.ResponseMeta{RequestID: mctx.RequestID, Receipt: receipt},
	}
}
