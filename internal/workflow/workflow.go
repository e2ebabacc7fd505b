// Package workflow defines the narrow contract between the mutation kernel
// and the workflow-rule evaluator. The evaluator implementation lives
// outside the kernel; only the before/after hook and the edit-window check
// cross the boundary.
package workflow

import (
	"context"

	"bizforge.io/platform/internal/domain"
)

// Phase is the hook phase.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Decision is the hook outcome. The before hook may veto a mutation or
// enrich its input; the after hook runs post-commit and cannot veto.
type Decision struct {
	Proceed       bool
	BlockReason   string
	EnrichedInput map[string]any
}

// Instance is the active workflow instance of an entity, if any.
type Instance struct {
	DefinitionID string
	// CurrentNodes are the node ids the instance currently rests on.
	CurrentNodes []string
	// BlockedVerbs are the verbs the current nodes forbid.
	BlockedVerbs []domain.Verb
}

// Evaluator is the workflow-rule engine as seen from the kernel.
type Evaluator interface {
	// Evaluate runs the before/after hook for one mutation.
	Evaluate(ctx context.Context, phase Phase, spec domain.MutationSpec, current map[string]any, mctx domain.MutationContext) (Decision, error)

	// LoadInstance returns the entity's active workflow instance, or nil.
	LoadInstance(ctx context.Context, entityType, entityID string) (*Instance, error)
}

// CheckEditWindow reports whether the instance's current state forbids the
// verb. A nil instance means no active workflow and never blocks.
func CheckEditWindow(instance *Instance, verb domain.Verb) bool {
	if instance == nil {
		return false
	}
	for _, blocked := range instance.BlockedVerbs {
		if blocked == verb {
			return true
		}
	}
	return false
}

// NoopEvaluator proceeds unconditionally. Used when no workflow engine is
// deployed and as the test default.
type NoopEvaluator struct{}

// Evaluate implements Evaluator.
func (NoopEvaluator) Evaluate(context.Context, Phase, domain.MutationSpec, map[string]any, domain.MutationContext) (Decision, error) {
	return Decision{Proceed: true}, nil
}

// LoadInstance implements Evaluator.
func (NoopEvaluator) LoadInstance(context.Context, string, string) (*Instance, error) {
	return nil, nil
}
