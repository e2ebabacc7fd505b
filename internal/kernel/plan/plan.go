// Package plan implements the read-and-validate half of a mutation call.
// The builder runs every guard that does not need the commit transaction
// (rate limit, shape validation, lifecycle, posting lock, edit window,
// policy, field write policy, workflow before-hook) and produces the
// PreparedMutation the commit executor consumes. Rejections surface as
// typed errors; the builder never writes.
package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/kernel/fieldpolicy"
	"bizforge.io/platform/internal/kernel/handler"
	"bizforge.io/platform/internal/kernel/lifecycle"
	"bizforge.io/platform/internal/kernel/policy"
	"bizforge.io/platform/internal/kernel/ratelimit"
	apperrors "bizforge.io/platform/internal/pkg/errors"
	"bizforge.io/platform/internal/registry"
	"bizforge.io/platform/internal/workflow"
)

// RowReader loads existing entity rows. Satisfied by repository.EntityStore.
type RowReader interface {
	ReadRow(ctx context.Context, def registry.Definition, tenantID, id string) (map[string]any, error)
}

// ReceiptFinder serves the create idempotency replay. Satisfied by
// repository.AuditStore.
type ReceiptFinder interface {
	FindReceiptByIdempotencyKey(ctx context.Context, tenantID, action, key string) (*domain.Receipt, error)
}

// Builder assembles PreparedMutations.
type Builder struct {
	registry *registry.Registry
	handlers *handler.Registry
	limiter  ratelimit.Store
	rows     RowReader
	receipts ReceiptFinder
	wf       workflow.Evaluator
}

// NewBuilder wires a Builder.
func NewBuilder(reg *registry.Registry, handlers *handler.Registry, limiter ratelimit.Store, rows RowReader, receipts ReceiptFinder, wf workflow.Evaluator) *Builder {
	return &Builder{
		registry: reg,
		handlers: handlers,
		limiter:  limiter,
		rows:     rows,
		receipts: receipts,
		wf:       wf,
	}
}

// Result is the plan outcome. Exactly one of Prepared or Replayed is set on
// success; MutationID is always set so rejections can carry an error id.
type Result struct {
	MutationID string
	Prepared   *domain.PreparedMutation
	// Replayed is the prior receipt when the create idempotency key matched
	// an earlier committed mutation. No new work happens in that case.
	Replayed *domain.Receipt
}

// statusVerbs take no input; their entire effect is the status transition.
var statusVerbs = map[domain.Verb]struct{}{
	domain.VerbDelete: {}, domain.VerbRestore: {},
	domain.VerbSubmit: {}, domain.VerbCancel: {}, domain.VerbAmend: {},
	domain.VerbApprove: {}, domain.VerbReject: {},
}

// Build runs the full plan sequence for one mutation.
func (b *Builder) Build(ctx context.Context, spec domain.MutationSpec, mctx domain.MutationContext) (Result, error) {
	res := Result{MutationID: uuid.Must(uuid.NewV7()).String()}

	// Admission first: a rate-limited caller pays for nothing else.
	if d := b.limiter.Allow(mctx.Actor.TenantID, string(mctx.Channel)); !d.Allowed {
		retryMs := d.RetryAfter.Milliseconds()
		if retryMs < 1 {
			retryMs = 1
		}
		return res, apperrors.RateLimited(retryMs)
	}

	namespace, verb, err := spec.ActionType.Parse()
	if err != nil {
		return res, apperrors.ValidationFailed(err.Error())
	}
	if spec.EntityRef.Type == "" {
		return res, apperrors.ValidationFailed("entity_ref.type is required")
	}
	if namespace != spec.EntityRef.Type {
		return res, apperrors.ValidationFailed(fmt.Sprintf(
			"action namespace %q does not match entity type %q", namespace, spec.EntityRef.Type))
	}

	def, ok := b.registry.Resolve(spec.EntityRef.Type)
	if !ok {
		return res, apperrors.ValidationFailed(fmt.Sprintf("unknown entity type %q", spec.EntityRef.Type))
	}

	if err := checkRefShape(spec, verb); err != nil {
		return res, err
	}

	input, fieldErrs := sanitizeInput(def, verb, spec.Input)
	if len(fieldErrs) > 0 {
		return res, apperrors.ValidationFailed("input validation failed").WithFieldErrors(fieldErrs)
	}

	// Create idempotency: same (tenant, action, key) replays the original
	// receipt instead of creating a second entity.
	if verb == domain.VerbCreate && spec.IdempotencyKey != "" {
		prior, err := b.receipts.FindReceiptByIdempotencyKey(ctx,
			mctx.Actor.TenantID, string(spec.ActionType), spec.IdempotencyKey)
		if err != nil {
			return res, apperrors.InternalError(err)
		}
		if prior != nil {
			res.Replayed = prior
			return res, nil
		}
	}

	h, hasHandler := b.handlers.Resolve(def.Type)

	// Load the target row for everything but create.
	var current map[string]any
	if verb != domain.VerbCreate {
		current, err = b.rows.ReadRow(ctx, def, mctx.Actor.TenantID, spec.EntityRef.ID)
		if err != nil {
			return res, apperrors.InternalError(err)
		}
		if current == nil {
			return res, apperrors.EntityNotFound(def.Type, spec.EntityRef.ID)
		}
		if def.HasSoftDelete && verb != domain.VerbRestore {
			if deleted, ok := current[domain.ColDeleted].(bool); ok && deleted {
				// Soft-deleted rows are invisible except to restore.
				return res, apperrors.EntityNotFound(def.Type, spec.EntityRef.ID)
			}
		}
		if v := domain.RowVersion(current); spec.ExpectedVersion != nil && v != *spec.ExpectedVersion {
			return res, apperrors.VersionConflict(def.Type, spec.EntityRef.ID)
		}
	}

	// Lifecycle guard and posting lock, in that order. Both absolute.
	docStatus, _ := domain.RowString(current, domain.ColDocStatus)
	if err := lifecycle.Check(domain.DocStatus(docStatus), def.HasDocStatus, verb); err != nil {
		return res, err
	}
	postingStatus, _ := domain.RowString(current, domain.ColPostingStatus)
	if err := lifecycle.CheckPosting(domain.PostingStatus(postingStatus), def.HasPostingStatus, verb); err != nil {
		return res, err
	}

	// Edit window: an active workflow instance can park a document in a
	// state where certain verbs are closed.
	if verb != domain.VerbCreate {
		instance, err := b.wf.LoadInstance(ctx, def.Type, spec.EntityRef.ID)
		if err != nil {
			return res, apperrors.InternalError(err)
		}
		if workflow.CheckEditWindow(instance, verb) {
			return res, apperrors.LifecycleDenied(apperrors.ReasonEditWindowClosed,
				fmt.Sprintf("workflow state closes %s for this document", verb))
		}
	}

	decision := policy.Decide(policy.Request{
		Actor:      mctx.Actor,
		EntityType: def.Type,
		Verb:       verb,
		Channel:    mctx.Channel,
		Row:        current,
		Patch:      input,
	})
	if !decision.OK {
		return res, apperrors.PolicyDenied(decision.Reason, policyMessage(decision))
	}

	// Workflow before-hook: may veto or enrich.
	wfDecision, err := b.wf.Evaluate(ctx, workflow.PhaseBefore, spec, current, mctx)
	if err != nil {
		return res, apperrors.InternalError(err)
	}
	if !wfDecision.Proceed {
		return res, apperrors.LifecycleDenied(apperrors.ReasonWorkflowBlocked, wfDecision.BlockReason)
	}
	if wfDecision.EnrichedInput != nil {
		input = wfDecision.EnrichedInput
	}

	// Entity plan hook (pure), if registered.
	if hasHandler && h.Kind == handler.KindHook {
		if hook := h.Hooks.PlanFor(verb); hook != nil {
			replaced, err := hook(input, current)
			if err != nil {
				return res, apperrors.ValidationFailed(err.Error())
			}
			if replaced != nil {
				input = replaced
			}
		}
	}

	systemPrivileged := mctx.Actor.UserID == domain.SystemActorID && mctx.Channel.IsSystemChannel()
	fp := fieldpolicy.Apply(def.FieldRules, verb, input, current, systemPrivileged)
	if len(fp.Violations) > 0 {
		errs := make([]apperrors.FieldError, 0, len(fp.Violations))
		for _, v := range fp.Violations {
			errs = append(errs, apperrors.FieldError{Field: v.Field, Code: v.Class, Message: v.Detail})
		}
		return res, apperrors.ValidationFailed("field policy violated").WithFieldErrors(errs)
	}

	var expectedVersion int64
	if spec.ExpectedVersion != nil {
		expectedVersion = *spec.ExpectedVersion
	}
	res.Prepared = &domain.PreparedMutation{
		MutationID:      res.MutationID,
		Verb:            verb,
		Spec:            spec,
		Input:           fp.Input,
		StrippedFields:  fp.Stripped,
		EntityType:      def.Type,
		EntityID:        spec.EntityRef.ID,
		ExpectedVersion: expectedVersion,
		Current:         current,
		Context:         mctx,
		PreparedAt:      time.Now().UTC(),
	}
	return res, nil
}

// checkRefShape enforces the per-verb presence rules: create forbids id and
// expected version (the kernel assigns both); every other verb requires
// both.
func checkRefShape(spec domain.MutationSpec, verb domain.Verb) error {
	if verb == domain.VerbCreate {
		if spec.EntityRef.ID != "" {
			return apperrors.ValidationFailed("create does not accept entity_ref.id")
		}
		if spec.ExpectedVersion != nil {
			return apperrors.ValidationFailed("create does not accept expected_version")
		}
		if len(spec.Input) == 0 {
			return apperrors.ValidationFailed("create requires input")
		}
		return nil
	}

	if spec.EntityRef.ID == "" {
		return apperrors.ValidationFailed(string(verb) + " requires entity_ref.id")
	}
	if spec.ExpectedVersion == nil {
		return apperrors.ValidationFailed(string(verb) + " requires expected_version")
	}
	if _, statusOnly := statusVerbs[verb]; statusOnly && len(spec.Input) > 0 {
		return apperrors.ValidationFailed(string(verb) + " does not accept input")
	}
	return nil
}

// sanitizeInput copies the caller's input, silently dropping invariant
// system columns, rejecting unknown fields, and coercion-checking known
// ones against their declared types. The caller's map is never mutated.
func sanitizeInput(def registry.Definition, verb domain.Verb, input map[string]any) (map[string]any, []apperrors.FieldError) {
	if len(input) == 0 {
		return map[string]any{}, nil
	}

	system := make(map[string]struct{}, len(domain.SystemColumns))
	for _, c := range domain.SystemColumns {
		system[c] = struct{}{}
	}

	out := make(map[string]any, len(input))
	var errs []apperrors.FieldError
	for k, v := range input {
		if _, ok := system[k]; ok {
			continue
		}
		ft, known := def.Fields[k]
		if !known {
			errs = append(errs, apperrors.FieldError{
				Field: k, Code: "UNKNOWN_FIELD",
				Message: fmt.Sprintf("field %q is not writable on %s", k, def.Type),
			})
			continue
		}
		if v != nil && !typeMatches(ft, v) {
			errs = append(errs, apperrors.FieldError{
				Field: k, Code: "TYPE_MISMATCH",
				Message: fmt.Sprintf("field %q expects %s", k, ft),
			})
			continue
		}
		out[k] = v
	}
	return out, errs
}

// typeMatches checks a decoded JSON value against a declared field type.
func typeMatches(ft registry.FieldType, v any) bool {
	switch ft {
	case registry.FieldString:
		_, ok := v.(string)
		return ok
	case registry.FieldNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case registry.FieldBool:
		_, ok := v.(bool)
		return ok
	case registry.FieldDate:
		s, ok := v.(string)
		if !ok {
			return false
		}
		if _, err := time.Parse(time.RFC3339, s); err == nil {
			return true
		}
		_, err := time.Parse("2006-01-02", s)
		return err == nil
	case registry.FieldJSON:
		return true
	default:
		return false
	}
}

func policyMessage(d policy.Decision) string {
	switch d.Reason {
	case policy.DenyVerb:
		return "no permission grants this verb"
	case policy.DenyScope:
		return "no permission scope covers this document"
	case policy.DenyField:
		return fmt.Sprintf("fields denied by policy: %v", d.DeniedFields)
	default:
		return "denied"
	}
}
