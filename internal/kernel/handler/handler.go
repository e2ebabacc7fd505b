// Package handler defines the per-entity override contract. Most entity
// types ride the generic write path; a registered handler lets a type
// either replace the write for chosen verbs or observe the generic write
// with hooks. The two shapes are mutually exclusive, discriminated by Kind.
package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/registry"
)

// Kind discriminates the handler union. The commit executor switches on it.
type Kind string

const (
	// KindVerb replaces the generic write for the verbs it implements.
	KindVerb Kind = "verb"
	// KindHook keeps the generic write and runs hooks around it.
	KindHook Kind = "hook"
)

// WriteRequest carries everything a verb override needs to perform the
// entity write itself. The override runs inside the commit transaction and
// must honor the expected version exactly like the generic path.
type WriteRequest struct {
	Def      registry.Definition
	Prepared domain.PreparedMutation
}

// VerbFunc performs the entity write for one verb and returns the row as
// it exists after the write.
type VerbFunc func(ctx context.Context, tx pgx.Tx, req WriteRequest) (map[string]any, error)

// VerbFuncs holds the per-verb overrides of a KindVerb handler. Nil entries
// fall back to the generic write.
type VerbFuncs struct {
	Create  VerbFunc
	Update  VerbFunc
	Delete  VerbFunc
	Restore VerbFunc
	Submit  VerbFunc
	Cancel  VerbFunc
	Amend   VerbFunc
	Approve VerbFunc
	Reject  VerbFunc
}

// For returns the override for verb, or nil when the generic path applies.
func (v *VerbFuncs) For(verb domain.Verb) VerbFunc {
	if v == nil {
		return nil
	}
	switch verb {
	case domain.VerbCreate:
		return v.Create
	case domain.VerbUpdate:
		return v.Update
	case domain.VerbDelete:
		return v.Delete
	case domain.VerbRestore:
		return v.Restore
	case domain.VerbSubmit:
		return v.Submit
	case domain.VerbCancel:
		return v.Cancel
	case domain.VerbAmend:
		return v.Amend
	case domain.VerbApprove:
		return v.Approve
	case domain.VerbReject:
		return v.Reject
	}
	return nil
}

// PlanHook adjusts or validates the sanitized input during the plan phase.
// It must be pure: no I/O, no clock reads, no mutation of its arguments.
// Returning a non-nil map replaces the input; returning nil keeps it.
type PlanHook func(input, current map[string]any) (map[string]any, error)

// Hooks holds the observation points of a KindHook handler. Any field may
// be nil.
type Hooks struct {
	PlanCreate  PlanHook
	PlanUpdate  PlanHook
	PlanDelete  PlanHook
	PlanRestore PlanHook

	// AfterEntityWrite runs inside the commit transaction after the generic
	// write, before the audit row. An error aborts the whole transaction.
	AfterEntityWrite func(ctx context.Context, tx pgx.Tx, req WriteRequest, row map[string]any) error
}

// PlanFor returns the plan hook for verb, or nil. Status verbs have no
// plan hooks; their input is empty by construction.
func (h *Hooks) PlanFor(verb domain.Verb) PlanHook {
	if h == nil {
		return nil
	}
	switch verb {
	case domain.VerbCreate:
		return h.PlanCreate
	case domain.VerbUpdate:
		return h.PlanUpdate
	case domain.VerbDelete:
		return h.PlanDelete
	case domain.VerbRestore:
		return h.PlanRestore
	}
	return nil
}

// Handler is the tagged union. Exactly one of Verbs or Hooks is set,
// matching Kind.
type Handler struct {
	Kind  Kind
	Verbs *VerbFuncs
	Hooks *Hooks
}

// Validate rejects malformed unions at registration time.
func (h Handler) Validate() error {
	switch h.Kind {
	case KindVerb:
		if h.Verbs == nil || h.Hooks != nil {
			return fmt.Errorf("verb handler must set Verbs and only Verbs")
		}
	case KindHook:
		if h.Hooks == nil || h.Verbs != nil {
			return fmt.Errorf("hook handler must set Hooks and only Hooks")
		}
	default:
		return fmt.Errorf("unknown handler kind %q", h.Kind)
	}
	return nil
}

// Registry maps entity types to their handlers. Types without a handler
// take the generic write path end to end.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register installs h for entityType, replacing any prior handler.
func (r *Registry) Register(entityType string, h Handler) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("handler for %s: %w", entityType, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[entityType] = h
	return nil
}

// Resolve returns the handler for entityType, if any.
func (r *Registry) Resolve(entityType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[entityType]
	return h, ok
}
