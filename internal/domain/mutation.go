// Package domain defines the core types of the mutation kernel: caller
// intent (MutationSpec), per-request environment (MutationContext), the
// resolved actor with its permission set, and the envelopes produced by the
// plan/commit pipeline.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Verb is the mutation kind.
type Verb string

const (
	VerbCreate  Verb = "create"
	VerbUpdate  Verb = "update"
	VerbDelete  Verb = "delete"
	VerbRestore Verb = "restore"
	VerbSubmit  Verb = "submit"
	VerbCancel  Verb = "cancel"
	VerbAmend   Verb = "amend"
	VerbApprove Verb = "approve"
	VerbReject  Verb = "reject"
)

// knownVerbs guards action-type parsing; anything else is a validation error.
var knownVerbs = map[Verb]struct{}{
	VerbCreate: {}, VerbUpdate: {}, VerbDelete: {}, VerbRestore: {},
	VerbSubmit: {}, VerbCancel: {}, VerbAmend: {}, VerbApprove: {}, VerbReject: {},
}

// IsKnownVerb reports whether v is a recognized mutation verb.
func IsKnownVerb(v Verb) bool {
	_, ok := knownVerbs[v]
	return ok
}

// ActionType is a namespaced verb such as "sales_order.update".
// The namespace must agree with the entity reference of the request.
type ActionType string

// Parse splits the action type into its namespace and verb.
func (a ActionType) Parse() (namespace string, verb Verb, err error) {
	idx := strings.LastIndex(string(a), ".")
	if idx <= 0 || idx == len(a)-1 {
		return "", "", fmt.Errorf("action type %q is not of the form namespace.verb", a)
	}
	namespace = string(a[:idx])
	verb = Verb(a[idx+1:])
	if !IsKnownVerb(verb) {
		return "", "", fmt.Errorf("action type %q carries unknown verb %q", a, verb)
	}
	return namespace, verb, nil
}

// EntityRef identifies the mutation target. ID is empty for create.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// MutationSpec is the caller's intent. It is immutable once submitted; the
// plan phase works on sanitized copies of Input, never on the original map.
type MutationSpec struct {
	ActionType      ActionType     `json:"action_type"`
	EntityRef       EntityRef      `json:"entity_ref"`
	Input           map[string]any `json:"input,omitempty"`
	ExpectedVersion *int64         `json:"expected_version,omitempty"`
	IdempotencyKey  string         `json:"idempotency_key,omitempty"`
	BatchID         string         `json:"batch_id,omitempty"`
	Reason          string         `json:"reason,omitempty"`
}

// Channel is the execution channel of a mutation call. The governor and the
// system-actor bypass both key off it.
type Channel string

const (
	ChannelInteractive Channel = "interactive"
	ChannelBackground  Channel = "background"
	ChannelReporting   Channel = "reporting"
	ChannelCron        Channel = "cron"
)

// IsSystemChannel reports whether the channel is a recognized system channel.
// Interactive callers never qualify, regardless of claimed identity.
func (c Channel) IsSystemChannel() bool {
	return c == ChannelBackground || c == ChannelCron
}

// SystemActorID is the reserved sentinel identity for kernel-internal
// mutations. The policy bypass requires this id AND a system channel.
const SystemActorID = "system"

// MutationContext is the per-request environment. Supplied by the caller
// (API layer or job worker) and never persisted as-is.
type MutationContext struct {
	RequestID string
	Actor     ResolvedActor
	Channel   Channel
	RemoteIP  string
	UserAgent string
}

// ScopeAssignment grants an actor membership in a company or site.
type ScopeAssignment struct {
	ScopeType string // "company" or "site"
	ScopeID   string
}

// ResolvedActor is the actor's effective authority, computed once per
// mutation from durable role/permission/scope tables.
type ResolvedActor struct {
	TenantID    string
	UserID      string
	RoleIDs     []string
	Permissions []Permission
	Scopes      []ScopeAssignment
}

// HasScope reports whether the actor holds a scope assignment matching
// (scopeType, scopeID).
func (a ResolvedActor) HasScope(scopeType, scopeID string) bool {
	for _, s := range a.Scopes {
		if s.ScopeType == scopeType && s.ScopeID == scopeID {
			return true
		}
	}
	return false
}

// Scope is the breadth of rows a permission applies to.
type Scope string

const (
	ScopeOrg     Scope = "org"
	ScopeSelf    Scope = "self"
	ScopeCompany Scope = "company"
	ScopeSite    Scope = "site"
	ScopeTeam    Scope = "team"
)

// Wildcard matches any entity type or verb in a permission.
const Wildcard = "*"

// FieldRules carries per-permission field write rules. DenyWrite is enforced
// against input patches; AllowWrite is advisory (absence is non-binding).
type FieldRules struct {
	DenyWrite  []string `json:"deny_write,omitempty"`
	AllowWrite []string `json:"allow_write,omitempty"`
}

// Permission grants (entity-type-or-wildcard, verb-or-wildcard) at a scope.
type Permission struct {
	EntityType string     `json:"entity_type"`
	Verb       string     `json:"verb"`
	Scope      Scope      `json:"scope"`
	FieldRules FieldRules `json:"field_rules"`
}

// PreparedMutation is the plan-phase output consumed by the commit executor.
// It lives only for the duration of one mutation call.
type PreparedMutation struct {
	MutationID      string
	Verb            Verb
	Spec            MutationSpec
	Input           map[string]any // sanitized copy, enriched by the workflow before-hook
	StrippedFields  []string       // silently removed by the field write policy, kept for audit
	EntityType      string
	EntityID        string // empty for create
	ExpectedVersion int64  // zero for create
	Current         map[string]any // previous row snapshot; nil for create
	Context         MutationContext
	PreparedAt      time.Time
}

// CommitResult is what one committed mutation produced.
type CommitResult struct {
	EntityID      string
	Before        map[string]any
	After         map[string]any
	VersionBefore int64
	VersionAfter  int64
	AuditLogID    string
}
