// Package policy renders allow/deny decisions for a specific
// (tenant, entity-type, verb, target-row, field-set) tuple from an actor's
// flattened permission list.
//
// The engine is a pure function over inputs already read from storage: it
// performs no I/O and holds no state.
package policy

import (
	"sort"

	"bizforge.io/platform/internal/domain"
)

// Denial reasons, in evaluation order.
const (
	DenyVerb  = "DENY_VERB"
	DenyScope = "DENY_SCOPE"
	DenyField = "DENY_FIELD"
)

// Decision is the policy outcome.
type Decision struct {
	OK     bool
	Reason string // DENY_* when !OK
	// DeniedFields lists the patch fields that hit the merged deny set.
	DeniedFields []string
	// Merged field rules that survived scope filtering. DenyWrite is the
	// union across surviving permissions; AllowWrite the intersection of
	// non-wildcard allow lists (advisory, not enforced).
	Merged domain.FieldRules
}

// Request is one policy evaluation.
type Request struct {
	Actor      domain.ResolvedActor
	EntityType string
	Verb       domain.Verb
	Channel    domain.Channel
	// Row is the existing row, nil for create.
	Row map[string]any
	// Patch is the input field map, nil for field-less verbs.
	Patch map[string]any
}

// Decide evaluates the request.
//
// A system actor bypasses evaluation only when the actor id equals the
// reserved sentinel AND the channel is a recognized system channel — never
// for interactive callers, even if they claim a system identity.
func Decide(req Request) Decision {
	if req.Actor.UserID == domain.SystemActorID && req.Channel.IsSystemChannel() {
		return Decision{OK: true}
	}

	// (1) verb match: entity type exact-or-wildcard AND verb exact-or-wildcard.
	verbMatched := filterVerb(req.Actor.Permissions, req.EntityType, req.Verb)
	if len(verbMatched) == 0 {
		return Decision{Reason: DenyVerb}
	}

	// (2) scope predicate against the existing row.
	scoped := filterScope(verbMatched, req.Actor, req.Row)
	if len(scoped) == 0 {
		return Decision{Reason: DenyScope}
	}

	// (3) merge field rules across survivors.
	merged := mergeFieldRules(scoped)

	// (4) enforce deny_write against the patch.
	if denied := deniedFields(merged.DenyWrite, req.Patch); len(denied) > 0 {
		return Decision{Reason: DenyField, DeniedFields: denied, Merged: merged}
	}

	return Decision{OK: true, Merged: merged}
}

func filterVerb(perms []domain.Permission, entityType string, verb domain.Verb) []domain.Permission {
	var out []domain.Permission
	for _, p := range perms {
		if p.EntityType != entityType && p.EntityType != domain.Wildcard {
			continue
		}
		if p.Verb != string(verb) && p.Verb != domain.Wildcard {
			continue
		}
		out = append(out, p)
	}
	return out
}

func filterScope(perms []domain.Permission, actor domain.ResolvedActor, row map[string]any) []domain.Permission {
	var out []domain.Permission
	for _, p := range perms {
		if scopeSatisfied(p.Scope, actor, row) {
			out = append(out, p)
		}
	}
	return out
}

// scopeSatisfied evaluates one scope predicate. A nil row (create) always
// passes; a row missing the scope column is treated as org-equivalent.
func scopeSatisfied(scope domain.Scope, actor domain.ResolvedActor, row map[string]any) bool {
	if row == nil {
		return true
	}
	switch scope {
	case domain.ScopeOrg:
		return true
	case domain.ScopeSelf:
		owner, ok := domain.RowString(row, domain.ColOwner)
		if !ok {
			return true
		}
		return owner == actor.UserID
	case domain.ScopeCompany:
		company, ok := domain.RowString(row, domain.ColCompany)
		if !ok {
			return true
		}
		return actor.HasScope("company", company)
	case domain.ScopeSite:
		site, ok := domain.RowString(row, domain.ColSite)
		if !ok {
			return true
		}
		return actor.HasScope("site", site)
	case domain.ScopeTeam:
		// Team membership is deferred; currently always passes.
		return true
	default:
		return false
	}
}

// mergeFieldRules folds the field rules of all surviving permissions.
// deny_write is a set union; allow_write is a set intersection across
// permissions declaring a non-wildcard allow list. Both outputs are sorted
// so the merge is order-independent.
func mergeFieldRules(perms []domain.Permission) domain.FieldRules {
	denySet := map[string]struct{}{}
	var allow map[string]struct{}

	for _, p := range perms {
		for _, f := range p.FieldRules.DenyWrite {
			denySet[f] = struct{}{}
		}
		if len(p.FieldRules.AllowWrite) == 0 || contains(p.FieldRules.AllowWrite, domain.Wildcard) {
			continue
		}
		cur := map[string]struct{}{}
		for _, f := range p.FieldRules.AllowWrite {
			cur[f] = struct{}{}
		}
		if allow == nil {
			allow = cur
			continue
		}
		for f := range allow {
			if _, ok := cur[f]; !ok {
				delete(allow, f)
			}
		}
	}

	return domain.FieldRules{
		DenyWrite:  sortedKeys(denySet),
		AllowWrite: sortedKeys(allow),
	}
}

func deniedFields(denyWrite []string, patch map[string]any) []string {
	if len(denyWrite) == 0 || len(patch) == 0 {
		return nil
	}
	var out []string
	for _, f := range denyWrite {
		if _, ok := patch[f]; ok {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
