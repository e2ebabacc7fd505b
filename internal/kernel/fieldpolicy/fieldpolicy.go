// Package fieldpolicy strips or rejects input fields according to
// per-entity field mutability classes. Classes are evaluated in a fixed
// order: immutable, writeOnce, serverOwned, computed, nonNullable.
package fieldpolicy

import (
	"fmt"
	"sort"

	"bizforge.io/platform/internal/domain"
)

// RuleSet declares the mutability classes of one entity's fields. A field
// may appear in at most one class.
type RuleSet struct {
	// Immutable fields may be set on create but never changed afterwards.
	Immutable []string
	// WriteOnce fields may be written while their current value is null.
	WriteOnce []string
	// ServerOwned fields are silently stripped from non-system input.
	ServerOwned []string
	// Computed fields are derived; writing them is always a violation.
	Computed []string
	// NonNullable fields may not be set to null once they hold a value.
	NonNullable []string
}

// Violation describes one hard field-policy violation.
type Violation struct {
	Field  string
	Class  string
	Detail string
}

// Result is the outcome of applying a rule set to an input patch.
type Result struct {
	// Input is the sanitized patch (violating and stripped fields removed).
	Input map[string]any
	// Violations is non-empty when the mutation must be rejected.
	Violations []Violation
	// Stripped lists fields silently removed (kept for audit, not fatal).
	Stripped []string
}

// Apply evaluates the rule set. current is nil on create; systemPrivileged
// lets server-owned fields through (it never relaxes the other classes).
func Apply(rules RuleSet, verb domain.Verb, input map[string]any, current map[string]any, systemPrivileged bool) Result {
	out := Result{Input: make(map[string]any, len(input))}
	for k, v := range input {
		out.Input[k] = v
	}

	// immutable: present in input on anything but create ⇒ hard violation.
	for _, f := range rules.Immutable {
		if _, ok := out.Input[f]; !ok {
			continue
		}
		if verb == domain.VerbCreate {
			continue
		}
		out.Violations = append(out.Violations, Violation{
			Field: f, Class: "immutable",
			Detail: fmt.Sprintf("field %q cannot be changed after create", f),
		})
		delete(out.Input, f)
	}

	// writeOnce: allowed while the current value is null.
	for _, f := range rules.WriteOnce {
		if _, ok := out.Input[f]; !ok {
			continue
		}
		if cur, exists := current[f]; exists && cur != nil {
			out.Violations = append(out.Violations, Violation{
				Field: f, Class: "writeOnce",
				Detail: fmt.Sprintf("field %q is already set", f),
			})
			delete(out.Input, f)
		}
	}

	// serverOwned: silently stripped unless system-privileged. Never a hard
	// violation; callers routinely echo back full rows.
	for _, f := range rules.ServerOwned {
		if _, ok := out.Input[f]; !ok {
			continue
		}
		if systemPrivileged {
			continue
		}
		delete(out.Input, f)
		out.Stripped = append(out.Stripped, f)
	}

	// computed: always a hard violation if present.
	for _, f := range rules.Computed {
		if _, ok := out.Input[f]; !ok {
			continue
		}
		out.Violations = append(out.Violations, Violation{
			Field: f, Class: "computed",
			Detail: fmt.Sprintf("field %q is derived and cannot be written", f),
		})
		delete(out.Input, f)
	}

	// nonNullable: nulling out is a violation only if a value is held.
	for _, f := range rules.NonNullable {
		v, ok := out.Input[f]
		if !ok || v != nil {
			continue
		}
		if cur, exists := current[f]; exists && cur != nil {
			out.Violations = append(out.Violations, Violation{
				Field: f, Class: "nonNullable",
				Detail: fmt.Sprintf("field %q cannot be set to null", f),
			})
			delete(out.Input, f)
		}
	}

	sort.Strings(out.Stripped)
	sort.Slice(out.Violations, func(i, j int) bool {
		return out.Violations[i].Field < out.Violations[j].Field
	})
	return out
}
