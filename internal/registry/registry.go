// Package registry is the entity schema catalog: a map from entity-type
// names to storage tables, writable-field sets, and capability flags. The
// kernel treats it as an external collaborator; only the narrow lookup
// contract matters.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"bizforge.io/platform/internal/kernel/fieldpolicy"
)

// FieldType drives input coercion in the plan phase.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBool    FieldType = "bool"
	FieldDate    FieldType = "date"
	FieldJSON    FieldType = "json"
)

// Definition describes one registered entity type.
type Definition struct {
	// Type is the entity-type name, also the action namespace.
	Type string
	// Table is the storage table.
	Table string
	// Fields maps writable field names to their declared types.
	Fields map[string]FieldType
	// FieldRules are the mutability classes enforced by the field
	// write-policy engine.
	FieldRules fieldpolicy.RuleSet
	// Capability flags.
	HasSoftDelete    bool
	HasDocStatus     bool
	HasPostingStatus bool
	// Searchable entities emit a search outbox intent on every mutation.
	Searchable bool
}

// WritableFields returns the sorted writable field names.
func (d Definition) WritableFields() []string {
	out := make([]string, 0, len(d.Fields))
	for f := range d.Fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Registry is a threadsafe in-memory catalog.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds or replaces an entity definition.
func (r *Registry) Register(def Definition) error {
	if def.Type == "" || def.Table == "" {
		return fmt.Errorf("entity definition requires type and table")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
	return nil
}

// Resolve looks up a definition by entity type.
func (r *Registry) Resolve(entityType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[entityType]
	return def, ok
}

// Types returns all registered entity types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
