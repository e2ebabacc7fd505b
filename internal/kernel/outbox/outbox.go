// Package outbox builds the event intents a committed mutation leaves
// behind. Every mutation gets a workflow intent; searchable entity types
// additionally get a search-reindex intent. The dedup key makes retried
// commits collapse to a single downstream event per intent.
package outbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/jackc/pgx/v5"

	"bizforge.io/platform/internal/domain"
	"bizforge.io/platform/internal/registry"
)

// Store is the persistence half, satisfied by repository.OutboxStore.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, intent domain.OutboxIntent) (bool, error)
}

// Writer turns commit results into outbox rows inside the commit
// transaction.
type Writer struct {
	store Store
}

// NewWriter creates a Writer on store.
func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// Commit describes the committed mutation the intents derive from.
type Commit struct {
	TenantID   string
	TraceID    string
	EntityType string
	EntityID   string
	Verb       domain.Verb
	Version    int64
	Diff       map[string]any
}

// Write inserts the intents for one commit. Insert-if-absent semantics in
// the store make this safe to call again for the same logical commit.
func (w *Writer) Write(ctx context.Context, tx pgx.Tx, def registry.Definition, c Commit) error {
	intents := Build(def, c)
	for _, intent := range intents {
		if _, err := w.store.Insert(ctx, tx, intent); err != nil {
			return fmt.Errorf("write %s intent: %w", intent.Kind, err)
		}
	}
	return nil
}

// Build computes the intents for one commit without persisting them.
func Build(def registry.Definition, c Commit) []domain.OutboxIntent {
	event := fmt.Sprintf("%s.%s", c.EntityType, c.Verb)
	now := time.Now().UTC()

	workflowPayload := map[string]any{
		"entity_type": c.EntityType,
		"entity_id":   c.EntityID,
		"verb":        string(c.Verb),
		"version":     c.Version,
		"diff":        stableDiff(c.Diff),
	}
	intents := []domain.OutboxIntent{{
		ID:         uuid.Must(uuid.NewV7()).String(),
		TenantID:   c.TenantID,
		TraceID:    c.TraceID,
		DedupKey:   DedupKey(domain.IntentWorkflow, event, c.EntityType, c.EntityID, workflowPayload),
		Kind:       domain.IntentWorkflow,
		Event:      event,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Payload:    workflowPayload,
		Status:     domain.IntentPending,
		CreatedAt:  now,
	}}

	if def.Searchable {
		searchPayload := map[string]any{
			"entity_type": c.EntityType,
			"entity_id":   c.EntityID,
			"version":     c.Version,
		}
		intents = append(intents, domain.OutboxIntent{
			ID:         uuid.Must(uuid.NewV7()).String(),
			TenantID:   c.TenantID,
			TraceID:    c.TraceID,
			DedupKey:   DedupKey(domain.IntentSearch, event, c.EntityType, c.EntityID, searchPayload),
			Kind:       domain.IntentSearch,
			Event:      event,
			EntityType: c.EntityType,
			EntityID:   c.EntityID,
			Payload:    searchPayload,
			Status:     domain.IntentPending,
			CreatedAt:  now,
		})
	}
	return intents
}

// volatileColumns are stamped fresh on every write attempt. Keeping them in
// the payload would give a retried commit a different dedup key, defeating
// the insert-if-absent collapse.
var volatileColumns = map[string]struct{}{
	domain.ColCreatedAt: {},
	domain.ColUpdatedAt: {},
	domain.ColDeletedAt: {},
}

// stableDiff copies the diff minus the volatile timestamp columns.
func stableDiff(diff map[string]any) map[string]any {
	out := make(map[string]any, len(diff))
	for k, v := range diff {
		if _, ok := volatileColumns[k]; ok {
			continue
		}
		out[k] = v
	}
	return out
}

// DedupKey derives the stable identity of an intent from its semantic
// content. Canonicalization (RFC 8785) makes the hash independent of map
// iteration order and encoder whitespace.
func DedupKey(kind domain.IntentKind, event, entityType, entityID string, payload map[string]any) string {
	raw, err := json.Marshal(map[string]any{
		"kind":        string(kind),
		"event":       event,
		"entity_type": entityType,
		"entity_id":   entityID,
		"payload":     payload,
	})
	if err != nil {
		// Payload came out of json.Unmarshal or literal maps; marshal
		// cannot fail on those shapes.
		panic(fmt.Sprintf("dedup key marshal: %v", err))
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		panic(fmt.Sprintf("dedup key canonicalize: %v", err))
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
