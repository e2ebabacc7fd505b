package domain

import "time"

// IntentKind classifies an outbox intent for downstream routing.
type IntentKind string

const (
	IntentWorkflow    IntentKind = "workflow"
	IntentSearch      IntentKind = "search"
	IntentWebhook     IntentKind = "webhook"
	IntentIntegration IntentKind = "integration"
)

// IntentStatus is the delivery state of a persisted intent. The kernel only
// ever writes pending rows; the relay advances them.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentProcessed IntentStatus = "processed"
	IntentFailed    IntentStatus = "failed"
)

// OutboxIntent is a deduplicated event intent written in the same
// transaction as the entity change. At most one row per (tenant, DedupKey)
// ever exists.
type OutboxIntent struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	TraceID    string         `json:"trace_id"`
	DedupKey   string         `json:"dedup_key"`
	Kind       IntentKind     `json:"kind"`
	Event      string         `json:"event"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	Status     IntentStatus   `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}
