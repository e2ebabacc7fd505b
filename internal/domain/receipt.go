package domain

// ReceiptStatus is the terminal status of one mutation call.
type ReceiptStatus string

const (
	ReceiptOK       ReceiptStatus = "ok"
	ReceiptRejected ReceiptStatus = "rejected"
	ReceiptError    ReceiptStatus = "error"
)

// Receipt is the per-mutation outcome record. It is returned to the caller
// inside the response envelope and persisted in the audit row on success.
type Receipt struct {
	RequestID       string        `json:"request_id"`
	MutationID      string        `json:"mutation_id"`
	BatchID         string        `json:"batch_id,omitempty"`
	EntityID        string        `json:"entity_id,omitempty"`
	EntityType      string        `json:"entity_type"`
	VersionBefore   int64         `json:"version_before"`
	VersionAfter    int64         `json:"version_after"`
	Status          ReceiptStatus `json:"status"`
	AuditLogID      string        `json:"audit_log_id,omitempty"`
	ErrorID         string        `json:"error_id,omitempty"`
	ErrorCode       string        `json:"error_code,omitempty"`
	IsClientFault   bool          `json:"is_client_fault,omitempty"`
	Retryable       bool          `json:"retryable,omitempty"`
	RetryAfterMs    int64         `json:"retry_after_ms,omitempty"`
	RetryableReason string        `json:"retryable_reason,omitempty"`
}

// ResponseError is the error half of the response envelope.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta accompanies every response, ok or not.
type ResponseMeta struct {
	RequestID string  `json:"request_id"`
	Receipt   Receipt `json:"receipt"`
}

// Response is the typed envelope returned by the mutation orchestrator.
type Response struct {
	OK    bool           `json:"ok"`
	Data  map[string]any `json:"data,omitempty"`
	Error *ResponseError `json:"error,omitempty"`
	Meta  ResponseMeta   `json:"meta"`
}
