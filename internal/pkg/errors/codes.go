package errors

import "net/http"

// Mutation taxonomy codes. The first five plus RATE_LIMITED are client
// faults: deterministic, non-retryable without changing the request.
// INTERNAL_ERROR and database timeouts are retryable server faults.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodePolicyDenied     = "POLICY_DENIED"
	CodeLifecycleDenied  = "LIFECYCLE_DENIED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflictVersion  = "CONFLICT_VERSION"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Lifecycle rejection reasons carried in the message of a LIFECYCLE_DENIED
// error. They are stable strings so callers and tests can match on them.
const (
	ReasonSubmittedImmutable = "SUBMITTED_IMMUTABLE"
	ReasonAlreadySubmitted   = "ALREADY_SUBMITTED"
	ReasonActiveNoResubmit   = "ACTIVE_NO_RESUBMIT"
	ReasonCancelledReadOnly  = "CANCELLED_READ_ONLY"
	ReasonAmendedReadOnly    = "AMENDED_READ_ONLY"
	ReasonPostedImmutable    = "POSTED_DOCUMENT_IMMUTABLE"
	ReasonPostingInFlight    = "POSTING_IN_PROGRESS"
	ReasonReversingInFlight  = "REVERSAL_IN_PROGRESS"
	ReasonEditWindowClosed   = "EDIT_WINDOW_CLOSED"
	ReasonWorkflowBlocked    = "WORKFLOW_BLOCKED"
)

// Policy denial reasons.
const (
	ReasonDenyVerb  = "DENY_VERB"
	ReasonDenyScope = "DENY_SCOPE"
	ReasonDenyField = "DENY_FIELD"
)

// Job quota denial reasons.
const (
	ReasonMaxConcurrent = "MAX_CONCURRENT"
	ReasonEnqueueRate   = "ENQUEUE_RATE"
)

// ValidationFailed creates a VALIDATION_FAILED client fault.
func ValidationFailed(message string) *AppError {
	return New(CodeValidationFailed, message, http.StatusBadRequest).markClient()
}

// PolicyDenied creates a POLICY_DENIED client fault carrying the denial
// reason (DENY_VERB, DENY_SCOPE, DENY_FIELD).
func PolicyDenied(reason, message string) *AppError {
	return New(CodePolicyDenied, reason+": "+message, http.StatusForbidden).markClient()
}

// LifecycleDenied creates a LIFECYCLE_DENIED client fault carrying the
// stable rejection reason.
func LifecycleDenied(reason, message string) *AppError {
	return New(CodeLifecycleDenied, reason+": "+message, http.StatusConflict).markClient()
}

// EntityNotFound creates a NOT_FOUND client fault.
func EntityNotFound(entityType, id string) *AppError {
	return Wrap(ErrNotFound, CodeNotFound, entityType+" "+id+" not found", http.StatusNotFound).markClient()
}

// VersionConflict creates a CONFLICT_VERSION client fault, distinct from
// NOT_FOUND: the row exists but its version already advanced.
func VersionConflict(entityType, id string) *AppError {
	return Wrap(ErrVersionConflict, CodeConflictVersion,
		"stale version for "+entityType+" "+id+"; re-read and retry", http.StatusConflict).markClient()
}

// RateLimited creates a RATE_LIMITED fault with a retry-after hint.
// Rate limiting is a client fault (the request itself is fine to retry
// after the window) but still carries the retryable hint for clients.
func RateLimited(retryAfterMs int64) *AppError {
	e := New(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).markClient()
	e.Retryable = true
	e.RetryAfterMs = retryAfterMs
	return e
}

// InternalError creates a retryable INTERNAL_ERROR server fault.
func InternalError(err error) *AppError {
	return Wrap(err, CodeInternalError, "internal error", http.StatusInternalServerError).
		markRetryable("transient server error")
}

// Timeout creates a retryable INTERNAL_ERROR for governor limit expiry.
// Expiry of a statement/lock timeout is a server fault, not a client fault.
func Timeout(err error) *AppError {
	e := Wrap(err, CodeInternalError, "transaction resource limit expired", http.StatusServiceUnavailable)
	return e.markRetryable("statement or lock timeout")
}
