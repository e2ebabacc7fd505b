// Package lifecycle implements the document-status state machine that
// vetoes verbs illegal for the current state, plus the narrower posting
// lock. Both run before policy and are absolute: no role can override them.
package lifecycle

import (
	"bizforge.io/platform/internal/domain"
	apperrors "bizforge.io/platform/internal/pkg/errors"
)

// Check vetoes verbs illegal for the document's current status. Entities
// without a doc status (hasStatus false) bypass entirely, as does create
// (no existing row).
func Check(status domain.DocStatus, hasStatus bool, verb domain.Verb) error {
	if !hasStatus || verb == domain.VerbCreate {
		return nil
	}

	switch status {
	case domain.DocDraft:
		// All verbs permitted in draft, subject to policy.
		return nil

	case domain.DocSubmitted:
		switch verb {
		case domain.VerbUpdate, domain.VerbDelete:
			return apperrors.LifecycleDenied(apperrors.ReasonSubmittedImmutable,
				"submitted documents are immutable")
		case domain.VerbSubmit:
			return apperrors.LifecycleDenied(apperrors.ReasonAlreadySubmitted,
				"document is already submitted")
		default:
			return nil
		}

	case domain.DocActive:
		switch verb {
		case domain.VerbSubmit, domain.VerbApprove, domain.VerbReject:
			return apperrors.LifecycleDenied(apperrors.ReasonActiveNoResubmit,
				"active documents cannot re-enter submission")
		default:
			return nil
		}

	case domain.DocCancelled:
		if verb == domain.VerbRestore {
			return nil
		}
		return apperrors.LifecycleDenied(apperrors.ReasonCancelledReadOnly,
			"cancelled documents only permit restore")

	case domain.DocAmended:
		return apperrors.LifecycleDenied(apperrors.ReasonAmendedReadOnly,
			"amended documents are read-only")

	default:
		// Unknown status: treat as draft rather than bricking the row.
		return nil
	}
}

// CheckPosting enforces the posting lock: posted documents reject
// update/delete, and in-flight posting transitions reject every mutating
// verb with a distinct reason. Create bypasses.
func CheckPosting(status domain.PostingStatus, hasStatus bool, verb domain.Verb) error {
	if !hasStatus || verb == domain.VerbCreate {
		return nil
	}

	switch status {
	case domain.PostingPosted:
		if verb == domain.VerbUpdate || verb == domain.VerbDelete {
			return apperrors.LifecycleDenied(apperrors.ReasonPostedImmutable,
				"posted documents cannot be updated or deleted")
		}
		return nil

	case domain.PostingPosting:
		return apperrors.LifecycleDenied(apperrors.ReasonPostingInFlight,
			"document is being posted")

	case domain.PostingReversing:
		return apperrors.LifecycleDenied(apperrors.ReasonReversingInFlight,
			"document posting is being reversed")

	default:
		return nil
	}
}
