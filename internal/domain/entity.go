package domain

// Invariant columns every mutable entity table carries. The generic write
// path stamps these; callers may never set them directly.
const (
	ColID        = "id"
	ColTenantID  = "tenant_id"
	ColVersion   = "version"
	ColDeleted   = "is_deleted"
	ColDeletedAt = "deleted_at"
	ColDeletedBy = "deleted_by"
	ColCreatedAt = "created_at"
	ColCreatedBy = "created_by"
	ColUpdatedAt = "updated_at"
	ColUpdatedBy = "updated_by"

	// Optional document columns.
	ColDocStatus     = "doc_status"
	ColPostingStatus = "posting_status"

	// Conventional scope columns consulted by the policy engine.
	ColOwner   = "owner_id"
	ColCompany = "company_id"
	ColSite    = "site_id"
)

// SystemColumns are stripped from caller input before any other field check.
var SystemColumns = []string{
	ColID, ColTenantID, ColVersion,
	ColDeleted, ColDeletedAt, ColDeletedBy,
	ColCreatedAt, ColCreatedBy, ColUpdatedAt, ColUpdatedBy,
	ColDocStatus, ColPostingStatus,
}

// DocStatus is the coarse-grained lifecycle state of a document entity.
type DocStatus string

const (
	DocDraft     DocStatus = "draft"
	DocSubmitted DocStatus = "submitted"
	DocActive    DocStatus = "active"
	DocCancelled DocStatus = "cancelled"
	DocAmended   DocStatus = "amended"
)

// PostingStatus is the financial posting state of a document entity.
type PostingStatus string

const (
	PostingNone      PostingStatus = ""
	PostingPosting   PostingStatus = "posting"
	PostingPosted    PostingStatus = "posted"
	PostingReversing PostingStatus = "reversing"
)

// RowString reads a string column from a row snapshot, tolerating nil rows
// and absent or null columns.
func RowString(row map[string]any, col string) (string, bool) {
	if row == nil {
		return "", false
	}
	v, ok := row[col]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// RowVersion reads the version column from a row snapshot. Versions arrive
// as int64 from pgx but as float64 when round-tripped through JSON.
func RowVersion(row map[string]any) int64 {
	if row == nil {
		return 0
	}
	switch v := row[ColVersion].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
