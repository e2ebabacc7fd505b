// Package governor computes per-transaction resource limits from the
// execution channel and applies them as the first statements of every
// write transaction.
//
// Limits are applied with SET LOCAL so they are private to the transaction
// and never leak to the next use of a pooled connection. Expiry of a limit
// surfaces as a retryable server error, not a client fault.
package governor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"bizforge.io/platform/internal/config"
	"bizforge.io/platform/internal/domain"
)

// Limits are the resource ceilings for one transaction.
type Limits struct {
	StatementTimeoutMs int64
	IdleTxTimeoutMs    int64
	LockTimeoutMs      int64
	SessionLabel       string
}

// Governor derives Limits from a mutation context.
type Governor struct {
	cfg config.GovernorConfig
}

// New creates a Governor from configuration.
func New(cfg config.GovernorConfig) *Governor {
	return &Governor{cfg: cfg}
}

// LimitsFor computes the limits for the given context. Unknown channels get
// the interactive (tightest) profile.
func (g *Governor) LimitsFor(mctx domain.MutationContext) Limits {
	var ch config.GovernorChannelConfig
	switch mctx.Channel {
	case domain.ChannelBackground, domain.ChannelCron:
		ch = g.cfg.Background
	case domain.ChannelReporting:
		ch = g.cfg.Reporting
	default:
		ch = g.cfg.Interactive
	}

	return Limits{
		StatementTimeoutMs: ch.StatementTimeout.Milliseconds(),
		IdleTxTimeoutMs:    ch.IdleTxTimeout.Milliseconds(),
		LockTimeoutMs:      ch.LockTimeout.Milliseconds(),
		SessionLabel:       sessionLabel(mctx),
	}
}

// Apply executes the limit statements inside tx. Must be the first thing a
// write transaction does.
func (g *Governor) Apply(ctx context.Context, tx pgx.Tx, limits Limits) error {
	stmts := []string{
		fmt.Sprintf("SET LOCAL statement_timeout = %d", limits.StatementTimeoutMs),
		fmt.Sprintf("SET LOCAL idle_in_transaction_session_timeout = %d", limits.IdleTxTimeoutMs),
		fmt.Sprintf("SET LOCAL lock_timeout = %d", limits.LockTimeoutMs),
		fmt.Sprintf("SET LOCAL application_name = '%s'", limits.SessionLabel),
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply governor limit %q: %w", stmt, err)
		}
	}
	return nil
}

// labelSanitizer keeps session labels safe for interpolation into SET LOCAL
// (pg does not support bind parameters there).
var labelSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.:-]`)

// sessionLabel builds the tagged application_name for pg_stat_activity:
// bizforge:<channel>:<tenant>.
func sessionLabel(mctx domain.MutationContext) string {
	channel := string(mctx.Channel)
	if channel == "" {
		channel = string(domain.ChannelInteractive)
	}
	label := fmt.Sprintf("bizforge:%s:%s", channel, mctx.Actor.TenantID)
	label = labelSanitizer.ReplaceAllString(label, "")
	// application_name is capped at 63 bytes by postgres.
	if len(label) > 63 {
		label = label[:63]
	}
	return strings.ToLower(label)
}

// SQLSTATE codes raised when a governor limit expires.
const (
	sqlstateQueryCanceled    = "57014"
	sqlstateLockNotAvailable = "55P03"
)

// IsTimeoutError reports whether err is a governor-limit expiry raised by
// postgres (query_canceled or lock_not_available).
func IsTimeoutError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlstateQueryCanceled || pgErr.Code == sqlstateLockNotAvailable
}
