// Package handlers implements the HTTP surface of the mutation kernel.
// The API layer is deliberately thin: it authenticates, resolves the
// caller's authority, and forwards to the orchestrator. Every guard lives
// in the kernel so other entry points (jobs, imports) get the same
// treatment.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"bizforge.io/platform/internal/api/middleware"
	"bizforge.io/platform/internal/domain"
	apperrors "bizforge.io/platform/internal/pkg/errors"
)

// ChannelHeader selects the execution channel of a call. Absent or unknown
// values fall back to interactive, the tightest governor profile.
const ChannelHeader = "X-Channel"

// Mutator is the kernel entry point as seen from HTTP.
type Mutator interface {
	Mutate(ctx context.Context, spec domain.MutationSpec, mctx domain.MutationContext) domain.Response
}

// ActorResolver loads the caller's effective authority.
type ActorResolver interface {
	Resolve(ctx context.Context, tenantID, userID string) (domain.ResolvedActor, error)
}

// Server holds the handler dependencies.
type Server struct {
	kernel   Mutator
	identity ActorResolver
}

// NewServer creates the handler set.
func NewServer(kernel Mutator, identity ActorResolver) *Server {
	return &Server{kernel: kernel, identity: identity}
}

// mutationRequest is the request body of POST /api/v1/mutations.
type mutationRequest struct {
	ActionType string `json:"action_type" binding:"required"`
	EntityRef  struct {
		Type string `json:"type" binding:"required"`
		ID   string `json:"id"`
	} `json:"entity_ref" binding:"required"`
	Input           map[string]any `json:"input"`
	ExpectedVersion *int64         `json:"expected_version"`
	IdempotencyKey  string         `json:"idempotency_key"`
	BatchID         string         `json:"batch_id"`
	Reason          string         `json:"reason"`
}

// Mutate handles POST /api/v1/mutations.
func (s *Server) Mutate(c *gin.Context) {
	var req mutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.ValidationFailed("malformed request body: " + err.Error()))
		return
	}

	ctx := c.Request.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)

	actor, err := s.identity.Resolve(ctx, tenantID, userID)
	if err != nil {
		_ = c.Error(apperrors.InternalError(err))
		return
	}

	spec := domain.MutationSpec{
		ActionType:      domain.ActionType(req.ActionType),
		EntityRef:       domain.EntityRef{Type: req.EntityRef.Type, ID: req.EntityRef.ID},
		Input:           req.Input,
		ExpectedVersion: req.ExpectedVersion,
		IdempotencyKey:  req.IdempotencyKey,
		BatchID:         req.BatchID,
		Reason:          req.Reason,
	}
	mctx := domain.MutationContext{
		RequestID: middleware.GetRequestID(ctx),
		Actor:     actor,
		Channel:   channelFrom(c),
		RemoteIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}

	resp := s.kernel.Mutate(ctx, spec, mctx)
	c.JSON(statusFor(resp), resp)
}

// channelFrom reads the execution channel. HTTP callers may only select
// interactive or reporting; the system channels are reserved for in-process
// callers and silently downgrade to interactive here.
func channelFrom(c *gin.Context) domain.Channel {
	switch domain.Channel(c.GetHeader(ChannelHeader)) {
	case domain.ChannelReporting:
		return domain.ChannelReporting
	default:
		return domain.ChannelInteractive
	}
}

// statusFor maps a response envelope to its HTTP status.
func statusFor(resp domain.Response) int {
	if resp.OK {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case apperrors.CodeValidationFailed:
		return http.StatusBadRequest
	case apperrors.CodePolicyDenied:
		return http.StatusForbidden
	case apperrors.CodeLifecycleDenied, apperrors.CodeConflictVersion:
		return http.StatusConflict
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
