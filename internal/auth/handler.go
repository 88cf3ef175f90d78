package auth

import (
	stderrors "errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinwoo-ahn/wallet-auth-nonce/internal/common/errors"
	"github.com/jinwoo-ahn/wallet-auth-nonce/internal/common/middleware"
	"github.com/jinwoo-ahn/wallet-auth-nonce/pkg/nonce"
)

// Handler exposes the ops surface around the nonce service: challenge
// issuance for the login/link flows, statistics and a manual cleanup
// trigger. Validation and consumption stay in-process on the
// authentication caller side and are deliberately not routed.
type Handler struct {
	service *nonce.Service
	ttl     time.Duration
}

// NewHandler creates a new auth ops handler. ttl is the configured default
// nonce validity, echoed back to challenge clients.
func NewHandler(service *nonce.Service, ttl time.Duration) *Handler {
	return &Handler{
		service: service,
		ttl:     ttl,
	}
}

// RegisterRoutes registers challenge and nonce ops routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/challenge", h.IssueChallenge)
	rg.GET("/nonce/stats", h.Stats)
	rg.POST("/nonce/cleanup", h.Cleanup)
}

// IssueChallenge issues a fresh nonce for a wallet-signature login or
// account-linking flow.
func (h *Handler) IssueChallenge(c *gin.Context) {
	var req ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
		middleware.RespondError(c, errors.InvalidInput("Invalid request body"))
		return
	}
	if req.TTLMs < 0 {
		middleware.RespondError(c, errors.InvalidInput("ttl_ms must be positive"))
		return
	}

	ttl := h.ttl
	var opts []nonce.GenerateOption
	if req.TTLMs > 0 {
		ttl = time.Duration(req.TTLMs) * time.Millisecond
		opts = append(opts, nonce.WithTTL(ttl))
	}

	value, err := h.service.Generate(c.Request.Context(), opts...)
	if err != nil {
		middleware.RespondError(c, mapServiceError(err))
		return
	}

	middleware.RespondCreated(c, ChallengeResponse{
		Nonce:       value,
		ExpiresInMs: ttl.Milliseconds(),
	})
}

// Stats returns nonce record counts by status.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		middleware.RespondError(c, mapServiceError(err))
		return
	}
	middleware.RespondOK(c, ToStatsResponse(stats))
}

// Cleanup triggers one expired-record sweep.
func (h *Handler) Cleanup(c *gin.Context) {
	removed, err := h.service.CleanupExpired(c.Request.Context())
	if err != nil {
		middleware.RespondError(c, mapServiceError(err))
		return
	}
	middleware.RespondOK(c, CleanupResponse{Removed: removed})
}

// mapServiceError translates nonce sentinel errors into transport errors
func mapServiceError(err error) error {
	switch {
	case stderrors.Is(err, nonce.ErrCollisionExhausted):
		return errors.CollisionExhausted()
	case stderrors.Is(err, nonce.ErrStoreUnavailable):
		return errors.StorageUnavailable(err)
	default:
		return errors.Internal("Nonce operation failed").WithError(err)
	}
}
