package moderation

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuslive/backend/internal/middleware"
	"github.com/campuslive/backend/internal/models"
	"github.com/campuslive/backend/pkg/response"
)

// Handler exposes chat history and the moderation audit surface.
type Handler struct {
	pipeline *Pipeline
	repo     *Repository
	logger   *zap.Logger
}

// NewHandler creates a moderation handler.
func NewHandler(pipeline *Pipeline, repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pipeline: pipeline, repo: repo, logger: logger}
}

// History handles GET /sessions/:id/messages.
func (h *Handler) History(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.repo.ListMessages(c.Request.Context(), id, limit)
	if err != nil {
		response.Internal(c, "failed to load messages")
		return
	}
	response.OK(c, list)
}

// Audit handles GET /sessions/:id/moderation (host/admin).
func (h *Handler) Audit(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.repo.ListRecords(c.Request.Context(), id, limit)
	if err != nil {
		response.Internal(c, "failed to load moderation records")
		return
	}
	response.OK(c, list)
}

type overrideRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// Override handles PATCH /moderation/:id/override (admin).
func (h *Handler) Override(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid record id")
		return
	}
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	status := models.ModerationStatus(req.Status)
	switch status {
	case models.ModerationApproved, models.ModerationRejected, models.ModerationFlagged:
	default:
		response.BadRequest(c, "status must be approved, rejected or flagged")
		return
	}
	moderatorID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.pipeline.Override(c.Request.Context(), id, moderatorID, status, req.Reason); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "record not found")
			return
		}
		h.logger.Error("moderation override failed", zap.Error(err), zap.String("record_id", id.String()))
		response.Internal(c, "override failed")
		return
	}
	response.OK(c, gin.H{"record_id": id, "status": status})
}

// Violations handles GET /sessions/:id/violations/:principal (host/admin).
// Returns the rolling-window violation count as a policy signal.
func (h *Handler) Violations(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	principalID, err := uuid.Parse(c.Param("principal"))
	if err != nil {
		response.BadRequest(c, "invalid principal id")
		return
	}
	n, err := h.pipeline.Violations(c.Request.Context(), sessionID, principalID)
	if err != nil {
		response.Internal(c, "failed to load violations")
		return
	}
	response.OK(c, gin.H{"count": n, "policy_signal": n >= 3})
}
