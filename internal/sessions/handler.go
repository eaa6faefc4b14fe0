package sessions

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuslive/backend/internal/middleware"
	"github.com/campuslive/backend/internal/models"
	"github.com/campuslive/backend/internal/presence"
	"github.com/campuslive/backend/pkg/response"
)

// Handler exposes session lifecycle endpoints.
type Handler struct {
	svc      *Service
	tracker  *presence.Tracker
	partRepo *presence.Repository
	logger   *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(svc *Service, tracker *presence.Tracker, partRepo *presence.Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, tracker: tracker, partRepo: partRepo, logger: logger}
}

type createRequest struct {
	Title           string     `json:"title" binding:"required"`
	Description     string     `json:"description"`
	CourseID        *uuid.UUID `json:"course_id"`
	ScheduledStart  time.Time  `json:"scheduled_start" binding:"required"`
	ScheduledEnd    *time.Time `json:"scheduled_end"`
	IngestMode      string     `json:"ingest_mode"`
	MaxParticipants *int       `json:"max_participants"`
	IsPublic        *bool      `json:"is_public"`
	RecordEnabled   bool       `json:"record_enabled"`
}

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	mode := models.IngestMode(req.IngestMode)
	if mode != "" && mode != models.IngestPeerMedia && mode != models.IngestExternalPush {
		response.BadRequest(c, "ingest_mode must be peer-media or external-push")
		return
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	hostID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	sess, err := h.svc.Schedule(c.Request.Context(), CreateInput{
		HostID:          hostID,
		CourseID:        req.CourseID,
		Title:           req.Title,
		Description:     req.Description,
		ScheduledStart:  req.ScheduledStart,
		ScheduledEnd:    req.ScheduledEnd,
		IngestMode:      mode,
		MaxParticipants: req.MaxParticipants,
		IsPublic:        isPublic,
		RecordEnabled:   req.RecordEnabled,
	})
	if err != nil {
		h.logger.Error("schedule session failed", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, sess)
}

// List handles GET /sessions.
func (h *Handler) List(c *gin.Context) {
	var hostID *uuid.UUID
	if v := c.Query("host_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(c, "invalid host_id")
			return
		}
		hostID = &id
	}
	list, err := h.svc.List(c.Request.Context(), hostID)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to load session")
		return
	}
	response.OK(c, sess)
}

func (h *Handler) transition(c *gin.Context, apply func(id, principal uuid.UUID, role string) (*models.LiveSession, error)) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	principalID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	sess, err := apply(id, principalID, role)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			response.NotFound(c, "session not found")
		case errors.Is(err, models.ErrNotHost):
			response.Forbidden(c, "only the host may do this")
		case errors.Is(err, models.ErrInvalidTransition):
			response.Conflict(c, "invalid session transition")
		default:
			h.logger.Error("session transition failed", zap.Error(err), zap.String("session_id", id.String()))
			response.Internal(c, "transition failed")
		}
		return
	}
	response.OK(c, sess)
}

// Start handles POST /sessions/:id/start (scheduled -> live).
func (h *Handler) Start(c *gin.Context) {
	h.transition(c, func(id, principal uuid.UUID, role string) (*models.LiveSession, error) {
		return h.svc.GoLive(c.Request.Context(), id, principal, role)
	})
}

// End handles POST /sessions/:id/end (live -> ended).
func (h *Handler) End(c *gin.Context) {
	h.transition(c, func(id, principal uuid.UUID, role string) (*models.LiveSession, error) {
		return h.svc.End(c.Request.Context(), id, principal, role)
	})
}

// Cancel handles POST /sessions/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	h.transition(c, func(id, principal uuid.UUID, role string) (*models.LiveSession, error) {
		return h.svc.Cancel(c.Request.Context(), id, principal, role)
	})
}

// AudienceCount handles GET /sessions/:id/audience_count.
func (h *Handler) AudienceCount(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	response.OK(c, gin.H{"count": h.tracker.Count(id)})
}

// Attendees handles GET /sessions/:id/attendees (host/admin).
func (h *Handler) Attendees(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.partRepo.ListBySession(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to list attendees")
		return
	}
	response.OK(c, list)
}
