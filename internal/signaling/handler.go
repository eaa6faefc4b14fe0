package signaling

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuslive/backend/config"
	"github.com/campuslive/backend/internal/middleware"
	"github.com/campuslive/backend/internal/models"
	"github.com/campuslive/backend/pkg/response"
)

// SessionLoader fetches a session for room registration and token checks.
type SessionLoader func(c *gin.Context, id uuid.UUID) (*models.LiveSession, error)

// Handler exposes room configuration and push-token endpoints.
type Handler struct {
	coord  *Coordinator
	load   SessionLoader
	push   config.PushConfig
	logger *zap.Logger
}

// NewHandler creates a signaling handler.
func NewHandler(coord *Coordinator, loadSession SessionLoader, push config.PushConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{coord: coord, load: loadSession, push: push, logger: logger}
}

// RoomConfigEndpoint handles GET /sessions/:id/room. Registers the room
// (idempotent) and returns the merged negotiation configuration.
func (h *Handler) RoomConfigEndpoint(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.load(c, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to load session")
		return
	}
	if sess.Status != models.SessionLive {
		response.Conflict(c, "session is not live")
		return
	}
	cfg, err := h.coord.RegisterRoom(c.Request.Context(), sess)
	if err != nil {
		if errors.Is(err, models.ErrRelayUnavailable) {
			// Degraded: return what we have so peers on cached config keep working.
			response.OK(c, gin.H{"room_id": sess.RoomID, "config": cfg, "degraded": true})
			return
		}
		response.Internal(c, "failed to register room")
		return
	}
	response.OK(c, gin.H{"room_id": sess.RoomID, "config": cfg})
}

// PushToken handles GET /sessions/:id/push-token for external-push
// ingest sessions. Only the host receives a publish-capable token.
func (h *Handler) PushToken(c *gin.Context) {
	if h.push.AppID == 0 || h.push.ServerSecret == "" {
		response.ServiceUnavailable(c, "push ingest not configured (PUSH_APP_ID, PUSH_SERVER_SECRET)")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	sess, err := h.load(c, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "session not found")
			return
		}
		response.Internal(c, "failed to load session")
		return
	}
	if sess.IngestMode != models.IngestExternalPush {
		response.BadRequest(c, "session does not use external-push ingest")
		return
	}
	principalID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)
	canPublish := principalID == sess.HostID || role == "admin"

	token, err := GeneratePushToken(h.push.AppID, h.push.ServerSecret, sess.RoomID, principalID.String(), canPublish)
	if err != nil {
		h.logger.Error("push token generation failed", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to generate push token")
		return
	}
	response.OK(c, gin.H{"token": token, "app_id": h.push.AppID, "room_id": sess.RoomID})
}
