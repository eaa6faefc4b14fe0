package recordings

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuslive/backend/internal/models"
	"github.com/campuslive/backend/pkg/response"
)

// Presigner issues time-limited download URLs.
type Presigner interface {
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	RecordingsBucket() string
	PresignExpire() time.Duration
}

// Handler exposes recording listing and download endpoints.
type Handler struct {
	repo    *Repository
	presign Presigner
	logger  *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(repo *Repository, presign Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, presign: presign, logger: logger}
}

// ListBySession handles GET /sessions/:id/recordings.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err))
		response.Internal(c, "failed to load recordings")
		return
	}
	response.OK(c, list)
}

// Download handles GET /recordings/:id/download, returning a pre-signed URL.
func (h *Handler) Download(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			response.NotFound(c, "recording not found")
			return
		}
		response.Internal(c, "failed to load recording")
		return
	}
	if rec.Status != models.RecordingStatusCompleted || rec.S3Key == "" {
		response.Conflict(c, "recording is not ready")
		return
	}
	expires := h.presign.PresignExpire()
	url, err := h.presign.GeneratePresignedDownloadURL(c.Request.Context(),
		h.presign.RecordingsBucket(), rec.S3Key, expires)
	if err != nil {
		h.logger.Error("presign recording failed", zap.Error(err), zap.String("recording_id", id.String()))
		response.Internal(c, "failed to sign download url")
		return
	}
	response.OK(c, gin.H{
		"url":        url,
		"expires_in": int(expires.Seconds()),
	})
}
