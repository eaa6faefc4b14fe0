package recordings

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuslive/backend/internal/models"
	"github.com/campuslive/backend/pkg/storage"
)

// Uploader is the slice of S3 the finalizer needs.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	RecordingsBucket() string
}

// SessionURLUpdater stamps the final artifact URL on the session row.
type SessionURLUpdater interface {
	UpdateRecordingURL(ctx context.Context, sessionID uuid.UUID, url string) error
}

// Finalizer moves a finished recording from the provider to S3. It runs
// as a queue executor: transient failures (provider artifact not ready
// yet, network) return an error and are retried with backoff.
type Finalizer struct {
	repo     *Repository
	store    Uploader
	sessions SessionURLUpdater
	client   *http.Client
	logger   *zap.Logger
}

// NewFinalizer creates a recording finalizer.
func NewFinalizer(repo *Repository, store Uploader, sessions SessionURLUpdater, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{
		repo:     repo,
		store:    store,
		sessions: sessions,
		client:   &http.Client{Timeout: 5 * time.Minute},
		logger:   logger,
	}
}

// Execute finalizes the recording for the task's session.
func (f *Finalizer) Execute(ctx context.Context, task *models.AnalysisTask) error {
	rec, err := f.repo.FindOpenBySession(ctx, task.SessionID)
	if err != nil {
		return fmt.Errorf("find recording: %w", err)
	}
	if rec == nil {
		// Nothing to finalize: session was not recorded, or a previous
		// attempt already completed.
		return nil
	}
	if rec.OriginalURL == "" {
		return fmt.Errorf("recording %s: provider artifact not available yet", rec.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.OriginalURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch artifact: status %d", resp.StatusCode)
	}

	key := storage.RecordingKey(rec.SessionID.String(), rec.ID.String())
	url, err := f.store.Upload(ctx, f.store.RecordingsBucket(), key, "video/mp4", resp.Body, resp.ContentLength)
	if err != nil {
		return fmt.Errorf("upload recording: %w", err)
	}

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}
	if err := f.repo.UpdateS3Result(ctx, rec.ID, url, key, size, rec.Duration); err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	if err := f.sessions.UpdateRecordingURL(ctx, rec.SessionID, url); err != nil {
		return fmt.Errorf("update session recording url: %w", err)
	}
	f.logger.Info("recording finalized",
		zap.String("recording_id", rec.ID.String()),
		zap.String("session_id", rec.SessionID.String()),
		zap.String("s3_key", key))
	return nil
}
