package recordings

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuslive/backend/internal/models"
)

const recordingColumns = `id, session_id, original_url, s3_url, s3_key, duration, file_size, status, created_at, updated_at`

// Repository handles recording persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.OriginalURL, &rec.S3URL, &rec.S3Key,
		&rec.Duration, &rec.FileSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts a recording row, typically when a recorded session goes live.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (session_id, original_url, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`
	if rec.Status == "" {
		rec.Status = models.RecordingStatusRecording
	}
	return r.pool.QueryRow(ctx, q, rec.SessionID, rec.OriginalURL, rec.Status).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

// GetByID returns a recording by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings WHERE id = $1`
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListBySession returns all recordings for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings
		WHERE session_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// FindOpenBySession returns the session's recording still awaiting
// finalization, or nil when none exists.
func (r *Repository) FindOpenBySession(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM recordings
		WHERE session_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC LIMIT 1`
	rec, err := scanRecording(r.pool.QueryRow(ctx, q, sessionID,
		models.RecordingStatusRecording, models.RecordingStatusProcessing))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// UpdateStatus sets recording status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	const q = `UPDATE recordings SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, status, id)
	return err
}

// UpdateS3Result sets the S3 location and marks the recording completed.
func (r *Repository) UpdateS3Result(ctx context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64, duration int) error {
	const q = `UPDATE recordings
		SET s3_url = $1, s3_key = $2, file_size = $3, duration = $4, status = $5, updated_at = NOW()
		WHERE id = $6`
	_, err := r.pool.Exec(ctx, q, s3URL, s3Key, fileSize, duration, models.RecordingStatusCompleted, id)
	return err
}

// UpdateOriginalURL sets the provider-side artifact location.
func (r *Repository) UpdateOriginalURL(ctx context.Context, id uuid.UUID, originalURL string) error {
	const q = `UPDATE recordings SET original_url = $1, status = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, originalURL, models.RecordingStatusProcessing, id)
	return err
}
