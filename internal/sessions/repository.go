package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuslive/backend/internal/models"
)

const sessionColumns = `id, host_id, course_id, title, description, scheduled_start, scheduled_end,
	actual_start, actual_end, ingest_mode, room_id, room_config, status, viewer_count,
	max_participants, is_public, record_enabled, recording_url, created_at, updated_at`

// Repository is the pgx-backed session Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a live sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.LiveSession, error) {
	var s models.LiveSession
	err := row.Scan(&s.ID, &s.HostID, &s.CourseID, &s.Title, &s.Description, &s.ScheduledStart,
		&s.ScheduledEnd, &s.ActualStart, &s.ActualEnd, &s.IngestMode, &s.RoomID, &s.RoomConfig,
		&s.Status, &s.ViewerCount, &s.MaxParticipants, &s.IsPublic, &s.RecordEnabled,
		&s.RecordingURL, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Create inserts a new scheduled session.
func (r *Repository) Create(ctx context.Context, s *models.LiveSession) error {
	const q = `INSERT INTO live_sessions
		(host_id, course_id, title, description, scheduled_start, scheduled_end, ingest_mode,
		 room_id, room_config, status, max_participants, is_public, record_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.HostID, s.CourseID, s.Title, s.Description,
		s.ScheduledStart, s.ScheduledEnd, s.IngestMode, s.RoomID, s.RoomConfig,
		s.Status, s.MaxParticipants, s.IsPublic, s.RecordEnabled).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, id))
}

// List returns sessions, newest first, optionally filtered by host.
func (r *Repository) List(ctx context.Context, hostID *uuid.UUID) ([]models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions`
	args := []interface{}{}
	if hostID != nil {
		q += ` WHERE host_id = $1`
		args = append(args, *hostID)
	}
	q += ` ORDER BY scheduled_start DESC`
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.LiveSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// TransitionToLive applies scheduled -> live with a status CAS. Returns
// false when the row was not in scheduled (concurrent transition).
func (r *Repository) TransitionToLive(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	const q = `UPDATE live_sessions
		SET status = $1, actual_start = $2, viewer_count = 0, updated_at = NOW()
		WHERE id = $3 AND status = $4`
	tag, err := r.pool.Exec(ctx, q, models.SessionLive, at, id, models.SessionScheduled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionToEnded applies live -> ended with a status CAS, stamping
// actual_end and the final viewer snapshot exactly once.
func (r *Repository) TransitionToEnded(ctx context.Context, id uuid.UUID, at time.Time, finalViewers int) (bool, error) {
	const q = `UPDATE live_sessions
		SET status = $1, actual_end = $2, viewer_count = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`
	tag, err := r.pool.Exec(ctx, q, models.SessionEnded, at, finalViewers, id, models.SessionLive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionToCancelled applies from -> cancelled with a status CAS.
func (r *Repository) TransitionToCancelled(ctx context.Context, id uuid.UUID, from models.SessionStatus) (bool, error) {
	const q = `UPDATE live_sessions SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`
	tag, err := r.pool.Exec(ctx, q, models.SessionCancelled, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateViewerCount persists the derived viewer count while live.
func (r *Repository) UpdateViewerCount(ctx context.Context, id uuid.UUID, count int) error {
	const q = `UPDATE live_sessions SET viewer_count = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`
	_, err := r.pool.Exec(ctx, q, count, id, models.SessionLive)
	return err
}

// UpdateRecordingURL stores the finalized recording locator.
func (r *Repository) UpdateRecordingURL(ctx context.Context, id uuid.UUID, url string) error {
	const q = `UPDATE live_sessions SET recording_url = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, url, id)
	return err
}
