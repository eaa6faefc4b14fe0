package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the pgx-backed ParticipantStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participants repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Open inserts an open participation row. If a row for this principal is
// already open (another instance raced us), that row is reused.
func (r *Repository) Open(ctx context.Context, sessionID, principalID uuid.UUID, at time.Time) (uuid.UUID, error) {
	const q = `INSERT INTO participants (session_id, principal_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, principal_id) WHERE left_at IS NULL DO NOTHING
		RETURNING id`
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, q, sessionID, principalID, at).Scan(&id)
	if err == nil {
		return id, nil
	}
	// Conflict path: the open row already exists, return it.
	const sel = `SELECT id FROM participants WHERE session_id = $1 AND principal_id = $2 AND left_at IS NULL`
	if selErr := r.pool.QueryRow(ctx, sel, sessionID, principalID).Scan(&id); selErr == nil {
		return id, nil
	}
	return uuid.Nil, err
}

// Close stamps left_at on a participation row if still open.
func (r *Repository) Close(ctx context.Context, participantID uuid.UUID, at time.Time) error {
	const q = `UPDATE participants SET left_at = $1 WHERE id = $2 AND left_at IS NULL`
	_, err := r.pool.Exec(ctx, q, at, participantID)
	return err
}

// CloseAllOpen stamps left_at on every open row for the session.
func (r *Repository) CloseAllOpen(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	const q = `UPDATE participants SET left_at = $1 WHERE session_id = $2 AND left_at IS NULL`
	_, err := r.pool.Exec(ctx, q, at, sessionID)
	return err
}

// CountOpen returns the number of open participations for the session.
func (r *Repository) CountOpen(ctx context.Context, sessionID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM participants WHERE session_id = $1 AND left_at IS NULL`
	var n int
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&n)
	return n, err
}

// ListBySession returns all presence intervals for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Row, error) {
	const q = `SELECT id, principal_id, joined_at, left_at FROM participants
		WHERE session_id = $1 ORDER BY joined_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.PrincipalID, &row.JoinedAt, &row.LeftAt); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// Row is one presence interval for attendee listings.
type Row struct {
	ID          uuid.UUID  `json:"id"`
	PrincipalID uuid.UUID  `json:"principal_id"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
}
