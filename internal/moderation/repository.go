package moderation

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuslive/backend/internal/models"
)

// Repository is the pgx-backed moderation Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a moderation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertMessage persists a chat message, claiming the next per-session
// sequence number under the chat_sequences row lock. Ordering is by
// (created_at, seq); the sequence is authoritative under clock skew.
// The insert is gated on the session being live in the same statement,
// so a session ending concurrently can never gain a late message row;
// that case returns models.ErrSessionNotLive.
func (r *Repository) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	const q = `WITH live AS (
			SELECT id FROM live_sessions WHERE id = $1 AND status = $6
		), next AS (
			INSERT INTO chat_sequences (session_id, last_seq)
			SELECT id, 1 FROM live
			ON CONFLICT (session_id) DO UPDATE SET last_seq = chat_sequences.last_seq + 1
			RETURNING last_seq
		)
		INSERT INTO chat_messages (session_id, sender_id, body, type, reply_to_id, seq)
		SELECT $1, $2, $3, $4, $5, next.last_seq FROM next
		RETURNING id, seq, created_at`
	err := r.pool.QueryRow(ctx, q, msg.SessionID, msg.SenderID, msg.Body, msg.Type, msg.ReplyToID,
		models.SessionLive).
		Scan(&msg.ID, &msg.Seq, &msg.CreatedAt)
	if err == pgx.ErrNoRows {
		return models.ErrSessionNotLive
	}
	return err
}

// ListMessages returns a session's chat history in delivery order.
func (r *Repository) ListMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `SELECT id, session_id, sender_id, body, type, reply_to_id, seq, created_at
		FROM chat_messages WHERE session_id = $1 ORDER BY created_at, seq LIMIT $2`
	rows, err := r.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.Body, &m.Type, &m.ReplyToID, &m.Seq, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// InsertRecord persists a moderation record.
func (r *Repository) InsertRecord(ctx context.Context, rec *models.ModerationRecord) error {
	const q = `INSERT INTO moderation_records
		(session_id, message_id, sender_id, content, status, risk_score, categories)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, rec.SessionID, rec.MessageID, rec.SenderID, rec.Content,
		rec.Status, rec.RiskScore, rec.Categories).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

// GetRecord returns a moderation record by ID.
func (r *Repository) GetRecord(ctx context.Context, id uuid.UUID) (*models.ModerationRecord, error) {
	const q = `SELECT id, session_id, message_id, sender_id, content, status, risk_score,
		categories, moderator_id, decision_reason, created_at, updated_at
		FROM moderation_records WHERE id = $1`
	var rec models.ModerationRecord
	err := r.pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.SessionID, &rec.MessageID, &rec.SenderID,
		&rec.Content, &rec.Status, &rec.RiskScore, &rec.Categories, &rec.ModeratorID,
		&rec.DecisionReason, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ResolveRecord applies an automated verdict, but only while the record
// is still non-terminal (pending or flagged). Returns false when the
// record had already reached a terminal status.
func (r *Repository) ResolveRecord(ctx context.Context, id uuid.UUID, status models.ModerationStatus, score float64, categories []string) (bool, error) {
	const q = `UPDATE moderation_records
		SET status = $1, risk_score = $2, categories = $3, updated_at = NOW()
		WHERE id = $4 AND status IN ($5, $6)`
	tag, err := r.pool.Exec(ctx, q, status, score, categories, id,
		models.ModerationPending, models.ModerationFlagged)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// OverrideRecord applies a human decision regardless of terminal state.
func (r *Repository) OverrideRecord(ctx context.Context, id uuid.UUID, status models.ModerationStatus, moderatorID uuid.UUID, reason string) error {
	const q = `UPDATE moderation_records
		SET status = $1, moderator_id = $2, decision_reason = $3, updated_at = NOW()
		WHERE id = $4`
	tag, err := r.pool.Exec(ctx, q, status, moderatorID, reason, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListRecords returns a session's moderation audit trail, newest first.
func (r *Repository) ListRecords(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.ModerationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, session_id, message_id, sender_id, content, status, risk_score,
		categories, moderator_id, decision_reason, created_at, updated_at
		FROM moderation_records WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ModerationRecord
	for rows.Next() {
		var rec models.ModerationRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.MessageID, &rec.SenderID, &rec.Content,
			&rec.Status, &rec.RiskScore, &rec.Categories, &rec.ModeratorID, &rec.DecisionReason,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// IncrementViolations bumps the durable per-sender violation counter.
func (r *Repository) IncrementViolations(ctx context.Context, sessionID, senderID uuid.UUID) (int, error) {
	const q = `INSERT INTO sender_violations (session_id, principal_id, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (session_id, principal_id)
		DO UPDATE SET count = sender_violations.count + 1, updated_at = NOW()
		RETURNING count`
	var n int
	err := r.pool.QueryRow(ctx, q, sessionID, senderID).Scan(&n)
	return n, err
}
