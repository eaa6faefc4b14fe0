package models

import (
	"time"

	"github.com/google/uuid"
)

// ModerationStatus is the decision state of a moderation record.
type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
	ModerationBlocked  ModerationStatus = "blocked"
	ModerationFlagged  ModerationStatus = "flagged"
)

// Terminal reports whether the status may no longer change through the
// automated pipeline. Only an explicit human override may move past it.
func (s ModerationStatus) Terminal() bool {
	return s == ModerationApproved || s == ModerationRejected || s == ModerationBlocked
}

// ModerationRecord is the audit/decision object for a chat message.
// MessageID is null when the message was blocked before it was ever
// persisted; Content is retained in that case for audit.
type ModerationRecord struct {
	ID             uuid.UUID        `json:"id"`
	SessionID      uuid.UUID        `json:"session_id"`
	MessageID      *uuid.UUID       `json:"message_id,omitempty"`
	SenderID       uuid.UUID        `json:"sender_id"`
	Content        string           `json:"content"`
	Status         ModerationStatus `json:"status"`
	RiskScore      float64          `json:"risk_score"`
	Categories     []string         `json:"categories,omitempty"`
	ModeratorID    *uuid.UUID       `json:"moderator_id,omitempty"`
	DecisionReason string           `json:"decision_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
