package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageType classifies a chat message.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageEmoji  MessageType = "emoji"
	MessageSystem MessageType = "system"
)

// ChatMessage is one chat entry within a session. Messages are totally
// ordered by (CreatedAt, Seq); Seq is a per-session monotonic sequence
// assigned at ingestion, so ordering never depends on submitter clocks.
type ChatMessage struct {
	ID        uuid.UUID   `json:"id"`
	SessionID uuid.UUID   `json:"session_id"`
	SenderID  uuid.UUID   `json:"sender_id"`
	Body      string      `json:"body"`
	Type      MessageType `json:"type"`
	ReplyToID *uuid.UUID  `json:"reply_to_id,omitempty"`
	Seq       int64       `json:"seq"`
	CreatedAt time.Time   `json:"created_at"`
}
