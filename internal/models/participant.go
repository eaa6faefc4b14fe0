package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is one presence interval of a principal within a session.
// A principal may have many rows per session (rejoin), but at most one
// with a null LeftAt at any instant.
type Participant struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   uuid.UUID  `json:"session_id"`
	PrincipalID uuid.UUID  `json:"principal_id"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
}

// Open reports whether the participation interval is still open.
func (p *Participant) Open() bool { return p.LeftAt == nil }
