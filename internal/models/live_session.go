package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a live session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from this status.
func (s SessionStatus) Terminal() bool {
	return s == SessionEnded || s == SessionCancelled
}

// CanTransitionTo reports whether the state machine permits moving to next.
// Valid paths: scheduled->live->ended, scheduled->cancelled, live->cancelled.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionScheduled:
		return next == SessionLive || next == SessionCancelled
	case SessionLive:
		return next == SessionEnded || next == SessionCancelled
	default:
		return false
	}
}

// IngestMode describes how media reaches viewers.
type IngestMode string

const (
	// IngestPeerMedia streams via peer connections negotiated through the signaling coordinator.
	IngestPeerMedia IngestMode = "peer-media"
	// IngestExternalPush streams via an external relay provider (credentialed push).
	IngestExternalPush IngestMode = "external-push"
)

// LiveSession is one livestream instance with a lifecycle from scheduled to ended/cancelled.
type LiveSession struct {
	ID              uuid.UUID       `json:"id"`
	HostID          uuid.UUID       `json:"host_id"`
	CourseID        *uuid.UUID      `json:"course_id,omitempty"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	ScheduledStart  time.Time       `json:"scheduled_start"`
	ScheduledEnd    *time.Time      `json:"scheduled_end,omitempty"`
	ActualStart     *time.Time      `json:"actual_start,omitempty"`
	ActualEnd       *time.Time      `json:"actual_end,omitempty"`
	IngestMode      IngestMode      `json:"ingest_mode"`
	RoomID          string          `json:"room_id"`
	RoomConfig      json.RawMessage `json:"room_config,omitempty"` // per-session signaling overrides, opaque to everything but the coordinator
	Status          SessionStatus   `json:"status"`
	ViewerCount     int             `json:"viewer_count"`
	MaxParticipants *int            `json:"max_participants,omitempty"`
	IsPublic        bool            `json:"is_public"`
	RecordEnabled   bool            `json:"record_enabled"`
	RecordingURL    string          `json:"recording_url,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
