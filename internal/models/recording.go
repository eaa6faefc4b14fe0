package models

import (
	"time"

	"github.com/google/uuid"
)

// Recording status values.
const (
	RecordingStatusRecording  = "recording"
	RecordingStatusProcessing = "processing"
	RecordingStatusCompleted  = "completed"
	RecordingStatusFailed     = "failed"
)

// Recording is the stored artifact for a recorded session.
type Recording struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	OriginalURL string    `json:"original_url,omitempty"` // provider-side artifact location before finalize
	S3URL       string    `json:"s3_url,omitempty"`
	S3Key       string    `json:"s3_key,omitempty"`
	Duration    int       `json:"duration"` // seconds
	FileSize    int64     `json:"file_size"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
