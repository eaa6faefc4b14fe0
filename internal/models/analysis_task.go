package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of an analysis task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskType identifies the kind of deferred work.
type TaskType string

const (
	// TaskChatAnalysis asks the analysis engine for a verdict on a borderline chat message.
	TaskChatAnalysis TaskType = "chat_analysis"
	// TaskRecordingFinalize uploads/locates the recording artifact after a session ends.
	TaskRecordingFinalize TaskType = "recording_finalize"
)

// AnalysisTask is a queued unit of deferred, retryable work. Lower
// Priority is more urgent; ties are broken by CreatedAt (FIFO).
// NextRunAt drives retry backoff. The target is a weak reference:
// executors must tolerate a deleted target and complete gracefully.
type AnalysisTask struct {
	ID          uuid.UUID  `json:"id"`
	Type        TaskType   `json:"type"`
	TargetID    uuid.UUID  `json:"target_id"`
	SessionID   uuid.UUID  `json:"session_id"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRunAt   time.Time  `json:"next_run_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
