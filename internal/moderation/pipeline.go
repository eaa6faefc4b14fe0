package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuslive/backend/internal/models"
)

// SessionSource answers whether chat may be accepted for a session.
type SessionSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// Store persists chat messages and moderation records. Automated status
// updates are compare-and-set against non-terminal states so a terminal
// record can never be resurrected by the pipeline.
type Store interface {
	InsertMessage(ctx context.Context, msg *models.ChatMessage) error
	InsertRecord(ctx context.Context, rec *models.ModerationRecord) error
	GetRecord(ctx context.Context, id uuid.UUID) (*models.ModerationRecord, error)
	ResolveRecord(ctx context.Context, id uuid.UUID, status models.ModerationStatus, score float64, categories []string) (bool, error)
	OverrideRecord(ctx context.Context, id uuid.UUID, status models.ModerationStatus, moderatorID uuid.UUID, reason string) error
	IncrementViolations(ctx context.Context, sessionID, senderID uuid.UUID) (int, error)
}

// ViolationWindow tracks the rolling-window policy signal.
type ViolationWindow interface {
	Add(ctx context.Context, sessionID, senderID uuid.UUID) error
	CountInWindow(ctx context.Context, sessionID, senderID uuid.UUID) (int, error)
}

// Enqueuer hands deferred analysis work to the task queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *models.AnalysisTask) error
}

// Broadcaster emits chat events to connected clients.
type Broadcaster interface {
	Broadcast(sessionID uuid.UUID, event string, payload interface{})
}

// OutcomeStatus summarizes a submission result for the caller.
type OutcomeStatus string

const (
	OutcomeBroadcast OutcomeStatus = "broadcast"
	OutcomePending   OutcomeStatus = "pending" // broadcast optimistically, subject to moderation
	OutcomeBlocked   OutcomeStatus = "blocked"
)

// Outcome is the result of submitting a chat message.
type Outcome struct {
	Status  OutcomeStatus
	Message *models.ChatMessage
	Record  *models.ModerationRecord
	Reason  string
}

// chatEvent is the broadcast payload for a chat message.
type chatEvent struct {
	*models.ChatMessage
	SubjectToModeration bool `json:"subject_to_moderation,omitempty"`
}

// redactEvent is the broadcast payload for a retroactive redaction.
type redactEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	MessageID uuid.UUID `json:"message_id"`
	Seq       int64     `json:"seq"`
}

// Pipeline is the single enforcement point for chat: every message
// passes through Submit before any broadcast.
type Pipeline struct {
	sessions  SessionSource
	store     Store
	screener  *Screener
	window    ViolationWindow
	queue     Enqueuer
	bcast     Broadcaster
	threshold float64 // async severity at/above which a pending message is redacted
	logger    *zap.Logger
}

// NewPipeline creates the moderation pipeline.
func NewPipeline(sessions SessionSource, store Store, screener *Screener, window ViolationWindow, queue Enqueuer, bcast Broadcaster, severityThreshold float64, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		sessions:  sessions,
		store:     store,
		screener:  screener,
		window:    window,
		queue:     queue,
		bcast:     bcast,
		threshold: severityThreshold,
		logger:    logger,
	}
}

// Submit screens, persists and (when allowed) broadcasts a chat message.
// Synchronous screening only: deferred analysis never blocks the caller.
func (p *Pipeline) Submit(ctx context.Context, sessionID, senderID uuid.UUID, body string, msgType models.MessageType, replyTo *uuid.UUID) (*Outcome, error) {
	sess, err := p.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionLive {
		return nil, models.ErrSessionNotLive
	}
	if msgType == "" {
		msgType = models.MessageText
	}

	screen, err := p.screener.Screen(ctx, sessionID, senderID, body)
	if err != nil {
		return nil, fmt.Errorf("screen: %w", err)
	}

	if screen.HardBlock {
		// No ChatMessage row: content survives only in the record for audit.
		rec := &models.ModerationRecord{
			SessionID:  sessionID,
			SenderID:   senderID,
			Content:    body,
			Status:     models.ModerationBlocked,
			RiskScore:  screen.Score,
			Categories: screen.Categories,
		}
		if err := p.store.InsertRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("insert record: %w", err)
		}
		p.recordViolation(ctx, sessionID, senderID)
		p.logger.Info("chat message blocked",
			zap.String("session_id", sessionID.String()),
			zap.String("sender_id", senderID.String()),
			zap.Strings("categories", screen.Categories))
		return &Outcome{Status: OutcomeBlocked, Record: rec, Reason: screen.Reason}, nil
	}

	msg := &models.ChatMessage{
		SessionID: sessionID,
		SenderID:  senderID,
		Body:      body,
		Type:      msgType,
		ReplyToID: replyTo,
	}
	if err := p.store.InsertMessage(ctx, msg); err != nil {
		// The store re-checks liveness at insert time; a session ending
		// between the check above and the insert is not a storage fault.
		if errors.Is(err, models.ErrSessionNotLive) {
			return nil, models.ErrSessionNotLive
		}
		return nil, fmt.Errorf("insert message: %w", err)
	}

	status := models.ModerationApproved
	if screen.NeedsReview {
		status = models.ModerationPending
	}
	rec := &models.ModerationRecord{
		SessionID:  sessionID,
		MessageID:  &msg.ID,
		SenderID:   senderID,
		Content:    body,
		Status:     status,
		RiskScore:  screen.Score,
		Categories: screen.Categories,
	}
	if err := p.store.InsertRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}

	// Optimistic delivery: borderline messages broadcast immediately with
	// a marker; the async verdict may redact them later.
	if p.bcast != nil {
		p.bcast.Broadcast(sessionID, "chat_message", chatEvent{
			ChatMessage:         msg,
			SubjectToModeration: screen.NeedsReview,
		})
	}

	if screen.NeedsReview {
		task := &models.AnalysisTask{
			Type:      models.TaskChatAnalysis,
			TargetID:  rec.ID,
			SessionID: sessionID,
			Priority:  50,
		}
		if err := p.queue.Enqueue(ctx, task); err != nil {
			// Delivery already happened; log and leave the record pending
			// for the audit surface rather than failing the submission.
			p.logger.Error("enqueue analysis task failed", zap.Error(err),
				zap.String("record_id", rec.ID.String()))
		}
		return &Outcome{Status: OutcomePending, Message: msg, Record: rec}, nil
	}
	return &Outcome{Status: OutcomeBroadcast, Message: msg, Record: rec}, nil
}

// Verdict is the asynchronous analysis result for a record.
type Verdict struct {
	Score      float64  `json:"score"`
	Categories []string `json:"categories"`
	Flagged    bool     `json:"flagged"`
}

// ResolveVerdict applies the async verdict to a pending record. The
// sender may be long gone; resolution does not depend on presence. A
// record that already reached a terminal status is left untouched.
func (p *Pipeline) ResolveVerdict(ctx context.Context, recordID uuid.UUID, v Verdict) error {
	rec, err := p.store.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}

	status := models.ModerationApproved
	redact := false
	switch {
	case v.Score >= p.threshold:
		status = models.ModerationRejected
		redact = true
	case v.Flagged:
		status = models.ModerationFlagged
	}

	applied, err := p.store.ResolveRecord(ctx, recordID, status, v.Score, v.Categories)
	if err != nil {
		return err
	}
	if !applied {
		p.logger.Debug("verdict skipped, record already terminal",
			zap.String("record_id", recordID.String()))
		return nil
	}

	if redact {
		p.recordViolation(ctx, rec.SessionID, rec.SenderID)
		if p.bcast != nil && rec.MessageID != nil {
			p.bcast.Broadcast(rec.SessionID, "chat_redacted", redactEvent{
				SessionID: rec.SessionID,
				MessageID: *rec.MessageID,
			})
		}
		p.logger.Info("chat message redacted",
			zap.String("record_id", recordID.String()),
			zap.Float64("score", v.Score))
	}
	return nil
}

// Override applies a human moderator decision. This is the only path
// allowed to change a terminal record, and it is always logged.
func (p *Pipeline) Override(ctx context.Context, recordID, moderatorID uuid.UUID, status models.ModerationStatus, reason string) error {
	rec, err := p.store.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if err := p.store.OverrideRecord(ctx, recordID, status, moderatorID, reason); err != nil {
		return err
	}
	p.logger.Info("moderation override",
		zap.String("record_id", recordID.String()),
		zap.String("moderator_id", moderatorID.String()),
		zap.String("from", string(rec.Status)),
		zap.String("to", string(status)),
		zap.String("reason", reason))

	if status == models.ModerationRejected && rec.MessageID != nil && p.bcast != nil {
		p.bcast.Broadcast(rec.SessionID, "chat_redacted", redactEvent{
			SessionID: rec.SessionID,
			MessageID: *rec.MessageID,
		})
	}
	return nil
}

// Violations returns the sender's violation count within the rolling
// window. Exposed as a fact; enforcement is an external decision.
func (p *Pipeline) Violations(ctx context.Context, sessionID, senderID uuid.UUID) (int, error) {
	if p.window == nil {
		return 0, nil
	}
	return p.window.CountInWindow(ctx, sessionID, senderID)
}

func (p *Pipeline) recordViolation(ctx context.Context, sessionID, senderID uuid.UUID) {
	if _, err := p.store.IncrementViolations(ctx, sessionID, senderID); err != nil {
		p.logger.Warn("violation counter update failed", zap.Error(err))
	}
	if p.window != nil {
		if err := p.window.Add(ctx, sessionID, senderID); err != nil {
			p.logger.Warn("violation window update failed", zap.Error(err))
		}
	}
}
