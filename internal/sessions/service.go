package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuslive/backend/internal/models"
)

// RoleAdmin may override host-only transitions.
const RoleAdmin = "admin"

// Store persists live sessions. Transition applies a compare-and-set on
// status so a second writer cannot double-apply side effects.
type Store interface {
	Create(ctx context.Context, s *models.LiveSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	List(ctx context.Context, hostID *uuid.UUID) ([]models.LiveSession, error)
	TransitionToLive(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	TransitionToEnded(ctx context.Context, id uuid.UUID, at time.Time, finalViewers int) (bool, error)
	TransitionToCancelled(ctx context.Context, id uuid.UUID, from models.SessionStatus) (bool, error)
	UpdateViewerCount(ctx context.Context, id uuid.UUID, count int) error
}

// Counter supplies the current derived viewer count for a session.
type Counter interface {
	Count(sessionID uuid.UUID) int
}

// Broadcaster emits session events to connected clients.
type Broadcaster interface {
	Broadcast(sessionID uuid.UUID, event string, payload interface{})
}

// EndedHandler runs after a session transitions out of live/scheduled;
// used to tear down room state and enqueue recording finalization.
type EndedHandler func(ctx context.Context, s *models.LiveSession)

// Service owns the session state machine. Transitions for one session
// are serialized by a per-session mutex; sessions proceed in parallel.
type Service struct {
	store    Store
	counter  Counter
	bcast    Broadcaster
	onEnded  []EndedHandler
	locks    map[uuid.UUID]*sync.Mutex
	locksMu  sync.Mutex
	logger   *zap.Logger
}

// NewService creates a session lifecycle service.
func NewService(store Store, counter Counter, bcast Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		counter: counter,
		bcast:   bcast,
		locks:   make(map[uuid.UUID]*sync.Mutex),
		logger:  logger,
	}
}

// OnEnded registers a handler invoked after End or Cancel succeeds.
func (s *Service) OnEnded(fn EndedHandler) {
	s.onEnded = append(s.onEnded, fn)
}

func (s *Service) lockFor(id uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

func (s *Service) releaseLock(id uuid.UUID) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.locks, id)
}

// CreateInput holds the fields for scheduling a session.
type CreateInput struct {
	HostID          uuid.UUID
	CourseID        *uuid.UUID
	Title           string
	Description     string
	ScheduledStart  time.Time
	ScheduledEnd    *time.Time
	IngestMode      models.IngestMode
	MaxParticipants *int
	IsPublic        bool
	RecordEnabled   bool
	RoomConfig      []byte
}

// Schedule creates a session in the scheduled state.
func (s *Service) Schedule(ctx context.Context, in CreateInput) (*models.LiveSession, error) {
	mode := in.IngestMode
	if mode == "" {
		mode = models.IngestPeerMedia
	}
	sess := &models.LiveSession{
		HostID:          in.HostID,
		CourseID:        in.CourseID,
		Title:           in.Title,
		Description:     in.Description,
		ScheduledStart:  in.ScheduledStart,
		ScheduledEnd:    in.ScheduledEnd,
		IngestMode:      mode,
		RoomID:          uuid.New().String(),
		RoomConfig:      in.RoomConfig,
		Status:          models.SessionScheduled,
		MaxParticipants: in.MaxParticipants,
		IsPublic:        in.IsPublic,
		RecordEnabled:   in.RecordEnabled,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns a session by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return s.store.GetByID(ctx, id)
}

// List returns sessions, optionally filtered by host.
func (s *Service) List(ctx context.Context, hostID *uuid.UUID) ([]models.LiveSession, error) {
	return s.store.List(ctx, hostID)
}

// GoLive transitions scheduled -> live. Host only. Stamps actual_start
// and resets the viewer count to zero.
func (s *Service) GoLive(ctx context.Context, id, principalID uuid.UUID, role string) (*models.LiveSession, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.HostID != principalID {
		return nil, models.ErrNotHost
	}
	if !sess.Status.CanTransitionTo(models.SessionLive) {
		return nil, models.ErrInvalidTransition
	}
	now := time.Now()
	applied, err := s.store.TransitionToLive(ctx, id, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Another instance changed the row under us.
		return nil, models.ErrInvalidTransition
	}
	sess.Status = models.SessionLive
	sess.ActualStart = &now
	sess.ViewerCount = 0

	s.logger.Info("session live",
		zap.String("session_id", id.String()),
		zap.String("host_id", principalID.String()))
	if s.bcast != nil {
		s.bcast.Broadcast(id, "session_started", sess)
	}
	return sess, nil
}

// End transitions live -> ended. Host or admin. Stamps actual_end,
// persists the final viewer snapshot, and runs ended handlers exactly
// once. A concurrent second End observes the terminal state and gets
// ErrInvalidTransition without re-applying side effects.
func (s *Service) End(ctx context.Context, id, principalID uuid.UUID, role string) (*models.LiveSession, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.HostID != principalID && role != RoleAdmin {
		return nil, models.ErrNotHost
	}
	if !sess.Status.CanTransitionTo(models.SessionEnded) {
		return nil, models.ErrInvalidTransition
	}
	now := time.Now()
	finalViewers := 0
	if s.counter != nil {
		finalViewers = s.counter.Count(id)
	}
	applied, err := s.store.TransitionToEnded(ctx, id, now, finalViewers)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, models.ErrInvalidTransition
	}
	sess.Status = models.SessionEnded
	sess.ActualEnd = &now
	sess.ViewerCount = finalViewers

	var duration time.Duration
	if sess.ActualStart != nil {
		duration = now.Sub(*sess.ActualStart)
	}
	s.logger.Info("session ended",
		zap.String("session_id", id.String()),
		zap.Duration("duration", duration),
		zap.Int("final_viewers", finalViewers))

	if s.bcast != nil {
		s.bcast.Broadcast(id, "session_ended", sess)
	}
	for _, fn := range s.onEnded {
		fn(ctx, sess)
	}
	s.releaseLock(id)
	return sess, nil
}

// Cancel transitions scheduled|live -> cancelled. Host or admin. Terminal.
func (s *Service) Cancel(ctx context.Context, id, principalID uuid.UUID, role string) (*models.LiveSession, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.HostID != principalID && role != RoleAdmin {
		return nil, models.ErrNotHost
	}
	if !sess.Status.CanTransitionTo(models.SessionCancelled) {
		return nil, models.ErrInvalidTransition
	}
	applied, err := s.store.TransitionToCancelled(ctx, id, sess.Status)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, models.ErrInvalidTransition
	}
	wasLive := sess.Status == models.SessionLive
	sess.Status = models.SessionCancelled

	s.logger.Info("session cancelled", zap.String("session_id", id.String()))
	if s.bcast != nil {
		s.bcast.Broadcast(id, "session_cancelled", sess)
	}
	if wasLive {
		for _, fn := range s.onEnded {
			fn(ctx, sess)
		}
	}
	s.releaseLock(id)
	return sess, nil
}

// RecordViewerCount persists the current derived count (peak tracking on
// presence changes); never persists below zero by construction since the
// count is the size of the open set.
func (s *Service) RecordViewerCount(ctx context.Context, id uuid.UUID, count int) error {
	if count < 0 {
		count = 0
	}
	return s.store.UpdateViewerCount(ctx, id, count)
}
