package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ParticipantStore persists presence intervals. The schema enforces the
// one-open-row invariant with a partial unique index as a backstop; the
// tracker is the authority at runtime.
type ParticipantStore interface {
	Open(ctx context.Context, sessionID, principalID uuid.UUID, at time.Time) (uuid.UUID, error)
	Close(ctx context.Context, participantID uuid.UUID, at time.Time) error
	CloseAllOpen(ctx context.Context, sessionID uuid.UUID, at time.Time) error
}

// ChangeHandler is called with the new viewer count after a join or leave.
type ChangeHandler func(sessionID uuid.UUID, count int)

// LeaveHandler is called after a participant's open interval is closed,
// e.g. so the signaling coordinator can evict negotiation state.
type LeaveHandler func(sessionID, principalID uuid.UUID)

// Handle identifies one open participation.
type Handle struct {
	SessionID   uuid.UUID
	PrincipalID uuid.UUID
	rowID       uuid.UUID
	joinedAt    time.Time
}

// JoinedAt returns when the open interval started.
func (h *Handle) JoinedAt() time.Time { return h.joinedAt }

// Tracker maintains the open participations per session. Join/Leave for
// one principal are linearized under the tracker mutex, so a rapid
// rejoin can never produce two simultaneously open intervals.
type Tracker struct {
	mu       sync.Mutex
	open     map[uuid.UUID]map[uuid.UUID]*Handle // sessionID -> principalID -> handle
	rev      map[uuid.UUID]uint64                // per-session membership revision
	store    ParticipantStore
	onChange []ChangeHandler
	onLeave  []LeaveHandler
	logger   *zap.Logger

	// notifyMu orders change notifications; a stale count (its revision
	// already superseded by a delivered newer one) is dropped instead of
	// being persisted out of order.
	notifyMu sync.Mutex
	notified map[uuid.UUID]uint64
}

// NewTracker creates a presence tracker backed by the given store.
func NewTracker(store ParticipantStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		open:     make(map[uuid.UUID]map[uuid.UUID]*Handle),
		rev:      make(map[uuid.UUID]uint64),
		store:    store,
		logger:   logger,
		notified: make(map[uuid.UUID]uint64),
	}
}

// OnChange registers a viewer-count change handler.
func (t *Tracker) OnChange(fn ChangeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// OnLeave registers a leave handler.
func (t *Tracker) OnLeave(fn LeaveHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLeave = append(t.onLeave, fn)
}

// Join opens a participation for the principal in the session. If the
// principal already has an open participation (reconnect), the existing
// handle is returned and no new interval is created.
func (t *Tracker) Join(ctx context.Context, sessionID, principalID uuid.UUID) (*Handle, error) {
	t.mu.Lock()
	if h, ok := t.open[sessionID][principalID]; ok {
		t.mu.Unlock()
		t.logger.Debug("presence join reused open participation",
			zap.String("session_id", sessionID.String()),
			zap.String("principal_id", principalID.String()))
		return h, nil
	}
	t.mu.Unlock()

	// Open the row first; the handle becomes visible only once it is
	// complete, so a concurrent leave can never close row uuid.Nil.
	now := time.Now()
	rowID, err := t.store.Open(ctx, sessionID, principalID, now)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	sess := t.open[sessionID]
	if sess == nil {
		sess = make(map[uuid.UUID]*Handle)
		t.open[sessionID] = sess
	}
	if h, ok := sess[principalID]; ok {
		// A concurrent join won the race; the store reused the same open
		// row, so nothing needs undoing.
		t.mu.Unlock()
		return h, nil
	}
	h := &Handle{SessionID: sessionID, PrincipalID: principalID, rowID: rowID, joinedAt: now}
	sess[principalID] = h
	t.rev[sessionID]++
	rev := t.rev[sessionID]
	count := len(sess)
	handlers := append([]ChangeHandler(nil), t.onChange...)
	t.mu.Unlock()

	t.notifyChange(sessionID, rev, count, handlers)
	return h, nil
}

// notifyChange fires change handlers unless a later membership revision
// has already been delivered for the session.
func (t *Tracker) notifyChange(sessionID uuid.UUID, rev uint64, count int, handlers []ChangeHandler) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if rev <= t.notified[sessionID] {
		return
	}
	t.notified[sessionID] = rev
	for _, fn := range handlers {
		fn(sessionID, count)
	}
}

// Leave closes the participation for the handle. Calling it again on the
// same handle is a no-op, not an error.
func (t *Tracker) Leave(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	t.mu.Lock()
	sess := t.open[h.SessionID]
	if sess == nil || sess[h.PrincipalID] != h {
		t.mu.Unlock()
		return nil // already left, or superseded by a rejoin
	}
	delete(sess, h.PrincipalID)
	count := len(sess)
	if count == 0 {
		delete(t.open, h.SessionID)
	}
	t.rev[h.SessionID]++
	rev := t.rev[h.SessionID]
	changeHandlers := append([]ChangeHandler(nil), t.onChange...)
	leaveHandlers := append([]LeaveHandler(nil), t.onLeave...)
	t.mu.Unlock()

	if err := t.store.Close(ctx, h.rowID, time.Now()); err != nil {
		return err
	}
	t.notifyChange(h.SessionID, rev, count, changeHandlers)
	for _, fn := range leaveHandlers {
		fn(h.SessionID, h.PrincipalID)
	}
	return nil
}

// Count returns the current viewer count, derived from open participations.
func (t *Tracker) Count(sessionID uuid.UUID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open[sessionID])
}

// Present reports whether the principal has an open participation.
func (t *Tracker) Present(sessionID, principalID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess := t.open[sessionID]
	if sess == nil {
		return false
	}
	_, ok := sess[principalID]
	return ok
}

// CloseSession closes every open participation in the session (session end).
func (t *Tracker) CloseSession(ctx context.Context, sessionID uuid.UUID) error {
	t.mu.Lock()
	sess := t.open[sessionID]
	var principals []uuid.UUID
	for pid := range sess {
		principals = append(principals, pid)
	}
	delete(t.open, sessionID)
	delete(t.rev, sessionID)
	leaveHandlers := append([]LeaveHandler(nil), t.onLeave...)
	t.mu.Unlock()

	t.notifyMu.Lock()
	delete(t.notified, sessionID)
	t.notifyMu.Unlock()

	if err := t.store.CloseAllOpen(ctx, sessionID, time.Now()); err != nil {
		return err
	}
	for _, pid := range principals {
		for _, fn := range leaveHandlers {
			fn(sessionID, pid)
		}
	}
	return nil
}
