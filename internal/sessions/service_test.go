package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslive/backend/internal/models"
)

// memStore is an in-memory Store with compare-and-set transitions, the
// same contract the SQL repository provides.
type memStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.LiveSession
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[uuid.UUID]*models.LiveSession)}
}

func (m *memStore) Create(_ context.Context, s *models.LiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) List(_ context.Context, hostID *uuid.UUID) ([]models.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LiveSession
	for _, s := range m.sessions {
		if hostID == nil || s.HostID == *hostID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) TransitionToLive(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != models.SessionScheduled {
		return false, nil
	}
	s.Status = models.SessionLive
	s.ActualStart = &at
	s.ViewerCount = 0
	return true, nil
}

func (m *memStore) TransitionToEnded(_ context.Context, id uuid.UUID, at time.Time, finalViewers int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != models.SessionLive {
		return false, nil
	}
	s.Status = models.SessionEnded
	s.ActualEnd = &at
	s.ViewerCount = finalViewers
	return true, nil
}

func (m *memStore) TransitionToCancelled(_ context.Context, id uuid.UUID, from models.SessionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != from || s.Status.Terminal() {
		return false, nil
	}
	s.Status = models.SessionCancelled
	return true, nil
}

func (m *memStore) UpdateViewerCount(_ context.Context, id uuid.UUID, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && s.Status == models.SessionLive {
		s.ViewerCount = count
	}
	return nil
}

type fixedCounter int

func (f fixedCounter) Count(uuid.UUID) int { return int(f) }

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (e *eventRecorder) Broadcast(_ uuid.UUID, event string, _ interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *eventRecorder) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func schedule(t *testing.T, svc *Service, hostID uuid.UUID) *models.LiveSession {
	t.Helper()
	sess, err := svc.Schedule(context.Background(), CreateInput{
		HostID:         hostID,
		Title:          "office hours",
		ScheduledStart: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, models.SessionScheduled, sess.Status)
	require.NotEmpty(t, sess.RoomID)
	return sess
}

func TestGoLiveHostOnly(t *testing.T) {
	store := newMemStore()
	events := &eventRecorder{}
	svc := NewService(store, fixedCounter(0), events, nil)
	hostID := uuid.New()
	sess := schedule(t, svc, hostID)

	_, err := svc.GoLive(context.Background(), sess.ID, uuid.New(), "student")
	assert.ErrorIs(t, err, models.ErrNotHost)

	live, err := svc.GoLive(context.Background(), sess.ID, hostID, "instructor")
	require.NoError(t, err)
	assert.Equal(t, models.SessionLive, live.Status)
	assert.NotNil(t, live.ActualStart)
	assert.Equal(t, 0, live.ViewerCount)
	assert.Equal(t, []string{"session_started"}, events.list())
}

func TestEndStampsFinalViewerCount(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedCounter(42), &eventRecorder{}, nil)
	hostID := uuid.New()
	sess := schedule(t, svc, hostID)
	_, err := svc.GoLive(context.Background(), sess.ID, hostID, "instructor")
	require.NoError(t, err)

	ended, err := svc.End(context.Background(), sess.ID, hostID, "instructor")
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, ended.Status)
	assert.NotNil(t, ended.ActualEnd)
	assert.Equal(t, 42, ended.ViewerCount)
}

func TestEndRequiresHostOrAdmin(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedCounter(0), nil, nil)
	hostID := uuid.New()
	sess := schedule(t, svc, hostID)
	_, err := svc.GoLive(context.Background(), sess.ID, hostID, "instructor")
	require.NoError(t, err)

	_, err = svc.End(context.Background(), sess.ID, uuid.New(), "student")
	assert.ErrorIs(t, err, models.ErrNotHost)

	// Admin may end a session they do not host.
	_, err = svc.End(context.Background(), sess.ID, uuid.New(), RoleAdmin)
	assert.NoError(t, err)
}

func TestInvalidTransitionsRejected(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedCounter(0), nil, nil)
	hostID := uuid.New()
	sess := schedule(t, svc, hostID)

	// scheduled -> ended is not a valid path.
	_, err := svc.End(context.Background(), sess.ID, hostID, "instructor")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = svc.GoLive(context.Background(), sess.ID, hostID, "instructor")
	require.NoError(t, err)

	// live -> live must fail.
	_, err = svc.GoLive(context.Background(), sess.ID, hostID, "instructor")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = svc.End(context.Background(), sess.ID, hostID, "instructor")
	require.NoError(t, err)

	// Terminal states reject everything, including cancel.
	_, err = svc.Cancel(context.Background(), sess.ID, hostID, "instructor")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = svc.GoLive(context.Background(), sess.ID, hostID, "instructor")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCancelFromScheduledAndLive(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedCounter(0), nil, nil)
	hostID := uuid.New()

	fromScheduled := schedule(t, svc, hostID)
	got, err := svc.Cancel(context.Background(), fromScheduled.ID, hostID, "instructor")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, got.Status)

	fromLive := schedule(t, svc, hostID)
	_, err = svc.GoLive(context.Background(), fromLive.ID, hostID, "instructor")
	require.NoError(t, err)
	got, err = svc.Cancel(context.Background(), fromLive.ID, hostID, "instructor")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, got.Status)
}

func TestConcurrentEndAppliesOnce(t *testing.T) {
	store := newMemStore()
	events := &eventRecorder{}
	svc := NewService(store, fixedCounter(7), events, nil)
	hostID := uuid.New()
	sess := schedule(t, svc, hostID)
	_, err := svc.GoLive(context.Background(), sess.ID, hostID, "instructor")
	require.NoError(t, err)

	var endedCalls int32
	var mu sync.Mutex
	svc.OnEnded(func(_ context.Context, _ *models.LiveSession) {
		mu.Lock()
		endedCalls++
		mu.Unlock()
	})

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.End(context.Background(), sess.ID, hostID, "instructor")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, models.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, wins, "exactly one End call must win")
	assert.Equal(t, int32(1), endedCalls, "ended handlers must run once")

	started := 0
	for _, e := range events.list() {
		if e == "session_ended" {
			started++
		}
	}
	assert.Equal(t, 1, started, "session_ended must broadcast once")
}

func TestOnEndedFiresOnCancelOnlyWhenLive(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, fixedCounter(0), nil, nil)
	hostID := uuid.New()

	var fired int
	svc.OnEnded(func(_ context.Context, _ *models.LiveSession) { fired++ })

	scheduled := schedule(t, svc, hostID)
	_, err := svc.Cancel(context.Background(), scheduled.ID, hostID, "instructor")
	require.NoError(t, err)
	assert.Equal(t, 0, fired, "cancelling a scheduled session has no room to tear down")

	live := schedule(t, svc, hostID)
	_, err = svc.GoLive(context.Background(), live.ID, hostID, "instructor")
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), live.ID, hostID, "instructor")
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}
