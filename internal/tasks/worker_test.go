package tasks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuslive/backend/internal/models"
)

// memTaskStore mirrors the SQL store's claim semantics: eligible pending
// tasks ordered by priority then creation, claims moving rows to
// processing atomically under a mutex.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.AnalysisTask
	seq   int
	now   func() time.Time
}

func newMemTaskStore(now func() time.Time) *memTaskStore {
	if now == nil {
		now = time.Now
	}
	return &memTaskStore{tasks: make(map[uuid.UUID]*models.AnalysisTask), now: now}
}

func (m *memTaskStore) add(t *models.AnalysisTask) *models.AnalysisTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Priority == 0 {
		t.Priority = 100
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = 3
	}
	t.Status = models.TaskPending
	t.CreatedAt = m.now().Add(time.Duration(m.seq) * time.Millisecond)
	if t.NextRunAt.IsZero() {
		t.NextRunAt = m.now()
	}
	m.tasks[t.ID] = t
	return t
}

func (m *memTaskStore) ClaimNext(_ context.Context) (*models.AnalysisTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var eligible []*models.AnalysisTask
	for _, t := range m.tasks {
		if t.Status == models.TaskPending && !t.NextRunAt.After(m.now()) {
			eligible = append(eligible, t)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority < eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	t := eligible[0]
	t.Status = models.TaskProcessing
	at := m.now()
	t.StartedAt = &at
	cp := *t
	return &cp, nil
}

func (m *memTaskStore) Complete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok && t.Status == models.TaskProcessing {
		t.Status = models.TaskCompleted
	}
	return nil
}

func (m *memTaskStore) Retry(_ context.Context, id uuid.UUID, nextRun time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok && t.Status == models.TaskProcessing {
		t.Status = models.TaskPending
		t.RetryCount++
		t.NextRunAt = nextRun
		t.StartedAt = nil
		t.LastError = lastError
	}
	return nil
}

func (m *memTaskStore) FailTerminal(_ context.Context, id uuid.UUID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok && t.Status == models.TaskProcessing {
		t.Status = models.TaskFailed
		t.RetryCount++
		t.LastError = lastError
	}
	return nil
}

func (m *memTaskStore) ReclaimStale(_ context.Context, staleAfter time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	cutoff := m.now().Add(-staleAfter)
	for _, t := range m.tasks {
		if t.Status == models.TaskProcessing && t.StartedAt != nil && t.StartedAt.Before(cutoff) {
			t.Status = models.TaskPending
			t.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *memTaskStore) get(id uuid.UUID) models.AnalysisTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tasks[id]
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	base := 10 * time.Second
	limit := 10 * time.Minute

	assert.Equal(t, 10*time.Second, NextBackoff(base, limit, 0))
	assert.Equal(t, 20*time.Second, NextBackoff(base, limit, 1))
	assert.Equal(t, 40*time.Second, NextBackoff(base, limit, 2))

	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d := NextBackoff(base, limit, i)
		assert.GreaterOrEqual(t, d, prev, "delay must never shrink")
		assert.LessOrEqual(t, d, limit, "delay must never exceed the cap")
		prev = d
	}
	assert.Equal(t, limit, NextBackoff(base, limit, 30))
}

func TestWorkerCompletesTask(t *testing.T) {
	store := newMemTaskStore(nil)
	task := store.add(&models.AnalysisTask{Type: models.TaskChatAnalysis, TargetID: uuid.New()})

	var executed int
	w := NewWorker(store, Options{}, nil, nil)
	w.Register(models.TaskChatAnalysis, ExecutorFunc(func(context.Context, *models.AnalysisTask) error {
		executed++
		return nil
	}))

	claimed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 1, executed)
	assert.Equal(t, models.TaskCompleted, store.get(task.ID).Status)
}

func TestWorkerRetriesWithBackoffThenFailsTerminally(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := newMemTaskStore(clock)
	task := store.add(&models.AnalysisTask{Type: models.TaskChatAnalysis, TargetID: uuid.New(), MaxRetries: 3})

	var attempts int
	w := NewWorker(store, Options{BackoffBase: 10 * time.Second, BackoffCap: 10 * time.Minute}, nil, nil)
	w.now = clock
	w.Register(models.TaskChatAnalysis, ExecutorFunc(func(context.Context, *models.AnalysisTask) error {
		attempts++
		return errors.New("engine unavailable")
	}))

	// Attempt 1 fails: retry scheduled at base delay.
	claimed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, claimed)
	got := store.get(task.ID)
	assert.Equal(t, models.TaskPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, now.Add(10*time.Second), got.NextRunAt)

	// Not eligible until the backoff elapses.
	claimed, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)

	// Attempt 2 fails: delay doubles.
	now = now.Add(10 * time.Second)
	claimed, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, claimed)
	got = store.get(task.ID)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, now.Add(20*time.Second), got.NextRunAt)

	// Attempt 3 exhausts retries: terminal failure, kept for review.
	now = now.Add(20 * time.Second)
	claimed, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, claimed)
	got = store.get(task.ID)
	assert.Equal(t, models.TaskFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Equal(t, "engine unavailable", got.LastError)

	// A 4th attempt never runs.
	now = now.Add(time.Hour)
	claimed, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, 3, attempts)
}

func TestWorkerClaimsByPriorityThenFIFO(t *testing.T) {
	store := newMemTaskStore(nil)
	low := store.add(&models.AnalysisTask{Type: models.TaskChatAnalysis, Priority: 100})
	urgent := store.add(&models.AnalysisTask{Type: models.TaskChatAnalysis, Priority: 50})
	urgent2 := store.add(&models.AnalysisTask{Type: models.TaskChatAnalysis, Priority: 50})

	var order []uuid.UUID
	w := NewWorker(store, Options{}, nil, nil)
	w.Register(models.TaskChatAnalysis, ExecutorFunc(func(_ context.Context, task *models.AnalysisTask) error {
		order = append(order, task.ID)
		return nil
	}))

	for i := 0; i < 3; i++ {
		claimed, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		require.True(t, claimed)
	}
	assert.Equal(t, []uuid.UUID{urgent.ID, urgent2.ID, low.ID}, order)
}

func TestWorkerFailsUnknownTaskType(t *testing.T) {
	store := newMemTaskStore(nil)
	task := store.add(&models.AnalysisTask{Type: models.TaskType("mystery")})

	w := NewWorker(store, Options{}, nil, nil)
	claimed, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, claimed)

	got := store.get(task.ID)
	assert.Equal(t, models.TaskFailed, got.Status)
	assert.Contains(t, got.LastError, "mystery")
}

func TestConcurrentClaimNeverDoubleExecutes(t *testing.T) {
	store := newMemTaskStore(nil)
	const nTasks = 20
	for i := 0; i < nTasks; i++ {
		store.add(&models.AnalysisTask{Type: models.TaskChatAnalysis})
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)
	makeWorker := func() *Worker {
		w := NewWorker(store, Options{}, nil, nil)
		w.Register(models.TaskChatAnalysis, ExecutorFunc(func(_ context.Context, task *models.AnalysisTask) error {
			mu.Lock()
			seen[task.ID]++
			mu.Unlock()
			return nil
		}))
		return w
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := makeWorker()
			for {
				claimed, err := w.RunOnce(context.Background())
				require.NoError(t, err)
				if !claimed {
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, nTasks, "every task must run")
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %s executed more than once", id)
	}
}

func TestStaleTasksAreReclaimed(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := newMemTaskStore(clock)
	task := store.add(&models.AnalysisTask{Type: models.TaskChatAnalysis})

	// Claim, then simulate a crashed worker by never resolving the task.
	claimed, err := store.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, models.TaskProcessing, store.get(task.ID).Status)

	now = now.Add(10 * time.Minute)
	n, err := store.ReclaimStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, models.TaskPending, store.get(task.ID).Status)

	// The reclaimed task is runnable again.
	w := NewWorker(store, Options{}, nil, nil)
	w.Register(models.TaskChatAnalysis, ExecutorFunc(func(context.Context, *models.AnalysisTask) error {
		return nil
	}))
	ok, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.TaskCompleted, store.get(task.ID).Status)
}
