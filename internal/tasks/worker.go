package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campuslive/backend/internal/models"
)

// Store is the task queue as seen by the worker.
type Store interface {
	ClaimNext(ctx context.Context) (*models.AnalysisTask, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Retry(ctx context.Context, id uuid.UUID, nextRun time.Time, lastError string) error
	FailTerminal(ctx context.Context, id uuid.UUID, lastError string) error
	ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error)
}

// Executor performs one kind of task. A nil error marks the task
// completed; an error schedules a retry (or terminal failure when
// retries are exhausted).
type Executor interface {
	Execute(ctx context.Context, task *models.AnalysisTask) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *models.AnalysisTask) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task *models.AnalysisTask) error {
	return f(ctx, task)
}

// Options tunes the worker loop.
type Options struct {
	BackoffBase  time.Duration // first retry delay; doubles per retry
	BackoffCap   time.Duration // ceiling for the computed delay
	PollInterval time.Duration // sleep when the queue is empty
	StaleAfter   time.Duration // processing older than this is reclaimed
}

func (o *Options) fill() {
	if o.BackoffBase <= 0 {
		o.BackoffBase = 10 * time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
}

// NextBackoff computes the delay before retry number retryCount+1:
// base * 2^retryCount, capped at limit. Strictly increasing until the cap.
func NextBackoff(base, limit time.Duration, retryCount int) time.Duration {
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// Worker drains the analysis task queue. Multiple instances may run
// concurrently; the store's atomic claim prevents double execution.
type Worker struct {
	store     Store
	executors map[models.TaskType]Executor
	opts      Options
	wake      <-chan struct{} // optional notification channel, may be nil
	now       func() time.Time
	logger    *zap.Logger
}

// NewWorker creates a task worker. wake may be nil; the worker then
// relies on polling alone.
func NewWorker(store Store, opts Options, wake <-chan struct{}, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.fill()
	return &Worker{
		store:     store,
		executors: make(map[models.TaskType]Executor),
		opts:      opts,
		wake:      wake,
		now:       time.Now,
		logger:    logger,
	}
}

// Register binds an executor to a task type.
func (w *Worker) Register(t models.TaskType, e Executor) {
	w.executors[t] = e
}

// Run claims and executes tasks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("task worker stopping")
			return
		default:
		}

		task, err := w.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("claim failed", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if task == nil {
			w.sleep(ctx)
			continue
		}
		w.runOne(ctx, task)
	}
}

// RunOnce claims and executes at most one task. Returns whether a task
// was claimed. Used by tests and by drain tooling.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	task, err := w.store.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	w.runOne(ctx, task)
	return true, nil
}

func (w *Worker) runOne(ctx context.Context, task *models.AnalysisTask) {
	log := w.logger.With(
		zap.String("task_id", task.ID.String()),
		zap.String("type", string(task.Type)),
		zap.Int("retry", task.RetryCount))

	exec, ok := w.executors[task.Type]
	if !ok {
		// Unknown type is not retryable; surface it for review.
		log.Error("no executor for task type")
		if err := w.store.FailTerminal(ctx, task.ID, fmt.Sprintf("no executor for type %q", task.Type)); err != nil {
			log.Error("terminal fail update failed", zap.Error(err))
		}
		return
	}

	if err := exec.Execute(ctx, task); err != nil {
		if task.RetryCount+1 >= task.MaxRetries {
			log.Warn("task failed terminally", zap.Error(err))
			if uerr := w.store.FailTerminal(ctx, task.ID, err.Error()); uerr != nil {
				log.Error("terminal fail update failed", zap.Error(uerr))
			}
			return
		}
		delay := NextBackoff(w.opts.BackoffBase, w.opts.BackoffCap, task.RetryCount)
		nextRun := w.now().Add(delay)
		log.Info("task retry scheduled", zap.Duration("delay", delay), zap.Error(err))
		if uerr := w.store.Retry(ctx, task.ID, nextRun, err.Error()); uerr != nil {
			log.Error("retry update failed", zap.Error(uerr))
		}
		return
	}

	if err := w.store.Complete(ctx, task.ID); err != nil {
		log.Error("complete update failed", zap.Error(err))
		return
	}
	log.Debug("task completed")
}

func (w *Worker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-w.wake:
	}
}

// RunStaleSweeper periodically reclaims tasks stuck in processing, so a
// crash mid-task cannot strand work. Runs until ctx is done.
func (w *Worker) RunStaleSweeper(ctx context.Context) {
	ticker := time.NewTicker(w.opts.StaleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.store.ReclaimStale(ctx, w.opts.StaleAfter)
			if err != nil {
				w.logger.Warn("stale reclaim failed", zap.Error(err))
				continue
			}
			if n > 0 {
				w.logger.Info("stale tasks reclaimed", zap.Int64("count", n))
			}
		}
	}
}
