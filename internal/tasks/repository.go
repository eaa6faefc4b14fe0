package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuslive/backend/internal/models"
)

const taskColumns = `id, type, target_id, session_id, priority, status, retry_count,
	max_retries, next_run_at, started_at, last_error, created_at, completed_at`

// Repository is the pgx-backed analysis task store.
type Repository struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewRepository creates a task repository. maxRetries is the default for
// newly enqueued tasks.
func NewRepository(pool *pgxpool.Pool, maxRetries int) *Repository {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Repository{pool: pool, maxRetries: maxRetries}
}

func scanTask(row pgx.Row) (*models.AnalysisTask, error) {
	var t models.AnalysisTask
	err := row.Scan(&t.ID, &t.Type, &t.TargetID, &t.SessionID, &t.Priority, &t.Status,
		&t.RetryCount, &t.MaxRetries, &t.NextRunAt, &t.StartedAt, &t.LastError,
		&t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Enqueue inserts a pending task eligible to run immediately.
func (r *Repository) Enqueue(ctx context.Context, task *models.AnalysisTask) error {
	if task.MaxRetries == 0 {
		task.MaxRetries = r.maxRetries
	}
	if task.Priority == 0 {
		task.Priority = 100
	}
	const q = `INSERT INTO analysis_tasks (type, target_id, session_id, priority, status, max_retries, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, next_run_at, created_at`
	return r.pool.QueryRow(ctx, q, task.Type, task.TargetID, task.SessionID, task.Priority,
		models.TaskPending, task.MaxRetries).
		Scan(&task.ID, &task.NextRunAt, &task.CreatedAt)
}

// ClaimNext atomically claims the most urgent eligible pending task,
// moving it to processing. FOR UPDATE SKIP LOCKED makes the claim safe
// under multiple worker instances; a task can never be double-claimed.
// Returns nil when nothing is eligible.
func (r *Repository) ClaimNext(ctx context.Context) (*models.AnalysisTask, error) {
	const q = `UPDATE analysis_tasks SET status = $1, started_at = NOW()
		WHERE id = (
			SELECT id FROM analysis_tasks
			WHERE status = $2 AND next_run_at <= NOW()
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns
	t, err := scanTask(r.pool.QueryRow(ctx, q, models.TaskProcessing, models.TaskPending))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// Complete marks a processing task completed.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE analysis_tasks SET status = $1, completed_at = NOW()
		WHERE id = $2 AND status = $3`
	_, err := r.pool.Exec(ctx, q, models.TaskCompleted, id, models.TaskProcessing)
	return err
}

// Retry returns a failed attempt to pending with the given next run time.
func (r *Repository) Retry(ctx context.Context, id uuid.UUID, nextRun time.Time, lastError string) error {
	const q = `UPDATE analysis_tasks
		SET status = $1, retry_count = retry_count + 1, next_run_at = $2, last_error = $3, started_at = NULL
		WHERE id = $4 AND status = $5`
	_, err := r.pool.Exec(ctx, q, models.TaskPending, nextRun, lastError, id, models.TaskProcessing)
	return err
}

// FailTerminal marks a task failed after exhausting retries. The task
// stays visible for manual review rather than being dropped.
func (r *Repository) FailTerminal(ctx context.Context, id uuid.UUID, lastError string) error {
	const q = `UPDATE analysis_tasks
		SET status = $1, retry_count = retry_count + 1, last_error = $2, completed_at = NOW()
		WHERE id = $3 AND status = $4`
	_, err := r.pool.Exec(ctx, q, models.TaskFailed, lastError, id, models.TaskProcessing)
	return err
}

// ReclaimStale returns tasks stuck in processing longer than staleAfter
// back to pending (e.g. a worker crashed mid-task). Returns how many
// rows were reclaimed.
func (r *Repository) ReclaimStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	const q = `UPDATE analysis_tasks
		SET status = $1, started_at = NULL
		WHERE status = $2 AND started_at IS NOT NULL AND started_at < NOW() - $3::interval`
	tag, err := r.pool.Exec(ctx, q, models.TaskPending, models.TaskProcessing, staleAfter.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListFailed returns terminally failed tasks for manual review.
func (r *Repository) ListFailed(ctx context.Context, limit int) ([]models.AnalysisTask, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + taskColumns + ` FROM analysis_tasks
		WHERE status = $1 ORDER BY completed_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, q, models.TaskFailed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AnalysisTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}
