package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"delphi/internal/domain/task"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// Compile-time check
var _ task.Repository = (*TaskRepository)(nil)

// TaskRepository implements task.Repository using PostgreSQL
type TaskRepository struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewTaskRepository creates a new PostgreSQL task repository
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{
		db:  db,
		log: logger.Get().With("component", "task_repository"),
	}
}

// Create inserts a new task in Pending state
func (r *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	query := `
		INSERT INTO tasks (
			id, batch_id, owner_ref, symbol, market,
			depth_level, capabilities, advisories,
			status, progress, retry_count, estimate_seconds,
			created_at, last_progress_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.BatchID, t.OwnerRef, t.Symbol, t.Market,
		t.DepthLevel, t.Capabilities, t.Advisories,
		t.Status, t.Progress, t.RetryCount, t.EstimateSeconds,
		t.CreatedAt, t.LastProgressAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create task")
	}
	return nil
}

// Get returns a point-in-time read of a task
func (r *TaskRepository) Get(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	var t task.Task
	err := r.db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrTaskNotFound, "task %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task")
	}
	return &t, nil
}

// UpdateStatus transitions a task's status. Terminal states also set
// completed_at; Running sets started_at. The WHERE clause refuses to
// move a task out of a terminal state.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status task.Status, failureReason *string) error {
	now := time.Now().UTC()

	query := `
		UPDATE tasks SET
			status = $2,
			failure_reason = COALESCE($3, failure_reason),
			started_at = CASE WHEN $2 = 'running' THEN $4 ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN $4 ELSE completed_at END,
			last_progress_at = $4
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`

	res, err := r.db.ExecContext(ctx, query, id, status, failureReason, now)
	if err != nil {
		return errors.Wrap(err, "failed to update task status")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrTaskTerminal, "task %s", id)
	}
	return nil
}

// UpdateProgress records a progress checkpoint
func (r *TaskRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `
		UPDATE tasks SET progress = $2, last_progress_at = $3
		WHERE id = $1 AND status = 'running'`

	_, err := r.db.ExecContext(ctx, query, id, progress, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to update progress")
	}
	return nil
}

// IncrementRetries bumps the per-task retry counter
func (r *TaskRepository) IncrementRetries(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tasks SET retry_count = retry_count + 1 WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to increment retries")
	}
	return nil
}

// ListZombies returns Running tasks whose last progress predates cutoff
func (r *TaskRepository) ListZombies(ctx context.Context, cutoff time.Time) ([]*task.Task, error) {
	var tasks []*task.Task
	query := `
		SELECT * FROM tasks
		WHERE status = 'running' AND last_progress_at < $1
		ORDER BY last_progress_at ASC`

	if err := r.db.SelectContext(ctx, &tasks, query, cutoff); err != nil {
		return nil, errors.Wrap(err, "failed to list zombies")
	}
	return tasks, nil
}

// ListByOwner returns tasks for an owner, most recent first
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*task.Task, error) {
	var tasks []*task.Task
	query := `
		SELECT * FROM tasks
		WHERE owner_ref = $1
		ORDER BY created_at DESC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &tasks, query, ownerRef, limit); err != nil {
		return nil, errors.Wrap(err, "failed to list tasks by owner")
	}
	return tasks, nil
}

// CreateBatch inserts a batch record
func (r *TaskRepository) CreateBatch(ctx context.Context, b *task.Batch) error {
	query := `
		INSERT INTO task_batches (id, owner_ref, title, status, total_tasks, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query, b.ID, b.OwnerRef, b.Title, b.Status, b.TotalTasks, b.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "failed to create batch")
	}
	return nil
}

// GetBatch returns a batch with aggregate counters recomputed from its
// member tasks
func (r *TaskRepository) GetBatch(ctx context.Context, id uuid.UUID) (*task.Batch, error) {
	var b task.Batch
	err := r.db.GetContext(ctx, &b, `SELECT * FROM task_batches WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "batch %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get batch")
	}

	var agg struct {
		Total     int `db:"total"`
		Completed int `db:"completed"`
		Failed    int `db:"failed"`
		Cancelled int `db:"cancelled"`
		Progress  int `db:"progress"`
	}
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
			COALESCE(AVG(progress), 0)::int AS progress
		FROM tasks WHERE batch_id = $1`

	if err := r.db.GetContext(ctx, &agg, query, id); err != nil {
		return nil, errors.Wrap(err, "failed to aggregate batch")
	}

	b.TotalTasks = agg.Total
	b.CompletedTasks = agg.Completed
	b.FailedTasks = agg.Failed
	b.CancelledTasks = agg.Cancelled
	b.Progress = agg.Progress
	b.Status = aggregateBatchStatus(agg.Total, agg.Completed, agg.Failed, agg.Cancelled)

	return &b, nil
}

// ListBatchTasks returns the member tasks in submission order
func (r *TaskRepository) ListBatchTasks(ctx context.Context, batchID uuid.UUID) ([]*task.Task, error) {
	var tasks []*task.Task
	query := `SELECT * FROM tasks WHERE batch_id = $1 ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &tasks, query, batchID); err != nil {
		return nil, errors.Wrap(err, "failed to list batch tasks")
	}
	return tasks, nil
}

// aggregateBatchStatus derives the batch state from member terminal counts
func aggregateBatchStatus(total, completed, failed, cancelled int) task.BatchStatus {
	terminal := completed + failed + cancelled
	switch {
	case total == 0 || terminal < total:
		if terminal > 0 {
			return task.BatchProcessing
		}
		return task.BatchPending
	case completed == total:
		return task.BatchCompleted
	case cancelled == total:
		return task.BatchCancelled
	case failed == total:
		return task.BatchFailed
	case completed > 0:
		return task.BatchPartialSuccess
	default:
		return task.BatchFailed
	}
}
