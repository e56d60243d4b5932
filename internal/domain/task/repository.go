package task

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists tasks and batches
type Repository interface {
	// Create inserts a new task in Pending state
	Create(ctx context.Context, t *Task) error

	// Get returns a point-in-time read of a task
	Get(ctx context.Context, id uuid.UUID) (*Task, error)

	// UpdateStatus transitions a task's status; start/completion timestamps
	// are set according to the target state
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, failureReason *string) error

	// UpdateProgress records a progress checkpoint and refreshes last_progress_at
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error

	// IncrementRetries bumps the per-task retry counter
	IncrementRetries(ctx context.Context, id uuid.UUID) error

	// ListZombies returns Running tasks with no progress since the cutoff
	ListZombies(ctx context.Context, cutoff time.Time) ([]*Task, error)

	// ListByOwner returns tasks for an owner, most recent first
	ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*Task, error)

	// CreateBatch inserts a batch record
	CreateBatch(ctx context.Context, b *Batch) error

	// GetBatch returns a batch with aggregate counters recomputed from members
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)

	// ListBatchTasks returns the member tasks of a batch in submission order
	ListBatchTasks(ctx context.Context, batchID uuid.UUID) ([]*Task, error)
}

// ProgressLog is the durable, replayable progress record
type ProgressLog interface {
	// Append persists one event; assigns the per-task sequence number
	Append(ctx context.Context, ev *ProgressEvent) error

	// Replay returns all events for a task in append order
	Replay(ctx context.Context, taskID uuid.UUID) ([]ProgressEvent, error)

	// ReplayBatch returns the union of events for a batch's member tasks,
	// each tagged with its originating task id
	ReplayBatch(ctx context.Context, batchID uuid.UUID) ([]ProgressEvent, error)
}

// ReportRepository persists final decision artifacts
type ReportRepository interface {
	// Save stores the artifact and full history for a task
	Save(ctx context.Context, r *Report) error

	// Get retrieves the artifact for a task
	Get(ctx context.Context, taskID uuid.UUID) (*Report, error)
}
