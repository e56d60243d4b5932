package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"delphi/internal/domain/task"
	"delphi/pkg/errors"
)

var _ task.ProgressLog = (*ProgressLog)(nil)

// ProgressLog is the durable append-only progress record. Sequence numbers
// are assigned per task by the insert itself, so append order and replay
// order agree even with concurrent writers on other tasks.
type ProgressLog struct {
	db *sqlx.DB
}

// NewProgressLog creates a new PostgreSQL progress log
func NewProgressLog(db *sqlx.DB) *ProgressLog {
	return &ProgressLog{db: db}
}

// Append persists one event and fills in the assigned sequence number
func (l *ProgressLog) Append(ctx context.Context, ev *task.ProgressEvent) error {
	query := `
		INSERT INTO progress_events (
			task_id, batch_id, seq, stage, phase, turn_count, progress, message, created_at
		)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7, $8
		FROM progress_events WHERE task_id = $1
		RETURNING seq`

	err := l.db.QueryRowContext(ctx, query,
		ev.TaskID, ev.BatchID, ev.Stage, ev.Phase, ev.TurnCount,
		ev.Progress, ev.Message, ev.Timestamp,
	).Scan(&ev.Seq)
	if err != nil {
		return errors.Wrap(err, "failed to append progress event")
	}
	return nil
}

// Replay returns all events for a task in append order
func (l *ProgressLog) Replay(ctx context.Context, taskID uuid.UUID) ([]task.ProgressEvent, error) {
	var events []task.ProgressEvent
	query := `
		SELECT * FROM progress_events
		WHERE task_id = $1
		ORDER BY seq ASC`

	if err := l.db.SelectContext(ctx, &events, query, taskID); err != nil {
		return nil, errors.Wrap(err, "failed to replay progress events")
	}
	return events, nil
}

// ReplayBatch returns the union of events for a batch's member tasks,
// ordered by append time then per-task sequence
func (l *ProgressLog) ReplayBatch(ctx context.Context, batchID uuid.UUID) ([]task.ProgressEvent, error) {
	var events []task.ProgressEvent
	query := `
		SELECT * FROM progress_events
		WHERE batch_id = $1
		ORDER BY created_at ASC, seq ASC`

	if err := l.db.SelectContext(ctx, &events, query, batchID); err != nil {
		return nil, errors.Wrap(err, "failed to replay batch progress events")
	}
	return events, nil
}
