package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"delphi/internal/domain/task"
	"delphi/pkg/errors"
)

var _ task.ReportRepository = (*ReportRepository)(nil)

// ReportRepository persists final decision artifacts
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository creates a new PostgreSQL report repository
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Save stores the artifact and full history for a task. Saving twice for
// the same task overwrites; the task only completes once, so the second
// write can only come from a retried completion path.
func (r *ReportRepository) Save(ctx context.Context, rep *task.Report) error {
	history, err := json.Marshal(rep.History)
	if err != nil {
		return errors.Wrap(err, "failed to marshal report history")
	}

	query := `
		INSERT INTO reports (task_id, decision, confidence, degraded, history, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE SET
			decision = EXCLUDED.decision,
			confidence = EXCLUDED.confidence,
			degraded = EXCLUDED.degraded,
			history = EXCLUDED.history`

	_, err = r.db.ExecContext(ctx, query,
		rep.TaskID, rep.Decision, rep.Confidence, rep.Degraded, history, rep.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save report")
	}
	return nil
}

// Get retrieves the artifact for a task
func (r *ReportRepository) Get(ctx context.Context, taskID uuid.UUID) (*task.Report, error) {
	var row struct {
		task.Report
		RawHistory []byte `db:"history"`
	}

	query := `SELECT task_id, decision, confidence, degraded, history, created_at FROM reports WHERE task_id = $1`
	err := r.db.GetContext(ctx, &row, query, taskID)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "report for task %s", taskID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get report")
	}

	rep := row.Report
	if len(row.RawHistory) > 0 {
		if err := json.Unmarshal(row.RawHistory, &rep.History); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal report history")
		}
	}
	return &rep, nil
}
