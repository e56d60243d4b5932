package task

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Status enumerates task lifecycle states
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid checks if the status is a known value
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// String returns string representation
func (s Status) String() string {
	return string(s)
}

// Task is one deliberation run owned by the lifecycle manager.
// Mutable fields change only through the manager's defined transitions.
type Task struct {
	ID      uuid.UUID  `db:"id"`
	BatchID *uuid.UUID `db:"batch_id"`

	OwnerRef string `db:"owner_ref"`
	Symbol   string `db:"symbol"`
	Market   string `db:"market"`

	DepthLevel   int            `db:"depth_level"`
	Capabilities pq.StringArray `db:"capabilities"` // resolved stage order
	Advisories   pq.StringArray `db:"advisories"`   // capabilities dropped by market restrictions

	Status   Status `db:"status"`
	Progress int    `db:"progress"` // 0-100, completed steps over total steps

	RetryCount    int     `db:"retry_count"`
	FailureReason *string `db:"failure_reason"`

	EstimateSeconds int `db:"estimate_seconds"`

	CreatedAt      time.Time  `db:"created_at"`
	StartedAt      *time.Time `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	LastProgressAt time.Time  `db:"last_progress_at"`
}

// BatchStatus enumerates aggregate batch states
type BatchStatus string

const (
	BatchPending        BatchStatus = "pending"
	BatchProcessing     BatchStatus = "processing"
	BatchCompleted      BatchStatus = "completed"
	BatchPartialSuccess BatchStatus = "partial_success"
	BatchFailed         BatchStatus = "failed"
	BatchCancelled      BatchStatus = "cancelled"
)

// Batch groups tasks submitted together for aggregate tracking
type Batch struct {
	ID       uuid.UUID `db:"id"`
	OwnerRef string    `db:"owner_ref"`
	Title    string    `db:"title"`

	Status BatchStatus `db:"status"`

	TotalTasks     int `db:"total_tasks"`
	CompletedTasks int `db:"completed_tasks"`
	FailedTasks    int `db:"failed_tasks"`
	CancelledTasks int `db:"cancelled_tasks"`
	Progress       int `db:"progress"` // 0-100 across member tasks

	CreatedAt   time.Time  `db:"created_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// ProgressEvent is one append-only progress record for a task.
// Events are ordered by sequence within a task; Seq is assigned by the
// durable log on append.
type ProgressEvent struct {
	Seq       int64      `db:"seq" json:"seq"`
	TaskID    uuid.UUID  `db:"task_id" json:"task_id"`
	BatchID   *uuid.UUID `db:"batch_id" json:"batch_id,omitempty"`
	Stage     string     `db:"stage" json:"stage"`
	Phase     string     `db:"phase" json:"phase"`
	TurnCount int        `db:"turn_count" json:"turn_count"`
	Progress  int        `db:"progress" json:"progress"`
	Message   string     `db:"message" json:"message"`
	Timestamp time.Time  `db:"created_at" json:"timestamp"`
}

// HistoryEntry is one produced document in a deliberation: an analyst
// report, a debate statement, or a synthesis.
type HistoryEntry struct {
	Step    string `json:"step"`    // e.g. "stage:market", "debate:bull", "synthesis:research_manager"
	Role    string `json:"role"`    // actor role, empty for analyst stages
	Content string `json:"content"`
}

// Report is the persisted final artifact of a completed task
type Report struct {
	TaskID     uuid.UUID      `db:"task_id"`
	Decision   string         `db:"decision"`
	Confidence float64        `db:"confidence"`
	Degraded   bool           `db:"degraded"` // synthesis fell back to the conservative default
	History    []HistoryEntry `db:"-"`
	CreatedAt  time.Time      `db:"created_at"`
}
