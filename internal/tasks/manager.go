package tasks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"delphi/internal/adapters/config"
	"delphi/internal/deliberation"
	"delphi/internal/domain/task"
	"delphi/internal/events"
	"delphi/internal/metrics"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// CancelFlagStore shares cooperative cancellation flags across engine
// instances. The redis adapter satisfies it; a nil store falls back to
// process-local flags only.
type CancelFlagStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// cancelFlagTTL bounds how long a cross-instance cancel flag survives; a
// task that has not honored the flag by then is zombie territory anyway.
const cancelFlagTTL = 24 * time.Hour

func cancelKey(id uuid.UUID) string { return "cancel.task." + id.String() }

// SubmitRequest is a validated submission for one deliberation
type SubmitRequest struct {
	OwnerRef     string
	Symbol       string
	Market       string
	DepthLevel   int
	Capabilities []string
}

// BatchRequest groups several submissions under one batch id
type BatchRequest struct {
	OwnerRef string
	Title    string
	Items    []SubmitRequest
}

// Manager owns the task lifecycle: it is the only component that
// transitions task status, and the single source of truth for the
// cooperative cancellation flag consulted at stage and turn boundaries.
type Manager struct {
	repo        task.Repository
	reports     task.ReportRepository
	registry    *deliberation.Registry
	broadcaster *events.Broadcaster
	publisher   *events.Publisher
	flags       CancelFlagStore // optional
	cfg         config.EngineConfig

	queue chan uuid.UUID

	mu        sync.RWMutex
	cancelled map[uuid.UUID]bool

	log *logger.Logger
}

// NewManager wires the lifecycle manager. flags may be nil for single
// instance deployments.
func NewManager(
	repo task.Repository,
	reports task.ReportRepository,
	registry *deliberation.Registry,
	broadcaster *events.Broadcaster,
	publisher *events.Publisher,
	flags CancelFlagStore,
	cfg config.EngineConfig,
) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	return &Manager{
		repo:        repo,
		reports:     reports,
		registry:    registry,
		broadcaster: broadcaster,
		publisher:   publisher,
		flags:       flags,
		cfg:         cfg,
		queue:       make(chan uuid.UUID, cfg.QueueSize),
		cancelled:   make(map[uuid.UUID]bool),
		log:         logger.Get().With("component", "task_manager"),
	}
}

// Submit validates the request, persists a Pending task and enqueues it.
// The returned task carries the resolved stage order, any restriction
// advisories, and the duration estimate.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*task.Task, error) {
	return m.submit(ctx, req, nil)
}

// SubmitBatch creates a batch and submits its members. Member validation
// failures abort the whole batch before any task is enqueued.
func (m *Manager) SubmitBatch(ctx context.Context, req BatchRequest) (*task.Batch, []*task.Task, error) {
	if len(req.Items) == 0 {
		return nil, nil, errors.NewValidationError("items", "batch must contain at least one item", len(req.Items))
	}
	for i := range req.Items {
		if err := m.validate(req.Items[i]); err != nil {
			return nil, nil, errors.Wrapf(err, "item %d", i)
		}
	}

	b := &task.Batch{
		ID:         uuid.New(),
		OwnerRef:   req.OwnerRef,
		Title:      req.Title,
		Status:     task.BatchPending,
		TotalTasks: len(req.Items),
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.repo.CreateBatch(ctx, b); err != nil {
		return nil, nil, err
	}

	tasks := make([]*task.Task, 0, len(req.Items))
	for _, item := range req.Items {
		t, err := m.submit(ctx, item, &b.ID)
		if err != nil {
			return b, tasks, errors.Wrapf(err, "batch %s", b.ID)
		}
		tasks = append(tasks, t)
	}

	return b, tasks, nil
}

func (m *Manager) submit(ctx context.Context, req SubmitRequest, batchID *uuid.UUID) (*task.Task, error) {
	if err := m.validate(req); err != nil {
		return nil, err
	}

	profile := deliberation.ResolveDepth(req.DepthLevel)
	stages, advisories, err := m.registry.ResolveStages(req.Capabilities, req.Market)
	if err != nil {
		return nil, err
	}

	capabilities := make([]string, len(stages))
	for i, s := range stages {
		capabilities[i] = s.Capability
	}

	now := time.Now().UTC()
	t := &task.Task{
		ID:              uuid.New(),
		BatchID:         batchID,
		OwnerRef:        req.OwnerRef,
		Symbol:          strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Market:          req.Market,
		DepthLevel:      profile.Level,
		Capabilities:    capabilities,
		Advisories:      advisories,
		Status:          task.StatusPending,
		EstimateSeconds: profile.EstimateSeconds(len(stages)),
		CreatedAt:       now,
		LastProgressAt:  now,
	}

	if err := m.repo.Create(ctx, t); err != nil {
		return nil, err
	}

	select {
	case m.queue <- t.ID:
		metrics.QueueDepth.Set(float64(len(m.queue)))
	default:
		reason := "submission queue full"
		_ = m.repo.UpdateStatus(ctx, t.ID, task.StatusFailed, &reason)
		return nil, errors.Wrapf(errors.ErrQueueFull, "capacity %d", m.cfg.QueueSize)
	}

	metrics.TasksSubmitted.WithLabelValues(t.Market, fmt.Sprintf("%d", t.DepthLevel)).Inc()
	m.log.Infof("Task %s submitted: %s/%s depth=%d stages=%v", t.ID, t.Market, t.Symbol, t.DepthLevel, capabilities)

	return t, nil
}

func (m *Manager) validate(req SubmitRequest) error {
	if strings.TrimSpace(req.OwnerRef) == "" {
		return errors.NewValidationError("owner_ref", "must not be empty", req.OwnerRef)
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return errors.NewValidationError("symbol", "must not be empty", req.Symbol)
	}
	if !m.registry.KnownMarket(req.Market) {
		return errors.Wrapf(errors.ErrUnknownMarket, "market %q", req.Market)
	}
	return nil
}

// Cancel requests cooperative cancellation. Idempotent: cancelling a
// terminal task is a no-op, not an error. A Pending task transitions
// immediately; a Running task is flagged and honors the flag at the next
// stage or turn boundary.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) error {
	t, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}

	m.raiseCancelFlag(ctx, id)
	m.log.Infof("Cancellation requested for task %s (status %s)", id, t.Status)

	if t.Status == task.StatusPending {
		// The worker that dequeues it will observe the flag before
		// starting, but transition now so status reads are immediate.
		if err := m.repo.UpdateStatus(ctx, id, task.StatusCancelled, nil); err != nil {
			if errors.Is(err, errors.ErrTaskTerminal) {
				return nil
			}
			return err
		}
		t.Status = task.StatusCancelled
		metrics.TasksFinished.WithLabelValues(string(task.StatusCancelled)).Inc()
		m.publisher.PublishTaskCancelled(ctx, t)
	}

	return nil
}

// MarkFailed administratively fails a task with a reason. Used by the
// zombie reaper and by operators; refuses terminal tasks.
func (m *Manager) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	t, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return errors.Wrapf(errors.ErrTaskTerminal, "task %s is already %s", id, t.Status)
	}

	if err := m.repo.UpdateStatus(ctx, id, task.StatusFailed, &reason); err != nil {
		return err
	}

	t.Status = task.StatusFailed
	metrics.TasksFinished.WithLabelValues(string(task.StatusFailed)).Inc()
	m.publisher.PublishTaskFailed(ctx, t, reason)
	return nil
}

// GetStatus returns a point-in-time read of the task
func (m *Manager) GetStatus(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	return m.repo.Get(ctx, id)
}

// ListByOwner returns an owner's tasks, most recent first
func (m *Manager) ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*task.Task, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return m.repo.ListByOwner(ctx, ownerRef, limit)
}

// GetBatchStatus returns the batch with recomputed aggregates
func (m *Manager) GetBatchStatus(ctx context.Context, id uuid.UUID) (*task.Batch, error) {
	return m.repo.GetBatch(ctx, id)
}

// ListBatchTasks returns a batch's member tasks in submission order
func (m *Manager) ListBatchTasks(ctx context.Context, batchID uuid.UUID) ([]*task.Task, error) {
	return m.repo.ListBatchTasks(ctx, batchID)
}

// GetReport returns the persisted final artifact for a task
func (m *Manager) GetReport(ctx context.Context, id uuid.UUID) (*task.Report, error) {
	return m.reports.Get(ctx, id)
}

// ListZombies returns Running tasks with no progress inside the threshold.
// Detection only; nothing is mutated.
func (m *Manager) ListZombies(ctx context.Context, threshold time.Duration) ([]*task.Task, error) {
	zombies, err := m.repo.ListZombies(ctx, time.Now().UTC().Add(-threshold))
	if err != nil {
		return nil, err
	}
	metrics.ZombiesDetected.Add(float64(len(zombies)))
	return zombies, nil
}

// CleanupZombies converts detected zombies to Failed with an explanatory
// reason. Returns the number reaped; individual failures are logged and
// skipped so one bad row never blocks the sweep.
func (m *Manager) CleanupZombies(ctx context.Context, threshold time.Duration) (int, error) {
	zombies, err := m.ListZombies(ctx, threshold)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, t := range zombies {
		reason := fmt.Sprintf("no progress for over %s, reaped as zombie", threshold)
		if err := m.MarkFailed(ctx, t.ID, reason); err != nil {
			m.log.Warnf("Failed to reap zombie %s: %v", t.ID, err)
			continue
		}
		m.publisher.PublishZombieReaped(ctx, t, reason)
		metrics.ZombiesReaped.Inc()
		reaped++
	}

	if reaped > 0 {
		m.log.Infof("Reaped %d zombie task(s)", reaped)
	}
	return reaped, nil
}

// Broadcaster exposes the progress feed for the API layer
func (m *Manager) Broadcaster() *events.Broadcaster {
	return m.broadcaster
}

// raiseCancelFlag sets the process-local flag and mirrors it to the
// shared store when one is configured
func (m *Manager) raiseCancelFlag(ctx context.Context, id uuid.UUID) {
	m.mu.Lock()
	m.cancelled[id] = true
	m.mu.Unlock()

	if m.flags != nil {
		if err := m.flags.Set(ctx, cancelKey(id), true, cancelFlagTTL); err != nil {
			m.log.Warnf("Failed to mirror cancel flag for %s: %v", id, err)
		}
	}
}

// isCancelled is the cooperative flag check consulted at stage and turn
// boundaries. Local flag first, then the shared store.
func (m *Manager) isCancelled(ctx context.Context, id uuid.UUID) bool {
	m.mu.RLock()
	local := m.cancelled[id]
	m.mu.RUnlock()
	if local {
		return true
	}

	if m.flags != nil {
		ok, err := m.flags.Exists(ctx, cancelKey(id))
		if err != nil {
			// Shared store unreachable; the local flag still works
			return false
		}
		return ok
	}
	return false
}

// clearCancelFlag releases flag state once the task reaches a terminal
// state
func (m *Manager) clearCancelFlag(ctx context.Context, id uuid.UUID) {
	m.mu.Lock()
	delete(m.cancelled, id)
	m.mu.Unlock()

	if m.flags != nil {
		_ = m.flags.Delete(ctx, cancelKey(id))
	}
}
