package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"delphi/internal/deliberation"
	"delphi/internal/domain/task"
	"delphi/internal/events"
	"delphi/internal/metrics"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// Runner executes one dequeued task to a terminal state. It is the only
// writer for a task while the task runs; the manager's cancel flag is
// the sole cross-goroutine signal into a run.
type Runner struct {
	manager  *Manager
	debaters map[deliberation.Role]deliberation.Agent
	memory   *deliberation.SituationMemory // optional
	tracker  errors.Tracker
	log      *logger.Logger
}

// NewRunner wires a runner. memory may be nil when the memory store is
// disabled; depth profiles with memory enabled then run unaugmented.
func NewRunner(manager *Manager, debaters map[deliberation.Role]deliberation.Agent, memory *deliberation.SituationMemory, tracker errors.Tracker) *Runner {
	return &Runner{
		manager:  manager,
		debaters: debaters,
		memory:   memory,
		tracker:  tracker,
		log:      logger.Get().With("component", "task_runner"),
	}
}

// Execute drives one task from Pending to a terminal state. Errors are
// terminal-state decisions, not return values: the worker pool has no
// retry semantics above this level.
func (r *Runner) Execute(ctx context.Context, id uuid.UUID) {
	m := r.manager

	t, err := m.repo.Get(ctx, id)
	if err != nil {
		r.log.Errorf("Dequeued task %s could not be loaded: %v", id, err)
		return
	}
	if t.Status.Terminal() {
		// Cancelled while queued
		return
	}
	if m.isCancelled(ctx, id) {
		r.finish(ctx, t, task.StatusCancelled, nil, nil)
		return
	}

	if err := m.repo.UpdateStatus(ctx, id, task.StatusRunning, nil); err != nil {
		r.log.Errorf("Task %s could not transition to running: %v", id, err)
		return
	}
	t.Status = task.StatusRunning
	m.publisher.PublishTaskStarted(ctx, t)
	metrics.TasksRunning.Inc()
	defer metrics.TasksRunning.Dec()

	started := time.Now()
	outcome, runErr := r.deliberate(ctx, t)
	duration := time.Since(started)

	switch {
	case runErr == nil:
		r.complete(ctx, t, outcome, duration)
	case errors.Is(runErr, errors.ErrCancelled):
		r.finish(ctx, t, task.StatusCancelled, outcome, nil)
	default:
		reason := runErr.Error()
		_ = r.tracker.CaptureError(ctx, runErr, map[string]string{
			"task_id": t.ID.String(),
			"symbol":  t.Symbol,
			"market":  t.Market,
		})
		r.finish(ctx, t, task.StatusFailed, outcome, &reason)
	}
}

// deliberate builds and runs the pipeline for the task. Panics inside a
// deliberation are contained here so one task cannot take down a worker.
func (r *Runner) deliberate(ctx context.Context, t *task.Task) (outcome *deliberation.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("Task %s panicked: %v", t.ID, rec)
			err = errors.Newf("deliberation panicked: %v", rec)
		}
	}()

	profile := deliberation.ResolveDepth(t.DepthLevel)
	stages, _, err := r.manager.registry.ResolveStages(t.Capabilities, t.Market)
	if err != nil {
		return nil, err
	}

	pipeline := deliberation.Build(profile, stages)

	var store deliberation.MemoryStore
	if r.memory != nil {
		store = r.memory
	}

	exec := deliberation.NewExecutor(pipeline, r.debaters, store, deliberation.ExecConfig{
		StepTimeout: r.manager.cfg.StepTimeout,
		StepRetries: r.manager.cfg.StepRetries,
		RetryPause:  r.manager.cfg.RetryPause,
	}, &runHooks{manager: r.manager, task: t})

	return exec.Run(ctx, t.Symbol, t.Market)
}

// complete persists the artifact, transitions to Completed and performs
// the post-run side effects: decision event and memory write-back.
func (r *Runner) complete(ctx context.Context, t *task.Task, outcome *deliberation.Outcome, duration time.Duration) {
	if err := r.saveReport(ctx, t, outcome); err != nil {
		// A run we cannot persist did not usefully complete
		reason := err.Error()
		r.finish(ctx, t, task.StatusFailed, outcome, &reason)
		return
	}

	r.finish(ctx, t, task.StatusCompleted, nil, nil)
	metrics.TaskDuration.WithLabelValues(fmt.Sprintf("%d", t.DepthLevel)).Observe(duration.Seconds())

	r.manager.publisher.PublishDecision(ctx, &events.DecisionEvent{
		TaskID:     t.ID,
		Symbol:     t.Symbol,
		Market:     t.Market,
		Decision:   outcome.Decision,
		Confidence: outcome.Confidence,
		Degraded:   outcome.Degraded,
	})

	// Write-back feeds future recalls; a degraded fallback decision
	// carries no lesson worth remembering
	if r.memory != nil && !outcome.Degraded {
		digest := situationDigest(outcome)
		if err := r.memory.Record(ctx, t.ID, t.Market, t.Symbol, digest, outcome.Decision, outcome.Confidence); err != nil {
			r.log.Warnf("Memory write-back failed for task %s: %v", t.ID, err)
		}
	}
}

// finish applies the terminal transition and retains whatever partial
// history the run produced
func (r *Runner) finish(ctx context.Context, t *task.Task, status task.Status, partial *deliberation.Outcome, reason *string) {
	if partial != nil && len(partial.History) > 0 {
		if err := r.saveReport(ctx, t, partial); err != nil {
			r.log.Warnf("Failed to retain partial output for task %s: %v", t.ID, err)
		}
	}

	if err := r.manager.repo.UpdateStatus(ctx, t.ID, status, reason); err != nil {
		if !errors.Is(err, errors.ErrTaskTerminal) {
			r.log.Errorf("Task %s could not transition to %s: %v", t.ID, status, err)
		}
		r.manager.clearCancelFlag(ctx, t.ID)
		return
	}

	t.Status = status
	metrics.TasksFinished.WithLabelValues(string(status)).Inc()

	switch status {
	case task.StatusCompleted:
		r.manager.publisher.PublishTaskCompleted(ctx, t)
	case task.StatusCancelled:
		r.manager.publisher.PublishTaskCancelled(ctx, t)
	case task.StatusFailed:
		failReason := ""
		if reason != nil {
			failReason = *reason
		}
		r.manager.publisher.PublishTaskFailed(ctx, t, failReason)
	}

	r.manager.clearCancelFlag(ctx, t.ID)
	r.log.Infof("Task %s finished as %s", t.ID, status)
}

func (r *Runner) saveReport(ctx context.Context, t *task.Task, outcome *deliberation.Outcome) error {
	history := make([]task.HistoryEntry, 0, len(outcome.History))
	for _, e := range outcome.History {
		history = append(history, task.HistoryEntry{
			Step:    e.Step,
			Role:    string(e.Role),
			Content: e.Content,
		})
	}

	return r.manager.reports.Save(ctx, &task.Report{
		TaskID:     t.ID,
		Decision:   outcome.Decision,
		Confidence: outcome.Confidence,
		Degraded:   outcome.Degraded,
		History:    history,
		CreatedAt:  time.Now().UTC(),
	})
}

// situationDigest summarizes a concluded run for embedding: analyst
// reports plus the investment plan, which together describe the
// situation the decision resolved
func situationDigest(outcome *deliberation.Outcome) string {
	var b strings.Builder
	for _, e := range outcome.History {
		if strings.HasPrefix(e.Step, "stage:") {
			b.WriteString(e.Content)
			b.WriteString("\n")
		}
	}
	b.WriteString(outcome.InvestmentPlan)
	return b.String()
}

// runHooks adapts the manager's lifecycle surface to the executor
type runHooks struct {
	manager *Manager
	task    *task.Task
}

// Cancelled is the cooperative flag consulted at every stage and turn
// boundary
func (h *runHooks) Cancelled(ctx context.Context) bool {
	return h.manager.isCancelled(ctx, h.task.ID)
}

// StepCompleted persists the progress checkpoint and publishes it to the
// live feed. Broadcast failure is a durability failure; it is logged but
// does not abort the run, which can still conclude correctly.
func (h *runHooks) StepCompleted(ctx context.Context, info deliberation.StepInfo) {
	progress := 0
	if info.UnitsTotal > 0 {
		progress = info.UnitsDone * 100 / info.UnitsTotal
	}

	if err := h.manager.repo.UpdateProgress(ctx, h.task.ID, progress); err != nil {
		h.manager.log.Warnf("Progress checkpoint failed for task %s: %v", h.task.ID, err)
	}

	ev := &task.ProgressEvent{
		TaskID:    h.task.ID,
		BatchID:   h.task.BatchID,
		Stage:     info.Stage,
		Phase:     string(info.Phase),
		TurnCount: info.TurnCount,
		Progress:  progress,
		Message:   info.Message,
		Timestamp: time.Now().UTC(),
	}
	if err := h.manager.broadcaster.Publish(ctx, ev); err != nil {
		h.manager.log.Warnf("Progress publish failed for task %s: %v", h.task.ID, err)
	}
}

// StepRetried records the transient retry on the task
func (h *runHooks) StepRetried(ctx context.Context, step string, attempt int, cause error) {
	if err := h.manager.repo.IncrementRetries(ctx, h.task.ID); err != nil {
		h.manager.log.Warnf("Retry bookkeeping failed for task %s: %v", h.task.ID, err)
	}
}
