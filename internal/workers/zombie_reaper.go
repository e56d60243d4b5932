package workers

import (
	"context"
	"time"

	"delphi/internal/tasks"
)

// ZombieReaper periodically converts stalled Running tasks to Failed.
// Detection is a pure timestamp query against the task store; remediation
// is an explicit administrative MarkFailed, so a crashed worker's tasks
// are reclaimed without guessing at in-process state.
type ZombieReaper struct {
	*BaseWorker
	manager   *tasks.Manager
	threshold time.Duration
}

// NewZombieReaper creates the reaper. threshold is how long a Running
// task may go without a progress checkpoint before it counts as dead.
func NewZombieReaper(manager *tasks.Manager, threshold, sweepInterval time.Duration, enabled bool) *ZombieReaper {
	return &ZombieReaper{
		BaseWorker: NewBaseWorker("zombie_reaper", sweepInterval, enabled),
		manager:    manager,
		threshold:  threshold,
	}
}

// Run performs one sweep
func (w *ZombieReaper) Run(ctx context.Context) error {
	start := time.Now()

	reaped, err := w.manager.CleanupZombies(ctx, w.threshold)
	if err != nil {
		w.RecordError(err, time.Since(start))
		return err
	}

	if reaped > 0 {
		w.Log().Infof("Zombie sweep reaped %d task(s)", reaped)
	}
	w.RecordRun(time.Since(start))
	return nil
}
