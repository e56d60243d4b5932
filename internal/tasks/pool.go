package tasks

import (
	"context"
	"sync"

	"delphi/internal/metrics"
	"delphi/pkg/logger"
)

// Pool is the fixed-size worker pool draining the manager's submission
// queue. Each task runs on exactly one worker from dequeue to terminal
// state, which is what makes the runner the task's single writer.
type Pool struct {
	manager *Manager
	runner  *Runner
	size    int

	wg  sync.WaitGroup
	log *logger.Logger
}

// NewPool creates a pool of size workers
func NewPool(manager *Manager, runner *Runner, size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{
		manager: manager,
		runner:  runner,
		size:    size,
		log:     logger.Get().With("component", "worker_pool"),
	}
}

// Start launches the workers. They drain the queue until ctx is
// cancelled; Stop waits for in-flight tasks to reach a terminal state.
func (p *Pool) Start(ctx context.Context) {
	p.log.Infof("Starting %d deliberation workers", p.size)

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
}

// Stop blocks until all workers have exited. Call after cancelling the
// context passed to Start.
func (p *Pool) Stop() {
	p.wg.Wait()
	p.log.Info("All deliberation workers stopped")
}

func (p *Pool) work(ctx context.Context, n int) {
	defer p.wg.Done()

	log := p.log.With("worker", n)
	log.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Worker stopping")
			return

		case id := <-p.manager.queue:
			metrics.QueueDepth.Set(float64(len(p.manager.queue)))
			p.runner.Execute(ctx, id)
		}
	}
}
