package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"delphi/internal/domain/task"
	"delphi/internal/metrics"
	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// LiveFeed mirrors progress events to an external pub/sub so other
// instances can serve subscribers. The redis adapter satisfies it.
type LiveFeed interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Channel names for the external feed
func TaskChannel(id uuid.UUID) string  { return "progress.task." + id.String() }
func BatchChannel(id uuid.UUID) string { return "progress.batch." + id.String() }

// Broadcaster fans progress events out to live subscribers and appends
// them to the durable progress log. Durability is mandatory: a failed
// append fails the publish. Delivery to subscribers is best-effort: a
// slow or disconnected subscriber never blocks the run.
type Broadcaster struct {
	logStore task.ProgressLog
	feed     LiveFeed // optional

	mu        sync.RWMutex
	nextSubID int
	taskSubs  map[uuid.UUID]map[int]chan task.ProgressEvent
	batchSubs map[uuid.UUID]map[int]chan task.ProgressEvent

	log *logger.Logger
}

// subscriber buffer; events beyond this are dropped for that subscriber,
// who can replay from the durable log
const subscriberBuffer = 64

// NewBroadcaster creates a broadcaster. feed may be nil for single
// instance deployments.
func NewBroadcaster(logStore task.ProgressLog, feed LiveFeed) *Broadcaster {
	return &Broadcaster{
		logStore:  logStore,
		feed:      feed,
		taskSubs:  make(map[uuid.UUID]map[int]chan task.ProgressEvent),
		batchSubs: make(map[uuid.UUID]map[int]chan task.ProgressEvent),
		log:       logger.Get().With("component", "progress_broadcaster"),
	}
}

// Publish appends the event to the durable log, then fans out
func (b *Broadcaster) Publish(ctx context.Context, ev *task.ProgressEvent) error {
	if err := b.logStore.Append(ctx, ev); err != nil {
		return errors.Wrap(err, "append progress log")
	}
	metrics.ProgressEvents.Inc()

	b.mu.RLock()
	for _, ch := range b.taskSubs[ev.TaskID] {
		select {
		case ch <- *ev:
		default:
			// Subscriber fell behind; it can replay from the log
		}
	}
	if ev.BatchID != nil {
		for _, ch := range b.batchSubs[*ev.BatchID] {
			select {
			case ch <- *ev:
			default:
			}
		}
	}
	b.mu.RUnlock()

	if b.feed != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			if err := b.feed.Publish(ctx, TaskChannel(ev.TaskID), payload); err != nil {
				b.log.Warnf("Live feed publish failed for task %s: %v", ev.TaskID, err)
			}
			if ev.BatchID != nil {
				if err := b.feed.Publish(ctx, BatchChannel(*ev.BatchID), payload); err != nil {
					b.log.Warnf("Live feed publish failed for batch %s: %v", *ev.BatchID, err)
				}
			}
		}
	}

	return nil
}

// SubscribeTask registers a live subscriber for one task. The returned
// cancel func must be called to release the subscription.
func (b *Broadcaster) SubscribeTask(taskID uuid.UUID) (<-chan task.ProgressEvent, func()) {
	return b.subscribe(b.taskSubs, taskID)
}

// SubscribeBatch registers a live subscriber receiving the union of a
// batch's member task events, each tagged with its originating task id.
func (b *Broadcaster) SubscribeBatch(batchID uuid.UUID) (<-chan task.ProgressEvent, func()) {
	return b.subscribe(b.batchSubs, batchID)
}

func (b *Broadcaster) subscribe(subs map[uuid.UUID]map[int]chan task.ProgressEvent, key uuid.UUID) (<-chan task.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	id := b.nextSubID

	ch := make(chan task.ProgressEvent, subscriberBuffer)
	if subs[key] == nil {
		subs[key] = make(map[int]chan task.ProgressEvent)
	}
	subs[key][id] = ch
	metrics.Subscribers.Inc()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := subs[key][id]; !ok {
			return
		}
		delete(subs[key], id)
		if len(subs[key]) == 0 {
			delete(subs, key)
		}
		close(ch)
		metrics.Subscribers.Dec()
	}

	return ch, cancel
}

// Replay returns the durable log for a task, for reconnecting subscribers
func (b *Broadcaster) Replay(ctx context.Context, taskID uuid.UUID) ([]task.ProgressEvent, error) {
	return b.logStore.Replay(ctx, taskID)
}

// ReplayBatch returns the union of a batch's member task events
func (b *Broadcaster) ReplayBatch(ctx context.Context, batchID uuid.UUID) ([]task.ProgressEvent, error) {
	return b.logStore.ReplayBatch(ctx, batchID)
}
