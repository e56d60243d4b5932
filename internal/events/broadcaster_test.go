package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delphi/internal/domain/task"
	"delphi/pkg/errors"
)

// memoryLog is an in-memory ProgressLog assigning per-task sequence
// numbers the way the durable store does
type memoryLog struct {
	mu      sync.Mutex
	events  map[uuid.UUID][]task.ProgressEvent
	failing bool
}

func newMemoryLog() *memoryLog {
	return &memoryLog{events: make(map[uuid.UUID][]task.ProgressEvent)}
}

func (l *memoryLog) Append(ctx context.Context, ev *task.ProgressEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failing {
		return errors.Wrapf(errors.ErrUnavailable, "log down")
	}
	ev.Seq = int64(len(l.events[ev.TaskID]) + 1)
	l.events[ev.TaskID] = append(l.events[ev.TaskID], *ev)
	return nil
}

func (l *memoryLog) Replay(ctx context.Context, taskID uuid.UUID) ([]task.ProgressEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]task.ProgressEvent(nil), l.events[taskID]...), nil
}

func (l *memoryLog) ReplayBatch(ctx context.Context, batchID uuid.UUID) ([]task.ProgressEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []task.ProgressEvent
	for _, evs := range l.events {
		for _, ev := range evs {
			if ev.BatchID != nil && *ev.BatchID == batchID {
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func publishN(t *testing.T, b *Broadcaster, taskID uuid.UUID, batchID *uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := b.Publish(context.Background(), &task.ProgressEvent{
			TaskID:    taskID,
			BatchID:   batchID,
			Stage:     "stage",
			Progress:  i,
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
	}
}

func TestBroadcaster_SubscriberReceivesInOrder(t *testing.T) {
	b := NewBroadcaster(newMemoryLog(), nil)
	taskID := uuid.New()

	ch, release := b.SubscribeTask(taskID)
	defer release()

	publishN(t, b, taskID, nil, 5)

	for want := int64(1); want <= 5; want++ {
		select {
		case ev := <-ch:
			assert.Equal(t, want, ev.Seq)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", want)
		}
	}
}

func TestBroadcaster_DurableAppendIsMandatory(t *testing.T) {
	log := newMemoryLog()
	log.failing = true
	b := NewBroadcaster(log, nil)

	err := b.Publish(context.Background(), &task.ProgressEvent{TaskID: uuid.New()})
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func TestBroadcaster_SlowSubscriberNeverBlocksPublish(t *testing.T) {
	b := NewBroadcaster(newMemoryLog(), nil)
	taskID := uuid.New()

	// Never drained; overflow must be dropped, not block
	_, release := b.SubscribeTask(taskID)
	defer release()

	done := make(chan struct{})
	go func() {
		publishN(t, b, taskID, nil, subscriberBuffer*2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// Everything is still in the durable log for replay
	events, err := b.Replay(context.Background(), taskID)
	require.NoError(t, err)
	assert.Len(t, events, subscriberBuffer*2)
}

func TestBroadcaster_BatchSubscriberReceivesUnion(t *testing.T) {
	b := NewBroadcaster(newMemoryLog(), nil)
	batchID := uuid.New()
	task1, task2 := uuid.New(), uuid.New()

	ch, release := b.SubscribeBatch(batchID)
	defer release()

	publishN(t, b, task1, &batchID, 2)
	publishN(t, b, task2, &batchID, 2)

	seen := map[uuid.UUID]int{}
	for i := 0; i < 4; i++ {
		select {
		case ev := <-ch:
			require.NotNil(t, ev.BatchID)
			seen[ev.TaskID]++
		case <-time.After(time.Second):
			t.Fatal("missing batch event")
		}
	}
	assert.Equal(t, 2, seen[task1])
	assert.Equal(t, 2, seen[task2])
}

func TestBroadcaster_ReleaseClosesChannel(t *testing.T) {
	b := NewBroadcaster(newMemoryLog(), nil)
	taskID := uuid.New()

	ch, release := b.SubscribeTask(taskID)
	release()
	// Double release is safe
	release()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after release must not panic
	publishN(t, b, taskID, nil, 1)
}

func TestBroadcaster_ReplayAfterTheFact(t *testing.T) {
	b := NewBroadcaster(newMemoryLog(), nil)
	taskID := uuid.New()

	publishN(t, b, taskID, nil, 3)

	events, err := b.Replay(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}
