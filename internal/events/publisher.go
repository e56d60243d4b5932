package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"delphi/internal/adapters/kafka"
	"delphi/internal/domain/task"
	"delphi/pkg/logger"
)

// Publisher publishes task lifecycle events to Kafka. The bus is an
// integration surface for downstream consumers; failures are logged and
// never fail the originating task transition.
type Publisher struct {
	producer *kafka.Producer
	log      *logger.Logger
}

// NewPublisher creates a new event publisher. producer may be nil when
// the bus is disabled.
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		log:      logger.Get().With("component", "event_publisher"),
	}
}

// TaskEvent is the JSON payload for lifecycle topics
type TaskEvent struct {
	TaskID    uuid.UUID   `json:"task_id"`
	BatchID   *uuid.UUID  `json:"batch_id,omitempty"`
	OwnerRef  string      `json:"owner_ref"`
	Symbol    string      `json:"symbol"`
	Market    string      `json:"market"`
	Status    task.Status `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// DecisionEvent is published when a deliberation produces its artifact
type DecisionEvent struct {
	TaskID     uuid.UUID `json:"task_id"`
	Symbol     string    `json:"symbol"`
	Market     string    `json:"market"`
	Decision   string    `json:"decision"`
	Confidence float64   `json:"confidence"`
	Degraded   bool      `json:"degraded"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishTaskStarted publishes a task started event
func (p *Publisher) PublishTaskStarted(ctx context.Context, t *task.Task) {
	p.publish(ctx, kafka.TopicTaskStarted, t, "")
}

// PublishTaskCompleted publishes a task completed event
func (p *Publisher) PublishTaskCompleted(ctx context.Context, t *task.Task) {
	p.publish(ctx, kafka.TopicTaskCompleted, t, "")
}

// PublishTaskFailed publishes a task failed event
func (p *Publisher) PublishTaskFailed(ctx context.Context, t *task.Task, reason string) {
	p.publish(ctx, kafka.TopicTaskFailed, t, reason)
}

// PublishTaskCancelled publishes a task cancelled event
func (p *Publisher) PublishTaskCancelled(ctx context.Context, t *task.Task) {
	p.publish(ctx, kafka.TopicTaskCancelled, t, "")
}

// PublishZombieReaped publishes an administrative zombie cleanup event
func (p *Publisher) PublishZombieReaped(ctx context.Context, t *task.Task, reason string) {
	p.publish(ctx, kafka.TopicZombieReaped, t, reason)
}

// PublishDecision publishes the final decision artifact summary
func (p *Publisher) PublishDecision(ctx context.Context, ev *DecisionEvent) {
	if p.producer == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	if err := p.producer.Publish(ctx, kafka.TopicDecisionMade, ev.TaskID.String(), ev); err != nil {
		p.log.Errorf("Failed to publish decision event: %v", err)
	}
}

func (p *Publisher) publish(ctx context.Context, topic string, t *task.Task, reason string) {
	if p.producer == nil {
		return
	}

	ev := TaskEvent{
		TaskID:    t.ID,
		BatchID:   t.BatchID,
		OwnerRef:  t.OwnerRef,
		Symbol:    t.Symbol,
		Market:    t.Market,
		Status:    t.Status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}

	if err := p.producer.Publish(ctx, topic, t.ID.String(), ev); err != nil {
		p.log.Errorf("Failed to publish %s for task %s: %v", topic, t.ID, err)
	}
}
