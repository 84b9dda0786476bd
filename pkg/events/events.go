package events

import (
	"context"
	"encoding/json"
	"time"

	"investhub-platform/pkg/logger"
	"investhub-platform/pkg/task"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const QueueEvents = task.QueueEvents

var Module = fx.Module("events",
	fx.Provide(NewAsynqPublisher),
)

// Event is a domain fact published after the owning transaction commits.
type Event struct {
	Type       string            `json:"type"`
	UserID     string            `json:"user_id"`
	ResourceID string            `json:"resource_id,omitempty"`
	Amount     decimal.Decimal   `json:"amount"`
	Status     string            `json:"status,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type AsynqPublisher struct {
	enqueuer task.Enqueuer
}

func NewAsynqPublisher(enqueuer task.Enqueuer) Publisher {
	return &AsynqPublisher{enqueuer: enqueuer}
}

func NewTask(e Event) (*asynq.Task, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(e.Type, payload, asynq.Queue(QueueEvents), asynq.MaxRetry(5)), nil
}

// Decode parses the payload of a task built by NewTask.
func Decode(t *asynq.Task) (Event, error) {
	var e Event
	err := json.Unmarshal(t.Payload(), &e)
	return e, err
}

func (p *AsynqPublisher) Publish(ctx context.Context, e Event) error {
	t, err := NewTask(e)
	if err != nil {
		return err
	}

	_, err = p.enqueuer.Enqueue(ctx, t)
	return err
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes e and logs, rather than returns, a delivery failure.
// The state change the event describes is already committed.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		logger.L(ctx).Warn("failed to publish event",
			zap.String("event_type", e.Type),
			zap.String("user_id", e.UserID),
			zap.Error(err),
		)
	}
}
