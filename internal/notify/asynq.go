package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypeSend is the asynq task type carrying one Notification.
const TaskTypeSend = "notify:send"

// Trigger enqueues notifications for asynchronous delivery.
type Trigger interface {
	Notify(ctx context.Context, n Notification) error
}

// Enqueuer is the asynq-backed Trigger. The worker process consumes
// the queue and performs the actual delivery.
type Enqueuer struct {
	client *asynq.Client
	queue  string
}

// NewEnqueuer constructs an Enqueuer publishing to the given queue.
func NewEnqueuer(client *asynq.Client, queue string) *Enqueuer {
	return &Enqueuer{client: client, queue: queue}
}

// Notify enqueues the notification.
func (e *Enqueuer) Notify(ctx context.Context, n Notification) error {
	if e == nil || e.client == nil {
		return fmt.Errorf("notify: enqueuer not configured")
	}
	task, err := NewSendTask(n)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.MaxRetry(5)}
	if e.queue != "" {
		opts = append(opts, asynq.Queue(e.queue))
	}
	if _, err := e.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("notify: enqueue %s: %w", n.Type, err)
	}
	return nil
}

// NewSendTask constructs the asynq task for a notification.
func NewSendTask(n Notification) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSend, data), nil
}
