package taskmgr

import (
	"context"
	"errors"

	"github.com/streadway/amqp"

	"metapin/goutils/taskmgr/worker"
)

var (
	ErrConsumerInitFailed = errors.New("failed to initialize task consumer")
)

// TaskMgr hands queued scrape tasks to workers.
type TaskMgr interface {
	Consume(ctx context.Context, workerType worker.Type, msgChan chan TaskHandler) error
	Shutdown(ctx context.Context) error
}

// TaskHandler is one consumable task with its ack/nack lifecycle.
type TaskHandler interface {
	GetBody() []byte
	GetTopic() string
	Ack() error
	Nack(requeue bool) error
}

// Task wraps an amqp delivery.
type Task struct {
	Msg amqp.Delivery
}

var _ TaskHandler = (*Task)(nil)

func (t Task) GetBody() []byte {
	return t.Msg.Body
}

func (t Task) GetTopic() string {
	return t.Msg.RoutingKey
}

func (t Task) Ack() error {
	return t.Msg.Ack(false)
}

func (t Task) Nack(requeue bool) error {
	return t.Msg.Nack(false, requeue)
}
