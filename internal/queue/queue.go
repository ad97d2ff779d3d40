// Package queue carries deferred grant jobs over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"kompassi.org/internal/access"
	"kompassi.org/internal/obs"
)

// DefaultQueue is the queue grant jobs are published to.
const DefaultQueue = "access.grants"

// Channel is the subset of *amqp.Channel used here.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Handler runs one grant job.
type Handler func(ctx context.Context, job access.GrantJob) error

// Queue publishes and consumes grant jobs. It implements access.Enqueuer.
type Queue struct {
	conn   io.Closer
	ch     Channel
	name   string
	logger *slog.Logger
}

var _ access.Enqueuer = (*Queue)(nil)

// Dial connects to the broker at url and declares the durable queue.
func Dial(url, name string) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	q, err := newQueue(conn, ch, name)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

// NewWithChannel wraps an already open channel.
func NewWithChannel(ch Channel, name string) (*Queue, error) {
	return newQueue(nil, ch, name)
}

func newQueue(conn io.Closer, ch Channel, name string) (*Queue, error) {
	if name == "" {
		name = DefaultQueue
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	// One job in flight per consumer keeps slow Slack calls from piling up.
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Queue{conn: conn, ch: ch, name: name, logger: obs.Logger()}, nil
}

// EnqueueGrant publishes job as a persistent JSON message.
func (q *Queue) EnqueueGrant(ctx context.Context, job access.GrantJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = q.ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Body:         body,
	})
	if err != nil {
		obs.ObserveQueueJob("publish_failed")
		return fmt.Errorf("publish job: %w", err)
	}
	obs.ObserveQueueJob("enqueued")
	return nil
}

// Consume delivers jobs to h until ctx is cancelled or the channel closes.
//
// Jobs that succeed, or whose grant record is no longer approved, are acked.
// Malformed and failed jobs are nacked without requeue; the record stays
// approved and a later Grant retries it.
func (q *Queue) Consume(ctx context.Context, h Handler) error {
	deliveries, err := q.ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.name, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("queue: delivery channel closed")
			}
			q.handle(ctx, d, h)
		}
	}
}

func (q *Queue) handle(ctx context.Context, d amqp.Delivery, h Handler) {
	var job access.GrantJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.PrivilegeID == "" || job.PersonID == "" {
		obs.ObserveQueueJob("dropped")
		q.logger.Error("malformed grant job", "message_id", d.MessageId, "error", err)
		q.settle(d, false)
		return
	}

	err := h(ctx, job)
	switch {
	case err == nil:
		obs.ObserveQueueJob("done")
		q.settle(d, true)
	case errors.Is(err, access.ErrRecordNotFound):
		obs.ObserveQueueJob("stale")
		q.logger.Info("grant job has nothing to do",
			"privilege_id", job.PrivilegeID,
			"person_id", job.PersonID,
		)
		q.settle(d, true)
	default:
		obs.ObserveQueueJob("failed")
		q.logger.Error("grant job failed",
			"privilege_id", job.PrivilegeID,
			"person_id", job.PersonID,
			"error", err,
		)
		q.settle(d, false)
	}
}

func (q *Queue) settle(d amqp.Delivery, ack bool) {
	var err error
	if ack {
		err = d.Ack(false)
	} else {
		err = d.Nack(false, false)
	}
	if err != nil {
		q.logger.Warn("settle delivery failed", "message_id", d.MessageId, "ack", ack, "error", err)
	}
}

// Close closes the channel and, when dialed, the connection.
func (q *Queue) Close() error {
	err := q.ch.Close()
	if q.conn != nil {
		err = errors.Join(err, q.conn.Close())
	}
	return err
}
