package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kompassi.org/internal/access"
)

type fakeChannel struct {
	declared   []string
	published  []amqp.Publishing
	keys       []string
	deliveries chan amqp.Delivery
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Qos(int, int, bool) error { return nil }

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcker struct {
	mu      sync.Mutex
	records []ackRecord
	done    chan struct{}
}

func (a *fakeAcker) record(r ackRecord) {
	a.mu.Lock()
	a.records = append(a.records, r)
	a.mu.Unlock()
	a.done <- struct{}{}
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.record(ackRecord{tag: tag, ack: true})
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.record(ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	a.record(ackRecord{tag: tag, requeue: requeue})
	return nil
}

func TestEnqueueGrantPublishesPersistentJSON(t *testing.T) {
	ch := newFakeChannel()
	q, err := NewWithChannel(ch, "")
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultQueue}, ch.declared)

	require.NoError(t, q.EnqueueGrant(context.Background(), access.GrantJob{PrivilegeID: "priv", PersonID: "pers"}))
	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, DefaultQueue, ch.keys[0])
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.NotEmpty(t, msg.MessageId)
	assert.JSONEq(t, `{"privilege_id":"priv","person_id":"pers"}`, string(msg.Body))
}

func TestConsumeAckRules(t *testing.T) {
	ch := newFakeChannel()
	q, err := NewWithChannel(ch, "grants")
	require.NoError(t, err)

	acker := &fakeAcker{done: make(chan struct{}, 8)}
	body := func(job access.GrantJob) []byte {
		b, _ := json.Marshal(job)
		return b
	}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: body(access.GrantJob{PrivilegeID: "ok", PersonID: "p"})}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: body(access.GrantJob{PrivilegeID: "stale", PersonID: "p"})}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, Body: body(access.GrantJob{PrivilegeID: "fail", PersonID: "p"})}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 4, Body: []byte("not json")}

	handler := func(_ context.Context, job access.GrantJob) error {
		switch job.PrivilegeID {
		case "stale":
			return access.ErrRecordNotFound
		case "fail":
			return errors.New("slack: invalid_auth")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Consume(ctx, handler) }()

	for i := 0; i < 4; i++ {
		select {
		case <-acker.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i+1)
		}
	}
	cancel()
	require.NoError(t, <-done)

	acker.mu.Lock()
	defer acker.mu.Unlock()
	assert.Equal(t, []ackRecord{
		{tag: 1, ack: true},
		{tag: 2, ack: true},
		{tag: 3},
		{tag: 4},
	}, acker.records)
}

func TestConsumeClosedChannel(t *testing.T) {
	ch := newFakeChannel()
	q, err := NewWithChannel(ch, "grants")
	require.NoError(t, err)
	close(ch.deliveries)

	err = q.Consume(context.Background(), func(context.Context, access.GrantJob) error { return nil })
	assert.Error(t, err)

	require.NoError(t, q.Close())
	assert.True(t, ch.closed)
}
