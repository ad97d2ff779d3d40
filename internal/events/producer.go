// Package events publishes grant and alias events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"kompassi.org/internal/obs"
)

// Writer is the subset of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements access.Publisher on top of a Kafka writer.
type Producer struct {
	writer Writer
	logger *slog.Logger
}

// NewProducer writes to topic on the given brokers. Messages with the same
// key (the person id) land on the same partition.
func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewProducerWithWriter(w)
}

func NewProducerWithWriter(w Writer) *Producer {
	return &Producer{writer: w, logger: obs.Logger()}
}

// Publish marshals value to JSON and writes it under key.
func (p *Producer) Publish(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{Key: []byte(key), Value: b}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("kafka write failed", "key", key, "error", err)
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Nop discards events. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close() error                               { return nil }
