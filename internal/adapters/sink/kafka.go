// Package sink delivers correlation outcomes to external collaborators.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/shotlink/internal/domain/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes outcomes as JSON records keyed by Outcome.Key, so the
// records of one timer stay on one partition in order.
type Kafka struct {
	w     messageWriter
	topic string
}

// NewKafka returns a sink writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			Async:        false,
		},
		topic: topic,
	}
}

// Name implements worker.Sink.
func (k *Kafka) Name() string { return "kafka" }

// Publish writes one record.
func (k *Kafka) Publish(ctx context.Context, o model.Outcome) error {
	value, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(o.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(o.Kind)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.w.Close() }
