// Package events publishes pipeline completion events to the interaction
// stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/solvent-ai/triagekit/internal/core/ports"
)

// KafkaPublisher writes events to a Kafka topic. One message per event,
// keyed by customer id so per-customer ordering is preserved.
type KafkaPublisher struct {
	writer *kafka.Writer
}

var _ ports.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish encodes the event as JSON and writes it keyed by customer id.
func (p *KafkaPublisher) Publish(ctx context.Context, ev ports.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.CustomerID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "correlation_id", Value: []byte(ev.CorrelationID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// NoopPublisher discards events. Used when the event stream is disabled.
type NoopPublisher struct{}

var _ ports.EventPublisher = NoopPublisher{}

func (NoopPublisher) Publish(context.Context, ports.Event) error { return nil }
func (NoopPublisher) Close() error                               { return nil }
