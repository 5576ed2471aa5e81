package events

import (
	"context"
	"testing"
	"time"

	"github.com/solvent-ai/triagekit/internal/core/ports"
)

func TestNoopPublisher(t *testing.T) {
	p := NoopPublisher{}
	ev := ports.Event{
		Type:          "triage.completed",
		CorrelationID: "corr-1",
		CustomerID:    "CUST-100",
		OccurredAt:    time.Now(),
	}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafkaPublisherTopic(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "triage.interactions")
	defer p.Close()

	if p.writer.Topic != "triage.interactions" {
		t.Errorf("wrong topic: %s", p.writer.Topic)
	}
}
