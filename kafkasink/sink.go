// Package kafkasink publishes lease lifecycle events to Kafka for the
// analytics pipeline. Delivery is fire-and-forget from the service's
// perspective; the emitter drops what this sink cannot keep up with.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	snowlease "go-snowlease"
)

// Sink writes events to a Kafka topic, keyed by slot so one slot's
// transitions stay ordered within a partition.
type Sink struct {
	writer *kafka.Writer
}

// New creates a Sink producing to the given brokers and topic.
func New(brokers []string, topic string) *Sink {
	var writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &Sink{writer: writer}
}

// Send publishes one event.
func (s *Sink) Send(ctx context.Context, event snowlease.Event) error {
	var payload, err = json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var msg = kafka.Message{
		Key:   []byte(strconv.Itoa(event.Slot)),
		Value: payload,
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
