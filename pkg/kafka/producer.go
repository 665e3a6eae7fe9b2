package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/medisight/healthdata-platform/pkg/config"
)

// Event is one message to publish. Key selects the partition (batch outcomes
// key on outcome ID so per-batch ordering holds) and Value is JSON-encoded.
type Event struct {
	Key   string
	Value any
}

// Producer writes JSON events to a single topic with synchronous acks from
// all replicas, so a returned nil means the event is durable.
type Producer struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchSize:    100,
			BatchTimeout: 10 * time.Millisecond,
			MaxAttempts:  3,
			RequiredAcks: kafka.RequireAll,
		},
		log: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish encodes and writes a single event, blocking until acked.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return fmt.Errorf("marshaling event value: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Key),
		Value: value,
	})
	if err != nil {
		p.log.Error("failed to publish message", "key", event.Key, "error", err)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.log.Debug("message published", "key", event.Key, "value_size", len(value))
	return nil
}

// Close flushes pending writes and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
