// Package kafka carries batch outcome events from the gateway to the
// auditor. The producer writes JSON messages; the consumer feeds them to a
// handler callback and commits offsets only after the handler returns nil.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/medisight/healthdata-platform/pkg/config"
)

// MessageHandler processes one consumed message. Returning an error leaves
// the offset uncommitted so the message is redelivered.
type MessageHandler func(ctx context.Context, key, value []byte) error

// Consumer reads one topic inside a consumer group and dispatches each
// message to its handler.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	log     *slog.Logger
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    1e3,
			MaxBytes:    10e6,
			StartOffset: kafka.LastOffset,
		}),
		handler: handler,
		log:     slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start fetches and processes messages until ctx is cancelled. Fetch and
// handler failures are logged and skipped; the loop itself only stops with
// the context.
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopping", "reason", ctx.Err())
				return c.reader.Close()
			}
			c.log.Error("failed to fetch message", "error", err)
			continue
		}
		if err := c.handler(ctx, msg.Key, msg.Value); err != nil {
			c.log.Error("failed to process message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("failed to commit message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
