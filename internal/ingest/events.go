package ingest

import (
	"context"

	"github.com/medisight/healthdata-platform/pkg/kafka"
)

// OutcomeEvent is the Kafka message payload produced after a batch completes.
// Downstream consumers (the audit service, processing pipelines) use it to
// track ingestion activity without querying the gateway.
type OutcomeEvent struct {
	*BatchOutcome
}

// KafkaPublisher publishes completed batch outcomes to a Kafka topic, keyed
// by entity kind so one kind's outcomes stay ordered within a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) PublishOutcome(ctx context.Context, outcome *BatchOutcome) error {
	return p.producer.Publish(ctx, kafka.Event{
		Key:   string(outcome.Kind),
		Value: OutcomeEvent{BatchOutcome: outcome},
	})
}
