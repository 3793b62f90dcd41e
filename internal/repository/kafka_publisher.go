package repository

import (
	"context"

	"MarketSync/internal/domain/models"
	"MarketSync/internal/domain/repository"
	pkgkafka "MarketSync/pkg/kafka"
)

// KafkaUpdatePublisher mirrors merged records to a Kafka topic, keyed by
// symbol so per-symbol ordering survives partitioning.
type KafkaUpdatePublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaUpdatePublisher creates a Kafka-backed update publisher.
func NewKafkaUpdatePublisher(producer *pkgkafka.Producer, topic string) repository.UpdatePublisher {
	return &KafkaUpdatePublisher{producer: producer, topic: topic}
}

func (p *KafkaUpdatePublisher) PublishUpdate(ctx context.Context, quote *models.StockQuote) error {
	return p.producer.Publish(ctx, p.topic, []byte(quote.Symbol), quote)
}

func (p *KafkaUpdatePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopUpdatePublisher is used when no broker is configured.
type NopUpdatePublisher struct{}

func (NopUpdatePublisher) PublishUpdate(context.Context, *models.StockQuote) error { return nil }
func (NopUpdatePublisher) Close() error                                            { return nil }
