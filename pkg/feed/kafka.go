package feed

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// KafkaPublisher publishes change events to a Kafka topic.
type KafkaPublisher struct {
	logger *slog.Logger
	topic  string
	client sarama.SyncProducer
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a Kafka publisher from config.
func NewKafkaPublisher(cfg Config) (*KafkaPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 3

	client, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return &KafkaPublisher{
		logger: slog.Default().With("module", "feed-kafka"),
		topic:  cfg.Topic,
		client: client,
	}, nil
}

// Publish sends one event, keyed by index so per-index ordering holds.
func (p *KafkaPublisher) Publish(event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	partition, offset, err := p.client.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Index),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	p.logger.Debug("event sent",
		"type", event.Type,
		"index", event.Index,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

// Close closes the producer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
