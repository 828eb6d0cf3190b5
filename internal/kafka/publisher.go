package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
)

// Publisher sends accepted scores to the reward pipeline topic, keyed by player
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewPublisher creates a Kafka score publisher
func NewPublisher(cfg *config.KafkaConfig, logger *slog.Logger) (*Publisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewPublisherWithProducer(producer, cfg.ScoresTopic, logger), nil
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// PublishScore sends one score event, giving up when ctx is done
func (p *Publisher) PublishScore(ctx context.Context, event domain.ScoreEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling score event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.PlayerID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("game_id"), Value: []byte(event.GameID)},
			{Key: []byte("verified"), Value: []byte(fmt.Sprint(event.Verified))},
		},
		Timestamp: event.Timestamp,
	}

	sent := make(chan sendResult, 1)
	go func() {
		partition, offset, err := p.producer.SendMessage(msg)
		sent <- sendResult{partition: partition, offset: offset, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("publishing score event: %w", ctx.Err())
	case res := <-sent:
		if res.err != nil {
			return fmt.Errorf("publishing score event: %w", res.err)
		}
		p.logger.Debug("score event published",
			"session_id", event.SessionID,
			"player_id", event.PlayerID,
			"partition", res.partition,
			"offset", res.offset,
		)
		return nil
	}
}

type sendResult struct {
	partition int32
	offset    int64
	err       error
}

// Close flushes and closes the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}
