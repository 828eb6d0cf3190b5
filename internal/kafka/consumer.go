// Package kafka publishes verified scores and consumes period rollover commands.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/arcade-scores/internal/config"
	"github.com/arcade-scores/internal/domain"
)

// RolloverHandler clears the boards of a finished period
type RolloverHandler interface {
	ResetPeriod(ctx context.Context, period domain.Period) error
}

// Consumer applies period rollover commands from the scheduler topic
type Consumer struct {
	config  *config.KafkaConfig
	handler RolloverHandler
	logger  *slog.Logger
	group   sarama.ConsumerGroup
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConsumer joins the rollover consumer group
func NewConsumer(cfg *config.KafkaConfig, handler RolloverHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}
	return newConsumer(cfg, handler, group, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, handler RolloverHandler, group sarama.ConsumerGroup, logger *slog.Logger) *Consumer {
	return &Consumer{
		config:  cfg,
		handler: handler,
		logger:  logger.With("topic", cfg.RolloverTopic, "group_id", cfg.GroupID),
		group:   group,
		cancel:  func() {},
	}
}

// Start consumes in the background until Stop. It does not wait for partition
// assignment, so an unreachable broker never blocks startup.
func (c *Consumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.logger.Info("starting Kafka consumer", "brokers", c.config.Brokers)

	c.wg.Add(2)
	go c.consume(ctx)
	go c.drainErrors(ctx)
	return nil
}

// consume rejoins the group after every rebalance
func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()
	h := &rolloverGroupHandler{consumer: c}
	for ctx.Err() == nil {
		err := c.group.Consume(ctx, []string{c.config.RolloverTopic}, h)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return
		case err != nil:
			c.logger.Error("consumer group session failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.config.RetryDelay):
			}
		}
	}
}

func (c *Consumer) drainErrors(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			c.logger.Error("consumer group error", "error", err)
		}
	}
}

// Stop leaves the group and waits for in-flight commands
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.group.Close()
}

// handleMessage applies one rollover command, retrying transient failures.
// Malformed commands are logged and dropped.
func (c *Consumer) handleMessage(ctx context.Context, value []byte) error {
	var cmd domain.RolloverCommand
	if err := json.Unmarshal(value, &cmd); err != nil {
		c.logger.Warn("failed to unmarshal rollover command", "error", err)
		return nil
	}

	period, err := domain.ParsePeriod(string(cmd.Period))
	if err != nil || period == domain.PeriodAllTime {
		c.logger.Warn("ignoring rollover command", "period", cmd.Period, "request_id", cmd.RequestID)
		return nil
	}

	attempts := max(c.config.RetryAttempts, 1)
	for attempt := 1; ; attempt++ {
		err = c.handler.ResetPeriod(ctx, period)
		if err == nil {
			c.logger.Info("rollover applied",
				"period", period,
				"request_id", cmd.RequestID,
				"issued_at", cmd.IssuedAt,
			)
			return nil
		}
		if errors.Is(err, domain.ErrInvalidArgument) || attempt >= attempts {
			return fmt.Errorf("applying %s rollover: %w", period, err)
		}

		c.logger.Warn("rollover failed, retrying", "period", period, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.RetryDelay):
		}
	}
}

type rolloverGroupHandler struct {
	consumer *Consumer
}

func (h *rolloverGroupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.consumer.logger.Info("rollover consumer joined", "claims", session.Claims())
	return nil
}

func (h *rolloverGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim applies commands in partition order. A command that still fails after
// its retries is logged and committed so it cannot wedge the partition.
func (h *rolloverGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.consumer.handleMessage(session.Context(), message.Value); err != nil {
				h.consumer.logger.Error("failed to apply rollover command",
					"error", err,
					"partition", message.Partition,
					"offset", message.Offset,
				)
			}
			session.MarkMessage(message, "")
		}
	}
}
