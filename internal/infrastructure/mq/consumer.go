package mq

import (
	"context"
	"errors"
	"fmt"

	"sharetips/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// MessageHandler processes one message. Returning an error leaves the offset
// uncommitted so the message is redelivered.
type MessageHandler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
}

func NewConsumer(cfg *config.KafkaConfig, topics []string, handler MessageHandler) (*Consumer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = sarama.V2_6_0_0
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Offsets.AutoCommit.Enable = true
	kafkaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Consumer{group: group, topics: topics, handler: handler}, nil
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	zap.L().Info("[Consumer] started", zap.Strings("topics", c.topics))
	for {
		if err := c.group.Consume(ctx, c.topics, groupHandler{handler: c.handler}); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			zap.L().Error("[Consumer] consume failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			zap.L().Info("[Consumer] stop signal received")
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	handler MessageHandler
}

func (groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler(session.Context(), msg.Key, msg.Value); err != nil {
				// stop this claim without marking; the rebalance loop picks
				// the message up again
				zap.L().Error("[Consumer] handler failed",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
