package service

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ConsumerRunner keeps the handler joined to its consumer group. Consume
// returns on every rebalance; a failed session rejoins with exponential
// backoff so a poisoned batch cannot hot-loop the group, and a clean
// rebalance resets the backoff.
type ConsumerRunner struct {
	group   sarama.ConsumerGroup
	handler sarama.ConsumerGroupHandler
	topics  []string
	logger  *zap.Logger
}

func NewConsumerRunner(
	group sarama.ConsumerGroup,
	handler sarama.ConsumerGroupHandler,
	topics []string,
	logger *zap.Logger,
) *ConsumerRunner {
	return &ConsumerRunner{
		group:   group,
		handler: handler,
		topics:  topics,
		logger:  logger,
	}
}

func (cr *ConsumerRunner) Run(ctx context.Context) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 0
	for {
		err := cr.group.Consume(ctx, cr.topics, cr.handler)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return nil
		}
		if err != nil {
			wait := expBackoff.NextBackOff()
			cr.logger.Error("Consumer session failed, rejoining after backoff",
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		expBackoff.Reset()
	}
}
