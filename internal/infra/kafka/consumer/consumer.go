package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gateway/internal/config"
	"github.com/aliskhannn/image-gateway/internal/model"
)

const fetchBackoff = 500 * time.Millisecond

// messageHandler defines the interface for handling warm request messages.
type messageHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer represents a Kafka consumer along with its configuration
// and the handler that processes warm request messages.
type Consumer struct {
	Client   *wbfkafka.Consumer
	handler  messageHandler
	cfg      *config.Kafka
	strategy retry.Strategy
}

// New creates a new Consumer.
// - cfg: Kafka configuration struct
// - s: retry strategy
// - h: handler for warm request messages
func New(
	cfg *config.Kafka,
	s retry.Strategy,
	h messageHandler,
) *Consumer {
	consumer := wbfkafka.NewConsumer(cfg.Brokers, cfg.Topic, cfg.GroupID)

	return &Consumer{
		Client:   consumer,
		handler:  h,
		cfg:      cfg,
		strategy: s,
	}
}

// Consume fetches warm requests until ctx is canceled. Every fetched message is
// committed once handled, whether or not the warm succeeded.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Msg("starting warm consumer")

	for ctx.Err() == nil {
		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.Client.Fetch(ctx)
			return fetchErr
		}, c.strategy)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			zlog.Logger.Err(err).Msg("failed to fetch warm request")
			pause(ctx, fetchBackoff)
			continue
		}

		c.handle(ctx, msg)

		err = retry.Do(func() error {
			return c.Client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Int64("offset", msg.Offset).Msg("failed to commit warm request")
			continue
		}

		zlog.Logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("warm request committed")
	}

	zlog.Logger.Info().Msg("shutdown signal received, stopping warm consumer")
}

// handle runs the handler, retrying only failures a later attempt could fix
// (origin unavailable, timeouts, throttling). Anything else would fail the same way on replay.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var permanent error
	err := retry.Do(func() error {
		err := c.handler.Handle(ctx, msg)
		if err != nil && !model.KindOf(err).Retryable() {
			permanent = err
			return nil
		}
		return err
	}, c.strategy)
	if err == nil {
		err = permanent
	}

	if err != nil {
		zlog.Logger.Warn().Err(err).
			Str("key", string(msg.Key)).
			Str("kind", string(model.KindOf(err))).
			Msg("failed to warm cache")
	}
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
