package broker

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// ConsumerTag is the fixed consumer identity. Subscriptions are
// non-exclusive, so several gateway instances sharing the tag compete for
// deliveries on the same queue.
const ConsumerTag = "payments-consumer"

// ConsumerConfig describes one subscription.
type ConsumerConfig struct {
	Queue         string
	Tag           string
	PrefetchCount int
}

// Subscriber is the subset of *amqp.Channel used to consume.
type Subscriber interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
}

// Handler processes one envelope. It must settle the envelope before
// returning; a returned error stops the consume loop.
type Handler func(ctx context.Context, env *Envelope) error

// Consumer drives a single serialized consume loop over one channel.
type Consumer struct {
	ch         Subscriber
	cfg        ConsumerConfig
	deliveries <-chan amqp.Delivery
	logger     zerolog.Logger
}

// Subscribe sets the in-flight limit on the channel and starts a manual-ack,
// non-exclusive subscription to cfg.Queue.
func Subscribe(ch Subscriber, cfg ConsumerConfig, logger zerolog.Logger) (*Consumer, error) {
	if ch == nil {
		return nil, fmt.Errorf("consumer: %w", ErrNoChannel)
	}
	if cfg.Queue == "" {
		return nil, errors.New("consumer: queue is required")
	}
	if cfg.PrefetchCount < 1 {
		return nil, fmt.Errorf("consumer: prefetch count must be >= 1, got %d", cfg.PrefetchCount)
	}
	if cfg.Tag == "" {
		cfg.Tag = ConsumerTag
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("consumer: set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		cfg.Queue,
		cfg.Tag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consumer: consume %s: %w", cfg.Queue, err)
	}

	logger.Info().
		Str("queue", cfg.Queue).
		Str("consumer_tag", cfg.Tag).
		Int("prefetch", cfg.PrefetchCount).
		Msg("subscribed")

	return &Consumer{ch: ch, cfg: cfg, deliveries: deliveries, logger: logger}, nil
}

// Consume hands deliveries to handler one at a time, in the order the broker
// sends them. The next delivery is not read until handler returns.
//
// It returns nil when ctx is cancelled, ErrDeliveriesClosed when the broker
// ends the stream, and the handler's error otherwise.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("consumer: handler is required")
	}

	for {
		select {
		case <-ctx.Done():
			c.cancel()
			return nil
		case d, ok := <-c.deliveries:
			if !ok {
				c.logger.Error().Str("queue", c.cfg.Queue).Msg("delivery stream closed by broker")
				return fmt.Errorf("consumer: %s: %w", c.cfg.Queue, ErrDeliveriesClosed)
			}
			if err := handler(ctx, NewEnvelope(d)); err != nil {
				c.logger.Error().
					Err(err).
					Uint64("delivery_tag", d.DeliveryTag).
					Msg("consume loop stopped")
				return err
			}
		}
	}
}

func (c *Consumer) cancel() {
	if err := c.ch.Cancel(c.cfg.Tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
		c.logger.Warn().Err(err).Str("consumer_tag", c.cfg.Tag).Msg("failed to cancel subscription")
		return
	}
	c.logger.Info().Str("consumer_tag", c.cfg.Tag).Msg("subscription cancelled")
}
