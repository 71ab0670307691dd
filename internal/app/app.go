// Package app wires the gateway components together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/example/payments-gateway/internal/broker"
	"github.com/example/payments-gateway/internal/config"
	"github.com/example/payments-gateway/internal/health"
	"github.com/example/payments-gateway/internal/ingest"
	"github.com/example/payments-gateway/internal/logger"
	"github.com/example/payments-gateway/internal/payments"
)

// Run starts the gateway and blocks until ctx is cancelled or a fatal error
// occurs. Topology declaration failures and a lost broker connection are
// returned; a cancelled ctx yields nil after an orderly shutdown.
func Run(ctx context.Context, cfg *config.Config, base zerolog.Logger) error {
	if cfg == nil {
		return errors.New("app: config is required")
	}
	log := logger.Component(base, "app")

	pool, err := payments.Connect(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
	if err != nil {
		return err
	}
	defer func() {
		pool.Close()
		log.Info().Msg("database pool closed")
	}()

	store, err := payments.NewStore(pool, logger.Component(base, "payments"))
	if err != nil {
		return err
	}

	conn, err := dial(ctx, cfg, base)
	if err != nil {
		return err
	}
	defer closeConnection(conn, log)

	return Serve(ctx, cfg, base, conn, store)
}

// Store is the payment capability the gateway consumes into, plus its
// readiness check.
type Store interface {
	ingest.PaymentCreator
	Ping(ctx context.Context) error
}

// Serve runs the gateway over an established broker connection: it declares
// the topology on a dedicated channel, opens a fresh channel for consumption
// and supervises the consume loop, the connection watcher and the health
// server. The consume channel is closed before Serve returns; the connection
// stays with the caller.
func Serve(ctx context.Context, cfg *config.Config, base zerolog.Logger, conn *broker.Connection, store Store) error {
	if cfg == nil {
		return errors.New("app: config is required")
	}
	if conn == nil {
		return errors.New("app: broker connection is required")
	}
	if store == nil {
		return errors.New("app: payment store is required")
	}
	log := logger.Component(base, "app")

	topology := broker.DefaultTopology()
	if err := broker.Bootstrap(conn, topology, logger.Component(base, "topology")); err != nil {
		return err
	}

	ch, err := conn.Channel("consume")
	if err != nil {
		return err
	}
	defer closeChannel(ch, log)

	consumer, err := broker.Subscribe(ch, broker.ConsumerConfig{
		Queue:         topology.Queue.Name,
		PrefetchCount: cfg.AMQP.PrefetchCount,
	}, logger.Component(base, "consumer"))
	if err != nil {
		return err
	}

	processor, err := ingest.NewProcessor(store, cfg.Processing.Timeout(), logger.Component(base, "processor"))
	if err != nil {
		return err
	}
	engine, err := ingest.NewEngine(ingest.Dependencies{
		Processor: processor,
		Logger:    logger.Component(base, "engine"),
	})
	if err != nil {
		return err
	}

	tasks := []Task{
		{Name: "consumer", Run: func(ctx context.Context) error {
			return consumer.Consume(ctx, engine.HandleEnvelope)
		}},
		{Name: "connection-watcher", Run: WatchFailures(conn.Failures())},
	}

	if cfg.Health.Enabled {
		srv, err := health.NewServer(health.Config{
			Addr:         cfg.Health.Addr(),
			CheckTimeout: cfg.Health.CheckTimeout(),
		}, map[string]health.Check{
			"broker":   brokerCheck(conn),
			"database": store.Ping,
		}, logger.Component(base, "health"))
		if err != nil {
			return err
		}
		tasks = append(tasks, Task{Name: "health", Run: srv.Run})
	}

	log.Info().
		Str("queue", topology.Queue.Name).
		Str("dead_letter_queue", topology.DeadLetterQueue.Name).
		Int("prefetch", cfg.AMQP.PrefetchCount).
		Msg("payments gateway started")

	if err := Supervise(ctx, log, tasks...); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	log.Info().Msg("payments gateway stopped")
	return nil
}

// Declare connects to the broker, declares the topology and disconnects.
func Declare(ctx context.Context, cfg *config.Config, base zerolog.Logger) error {
	if cfg == nil {
		return errors.New("app: config is required")
	}
	conn, err := dial(ctx, cfg, base)
	if err != nil {
		return err
	}
	defer closeConnection(conn, logger.Component(base, "app"))

	return broker.Bootstrap(conn, broker.DefaultTopology(), logger.Component(base, "topology"))
}

// Publish sends one payment request to the payments exchange and returns its
// message id. The topology is declared first so a fresh broker accepts it.
func Publish(ctx context.Context, cfg *config.Config, base zerolog.Logger, body []byte) (string, error) {
	if cfg == nil {
		return "", errors.New("app: config is required")
	}
	conn, err := dial(ctx, cfg, base)
	if err != nil {
		return "", err
	}
	log := logger.Component(base, "app")
	defer closeConnection(conn, log)

	topology := broker.DefaultTopology()
	if err := broker.Bootstrap(conn, topology, logger.Component(base, "topology")); err != nil {
		return "", err
	}

	ch, err := conn.Channel("publish")
	if err != nil {
		return "", err
	}
	defer closeChannel(ch, log)

	return broker.NewPublisher(ch, topology).Publish(ctx, body)
}

func dial(ctx context.Context, cfg *config.Config, base zerolog.Logger) (*broker.Connection, error) {
	return broker.Dial(ctx, cfg.AMQP.Addr, logger.Component(base, "broker"),
		broker.WithHeartbeat(cfg.AMQP.Heartbeat()),
		broker.WithConnectionName(cfg.AMQP.ConnectionName),
	)
}

func brokerCheck(conn *broker.Connection) health.Check {
	return func(context.Context) error {
		if !conn.IsOpen() {
			return broker.ErrConnectionLost
		}
		return nil
	}
}

func closeChannel(ch broker.Channel, log zerolog.Logger) {
	if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		log.Error().Err(err).Msg("failed to close broker channel")
	}
}

func closeConnection(conn *broker.Connection, log zerolog.Logger) {
	if err := conn.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close broker connection")
		return
	}
	log.Info().Msg("broker connection closed")
}
