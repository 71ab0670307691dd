package ingest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/payments-gateway/internal/broker"
)

// MessageProcessor handles the payload of one delivery.
type MessageProcessor interface {
	Process(ctx context.Context, payload []byte) error
}

// Dependencies collects the collaborators of the engine.
type Dependencies struct {
	Processor MessageProcessor
	Policy    Policy
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Engine processes and settles deliveries one at a time.
type Engine struct {
	processor MessageProcessor
	policy    Policy
	logger    zerolog.Logger
	now       func() time.Time
}

// NewEngine validates deps and builds an engine.
func NewEngine(deps Dependencies) (*Engine, error) {
	if deps.Processor == nil {
		return nil, errors.New("ingest: processor dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		processor: deps.Processor,
		policy:    deps.Policy,
		logger:    logger,
		now:       now,
	}, nil
}

// HandleEnvelope implements broker.Handler. Processing runs on a context
// detached from ctx's cancellation, so a shutdown signal lets the in-flight
// message finish and be settled. Processing failures never escape; only a
// failed ack or nack is returned.
func (e *Engine) HandleEnvelope(ctx context.Context, env *broker.Envelope) error {
	if env == nil {
		return nil
	}

	start := e.now()
	procErr := e.processor.Process(context.WithoutCancel(ctx), env.Body())
	duration := e.now().Sub(start)

	outcome, err := e.policy.Settle(env, procErr)

	log := e.logger.With().
		Uint64("delivery_tag", env.DeliveryTag()).
		Str("routing_key", env.RoutingKey()).
		Str("message_id", env.MessageID()).
		Bool("redelivered", env.Redelivered()).
		Str("outcome", string(outcome)).
		Dur("duration", duration).
		Logger()

	if err != nil {
		log.Error().Err(err).Msg("ingest: settlement failed")
		return fmt.Errorf("ingest: settle delivery %d: %w", env.DeliveryTag(), err)
	}

	if procErr != nil {
		log.Warn().Err(procErr).Str("reason", Reason(procErr)).Msg("ingest: payment message dead-lettered")
		return nil
	}
	log.Info().Msg("ingest: payment message processed")
	return nil
}
