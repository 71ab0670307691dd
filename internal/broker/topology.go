package broker

import (
	"errors"
	"fmt"
	"reflect"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Names of the broker entities the gateway depends on.
const (
	PaymentsExchange           = "payments.exchange"
	PaymentsQueue              = "payments.queue"
	PaymentsDeadLetterExchange = "payments-dead-letter.exchange"
	PaymentsDeadLetterQueue    = "payments-dead-letter.queue"

	deadLetterExchangeArg = "x-dead-letter-exchange"
)

// ExchangeSpec describes one exchange declaration.
type ExchangeSpec struct {
	Name    string
	Kind    string
	Durable bool
}

// QueueSpec describes one queue declaration and its binding.
type QueueSpec struct {
	Name       string
	Durable    bool
	BindingKey string
}

// Topology is the static description of the exchanges, queues and bindings
// that must exist before consumption starts.
type Topology struct {
	DeadLetterExchange ExchangeSpec
	DeadLetterQueue    QueueSpec
	Exchange           ExchangeSpec
	Queue              QueueSpec
}

// DefaultTopology returns the payments topology: a durable direct exchange
// feeding payments.queue, which dead-letters into a durable direct exchange
// feeding payments-dead-letter.queue. Both bindings use the empty key.
func DefaultTopology() Topology {
	return Topology{
		DeadLetterExchange: ExchangeSpec{Name: PaymentsDeadLetterExchange, Kind: amqp.ExchangeDirect, Durable: true},
		DeadLetterQueue:    QueueSpec{Name: PaymentsDeadLetterQueue, Durable: true, BindingKey: ""},
		Exchange:           ExchangeSpec{Name: PaymentsExchange, Kind: amqp.ExchangeDirect, Durable: true},
		Queue:              QueueSpec{Name: PaymentsQueue, Durable: true, BindingKey: ""},
	}
}

// Validate checks the invariants every topology must hold: all names are
// set and every exchange and queue is durable.
func (t Topology) Validate() error {
	var errs []error
	for _, ex := range []ExchangeSpec{t.DeadLetterExchange, t.Exchange} {
		if ex.Name == "" {
			errs = append(errs, errors.New("exchange name is required"))
			continue
		}
		if ex.Kind == "" {
			errs = append(errs, fmt.Errorf("exchange %s: kind is required", ex.Name))
		}
		if !ex.Durable {
			errs = append(errs, fmt.Errorf("exchange %s must be durable", ex.Name))
		}
	}
	for _, q := range []QueueSpec{t.DeadLetterQueue, t.Queue} {
		if q.Name == "" {
			errs = append(errs, errors.New("queue name is required"))
			continue
		}
		if !q.Durable {
			errs = append(errs, fmt.Errorf("queue %s must be durable", q.Name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("topology: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// QueueArgs returns the arguments of the main queue. The dead-letter
// exchange argument is always present.
func (t Topology) QueueArgs() amqp.Table {
	return amqp.Table{deadLetterExchangeArg: t.DeadLetterExchange.Name}
}

// Declarer is the subset of *amqp.Channel used to declare the topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// DeclareTopology declares the dead-letter path first, then the main
// exchange and queue. Each step is idempotent against a broker that already
// holds the same topology. The first failing step aborts the declaration.
func DeclareTopology(ch Declarer, t Topology, logger zerolog.Logger) error {
	if ch == nil {
		return fmt.Errorf("topology: %w", ErrNoChannel)
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	if err := declareExchange(ch, t.DeadLetterExchange); err != nil {
		return err
	}
	if err := declareBoundQueue(ch, t.DeadLetterQueue, t.DeadLetterExchange.Name, nil); err != nil {
		return err
	}
	if err := declareExchange(ch, t.Exchange); err != nil {
		return err
	}
	if err := declareBoundQueue(ch, t.Queue, t.Exchange.Name, t.QueueArgs()); err != nil {
		return err
	}

	logger.Info().
		Str("exchange", t.Exchange.Name).
		Str("queue", t.Queue.Name).
		Str("dead_letter_exchange", t.DeadLetterExchange.Name).
		Str("dead_letter_queue", t.DeadLetterQueue.Name).
		Msg("topology declared")
	return nil
}

func declareExchange(ch Declarer, ex ExchangeSpec) error {
	if err := ch.ExchangeDeclare(ex.Name, ex.Kind, ex.Durable, false, false, false, nil); err != nil {
		return fmt.Errorf("topology: declare exchange %s: %w", ex.Name, err)
	}
	return nil
}

func declareBoundQueue(ch Declarer, q QueueSpec, exchange string, args amqp.Table) error {
	if _, err := ch.QueueDeclare(q.Name, q.Durable, false, false, false, args); err != nil {
		return fmt.Errorf("topology: declare queue %s: %w", q.Name, err)
	}
	if err := ch.QueueBind(q.Name, q.BindingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("topology: bind queue %s to %s: %w", q.Name, exchange, err)
	}
	return nil
}

// Bootstrap declares the topology on a dedicated channel and closes it. The
// channel is never reused for consumption.
func Bootstrap(conn *Connection, t Topology, logger zerolog.Logger) error {
	ch, err := conn.Channel("declare")
	if err != nil {
		return err
	}

	if err := DeclareTopology(ch, t, logger); err != nil {
		_ = ch.Close()
		return err
	}

	if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("topology: close declare channel: %w", err)
	}
	return nil
}
