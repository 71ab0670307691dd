package broker

import (
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Envelope is one inbound delivery together with its one-shot settlement
// handle. After Ack or Nack succeeds or fails, every further settlement
// returns ErrAlreadySettled without contacting the broker.
type Envelope struct {
	delivery amqp.Delivery

	mu      sync.Mutex
	settled bool
}

// NewEnvelope wraps a delivery received on a manual-ack subscription.
func NewEnvelope(d amqp.Delivery) *Envelope {
	return &Envelope{delivery: d}
}

// Body returns the raw payload.
func (e *Envelope) Body() []byte { return e.delivery.Body }

// DeliveryTag returns the channel-scoped delivery tag.
func (e *Envelope) DeliveryTag() uint64 { return e.delivery.DeliveryTag }

// RoutingKey returns the key the message was published with.
func (e *Envelope) RoutingKey() string { return e.delivery.RoutingKey }

// Redelivered reports whether the broker delivered this message before.
func (e *Envelope) Redelivered() bool { return e.delivery.Redelivered }

// MessageID returns the publisher supplied message id, if any.
func (e *Envelope) MessageID() string { return e.delivery.MessageId }

// Settled reports whether Ack or Nack was already attempted.
func (e *Envelope) Settled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settled
}

// Ack removes the message from the queue.
func (e *Envelope) Ack() error {
	if err := e.claim(); err != nil {
		return err
	}
	if err := e.delivery.Ack(false); err != nil {
		return fmt.Errorf("broker: ack delivery %d: %w", e.delivery.DeliveryTag, err)
	}
	return nil
}

// Nack rejects the message. With requeue false the broker routes it to the
// queue's dead-letter exchange.
func (e *Envelope) Nack(requeue bool) error {
	if err := e.claim(); err != nil {
		return err
	}
	if err := e.delivery.Nack(false, requeue); err != nil {
		return fmt.Errorf("broker: nack delivery %d: %w", e.delivery.DeliveryTag, err)
	}
	return nil
}

func (e *Envelope) claim() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settled {
		return ErrAlreadySettled
	}
	e.settled = true
	return nil
}
