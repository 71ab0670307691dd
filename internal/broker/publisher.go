package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Sender is the subset of *amqp.Channel used to publish.
type Sender interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher writes JSON payment requests to the payments exchange.
type Publisher struct {
	ch         Sender
	exchange   string
	routingKey string
	now        func() time.Time
}

// NewPublisher targets the main exchange of t with its binding key.
func NewPublisher(ch Sender, t Topology) *Publisher {
	return &Publisher{
		ch:         ch,
		exchange:   t.Exchange.Name,
		routingKey: t.Queue.BindingKey,
		now:        time.Now,
	}
}

// Publish sends body as a persistent JSON message and returns the message
// id it was given.
func (p *Publisher) Publish(ctx context.Context, body []byte) (string, error) {
	if p == nil || p.ch == nil {
		return "", fmt.Errorf("publisher: %w", ErrNoChannel)
	}
	if len(body) == 0 {
		return "", errors.New("publisher: body is empty")
	}

	messageID := uuid.NewString()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
		return "", fmt.Errorf("publisher: publish to %s: %w", p.exchange, err)
	}
	return messageID, nil
}
