package brokertest

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is one channel opened on a Broker. Operations act on the shared
// broker state; after Close they fail with amqp.ErrClosed and the channel's
// subscriptions end.
type Channel struct {
	b        *Broker
	id       int
	openedAt uint64
	closedAt uint64
}

// OpenChannel opens a new channel on b.
func (b *Broker) OpenChannel() *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	ch := &Channel{b: b, id: len(b.channels) + 1, openedAt: b.seq}
	b.channels = append(b.channels, ch)
	return ch
}

// Channels returns every channel opened so far, in opening order.
func (b *Broker) Channels() []*Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Channel(nil), b.channels...)
}

// ID returns the 1-based opening index of the channel.
func (c *Channel) ID() int { return c.id }

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.closedAt != 0
}

// ClosedBefore reports whether c was closed before other was opened.
func (c *Channel) ClosedBefore(other *Channel) bool {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.closedAt != 0 && c.closedAt < other.openedAt
}

// Close implements broker.Channel.
func (c *Channel) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closedAt != 0 {
		return amqp.ErrClosed
	}
	c.b.seq++
	c.closedAt = c.b.seq
	for _, q := range c.b.queues {
		if q.owner == c && q.consumer != nil {
			close(q.consumer)
			q.consumer = nil
			q.owner = nil
		}
	}
	return nil
}

func (c *Channel) open() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closedAt != 0 {
		return amqp.ErrClosed
	}
	return nil
}

// ExchangeDeclare implements broker.Declarer.
func (c *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if err := c.open(); err != nil {
		return err
	}
	return c.b.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

// QueueDeclare implements broker.Declarer.
func (c *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if err := c.open(); err != nil {
		return amqp.Queue{}, err
	}
	return c.b.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

// QueueBind implements broker.Declarer.
func (c *Channel) QueueBind(name, key, exchangeName string, noWait bool, args amqp.Table) error {
	if err := c.open(); err != nil {
		return err
	}
	return c.b.QueueBind(name, key, exchangeName, noWait, args)
}

// Qos implements broker.Subscriber.
func (c *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	if err := c.open(); err != nil {
		return err
	}
	return c.b.Qos(prefetchCount, prefetchSize, global)
}

// Consume implements broker.Subscriber. The subscription ends when the
// channel closes.
func (c *Channel) Consume(queueName, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.closedAt != 0 {
		return nil, amqp.ErrClosed
	}
	return c.b.consume(c, queueName, consumer, exclusive)
}

// Cancel implements broker.Subscriber.
func (c *Channel) Cancel(consumer string, noWait bool) error {
	if err := c.open(); err != nil {
		return err
	}
	return c.b.Cancel(consumer, noWait)
}

// PublishWithContext implements broker.Sender.
func (c *Channel) PublishWithContext(ctx context.Context, exchangeName, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := c.open(); err != nil {
		return err
	}
	return c.b.PublishWithContext(ctx, exchangeName, key, mandatory, immediate, msg)
}
