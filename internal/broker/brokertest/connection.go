package brokertest

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/payments-gateway/internal/broker"
)

// Connection is an in-memory broker.AMQPConnection whose channels all share
// one Broker.
type Connection struct {
	b *Broker

	mu        sync.Mutex
	closed    bool
	receivers []chan *amqp.Error
}

// NewConnection returns an open connection to b.
func NewConnection(b *Broker) *Connection {
	return &Connection{b: b}
}

// Dialer returns a broker.DialFunc that hands out c.
func (c *Connection) Dialer() broker.DialFunc {
	return func(string, amqp.Config) (broker.AMQPConnection, error) {
		return c, nil
	}
}

// Channel implements broker.AMQPConnection.
func (c *Connection) Channel() (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	return c.b.OpenChannel(), nil
}

// NotifyClose implements broker.AMQPConnection.
func (c *Connection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.receivers = append(c.receivers, receiver)
	return receiver
}

// IsClosed implements broker.AMQPConnection.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close implements broker.AMQPConnection.
func (c *Connection) Close() error {
	return c.shutdown(nil)
}

// ServerClose closes the connection as the broker would, reporting err to
// every NotifyClose receiver.
func (c *Connection) ServerClose(err *amqp.Error) {
	_ = c.shutdown(err)
}

func (c *Connection) shutdown(reason *amqp.Error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	for _, r := range c.receivers {
		if reason != nil {
			r <- reason
		}
		close(r)
	}
	c.receivers = nil
	return nil
}
