package broker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const defaultHeartbeat = 10 * time.Second

// Channel is the subset of *amqp.Channel the gateway uses: topology
// declaration, consumption and publishing.
type Channel interface {
	Declarer
	Subscriber
	Sender
	Close() error
}

// AMQPConnection is the subset of *amqp.Connection the gateway relies on.
type AMQPConnection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	IsClosed() bool
	Close() error
}

// DialFunc opens a broker connection.
type DialFunc func(addr string, cfg amqp.Config) (AMQPConnection, error)

// Option customises the connection during construction.
type Option func(*options)

type options struct {
	dial           DialFunc
	heartbeat      time.Duration
	connectionName string
}

// WithDialer replaces the function used to reach the broker.
func WithDialer(dial DialFunc) Option {
	return func(o *options) {
		if dial != nil {
			o.dial = dial
		}
	}
}

// WithHeartbeat overrides the AMQP heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.heartbeat = d
		}
	}
}

// WithConnectionName sets the connection_name client property shown in the
// broker management UI.
func WithConnectionName(name string) Option {
	return func(o *options) {
		o.connectionName = name
	}
}

func dialAMQP(addr string, cfg amqp.Config) (AMQPConnection, error) {
	conn, err := amqp.DialConfig(addr, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// amqpConnection adapts *amqp.Connection so a failed Channel call yields a
// nil interface rather than a typed nil pointer.
type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Connection owns the physical broker connection. Channels are opened per
// unit of work. A broker-initiated close is reported exactly once on
// Failures; the connection never reconnects on its own.
type Connection struct {
	conn   AMQPConnection
	logger zerolog.Logger

	failures chan error

	closeOnce sync.Once
	mu        sync.Mutex
	closing   bool
}

// Dial connects to the broker at addr and starts watching the connection for
// asynchronous failures.
func Dial(ctx context.Context, addr string, logger zerolog.Logger, opts ...Option) (*Connection, error) {
	if addr == "" {
		return nil, errors.New("broker: address is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	settings := &options{dial: dialAMQP, heartbeat: defaultHeartbeat}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	cfg := amqp.Config{
		Heartbeat:  settings.heartbeat,
		Locale:     "en_US",
		Properties: amqp.NewConnectionProperties(),
	}
	if settings.connectionName != "" {
		cfg.Properties.SetClientConnectionName(settings.connectionName)
	}

	conn, err := settings.dial(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}

	c := &Connection{
		conn:     conn,
		logger:   logger,
		failures: make(chan error, 1),
	}
	go c.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	logger.Info().Str("connection_name", settings.connectionName).Msg("broker connected")
	return c, nil
}

func (c *Connection) watch(closed <-chan *amqp.Error) {
	defer close(c.failures)

	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		c.logger.Info().Msg("broker connection closed")
		return
	}

	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return
	}

	c.logger.Error().
		Int("code", amqpErr.Code).
		Str("reason", amqpErr.Reason).
		Bool("server", amqpErr.Server).
		Msg("broker connection lost")
	c.failures <- fmt.Errorf("%w: %v", ErrConnectionLost, amqpErr)
}

// Failures delivers at most one fatal connection error and is closed once
// the connection is gone.
func (c *Connection) Failures() <-chan error {
	return c.failures
}

// Channel opens a fresh channel on the live connection. purpose is only used
// for logging.
func (c *Connection) Channel(purpose string) (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: open %s channel: %w", purpose, err)
	}
	if ch == nil {
		return nil, fmt.Errorf("broker: open %s channel: %w", purpose, ErrNoChannel)
	}
	c.logger.Debug().Str("purpose", purpose).Msg("broker channel opened")
	return ch, nil
}

// IsOpen reports whether the underlying connection is still usable.
func (c *Connection) IsOpen() bool {
	return !c.conn.IsClosed()
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		if !c.conn.IsClosed() {
			err = c.conn.Close()
		}
	})
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("broker: close: %w", err)
	}
	return nil
}
