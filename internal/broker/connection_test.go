package broker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/example/payments-gateway/internal/broker"
)

type fakeConnection struct {
	mu       sync.Mutex
	closed   bool
	receiver chan *amqp.Error
	closes   int
}

func (c *fakeConnection) Channel() (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	return nil, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = receiver
	return receiver
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closed {
		return amqp.ErrClosed
	}
	c.closed = true
	close(c.receiver)
	return nil
}

// serverClose simulates the broker tearing the connection down.
func (c *fakeConnection) serverClose(err *amqp.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.receiver <- err
	close(c.receiver)
}

func dialFake(conn *fakeConnection, seen *amqp.Config) broker.DialFunc {
	return func(addr string, cfg amqp.Config) (broker.AMQPConnection, error) {
		if seen != nil {
			*seen = cfg
		}
		return conn, nil
	}
}

func TestDialConfiguresConnection(t *testing.T) {
	conn := &fakeConnection{}
	var cfg amqp.Config

	c, err := broker.Dial(context.Background(), "amqp://localhost", zerolog.Nop(),
		broker.WithDialer(dialFake(conn, &cfg)),
		broker.WithHeartbeat(3*time.Second),
		broker.WithConnectionName("payments-gateway"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	if cfg.Heartbeat != 3*time.Second {
		t.Fatalf("heartbeat = %s, want 3s", cfg.Heartbeat)
	}
	if cfg.Properties["connection_name"] != "payments-gateway" {
		t.Fatalf("connection_name = %v", cfg.Properties["connection_name"])
	}
	if !c.IsOpen() {
		t.Fatalf("expected connection to be open")
	}
}

func TestDialErrors(t *testing.T) {
	if _, err := broker.Dial(context.Background(), "", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for empty address")
	}

	refused := errors.New("connection refused")
	_, err := broker.Dial(context.Background(), "amqp://localhost", zerolog.Nop(),
		broker.WithDialer(func(string, amqp.Config) (broker.AMQPConnection, error) { return nil, refused }),
	)
	if !errors.Is(err, refused) {
		t.Fatalf("expected dial error to be wrapped, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := broker.Dial(ctx, "amqp://localhost", zerolog.Nop(), broker.WithDialer(dialFake(&fakeConnection{}, nil))); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestFailuresReportsServerClose(t *testing.T) {
	conn := &fakeConnection{}
	c, err := broker.Dial(context.Background(), "amqp://localhost", zerolog.Nop(), broker.WithDialer(dialFake(conn, nil)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	conn.serverClose(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker shutdown", Server: true})

	select {
	case err, ok := <-c.Failures():
		if !ok {
			t.Fatalf("expected a failure before the channel closed")
		}
		if !errors.Is(err, broker.ErrConnectionLost) {
			t.Fatalf("expected ErrConnectionLost, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("no failure reported")
	}

	select {
	case _, ok := <-c.Failures():
		if ok {
			t.Fatalf("expected failures channel to close after the single failure")
		}
	case <-time.After(time.Second):
		t.Fatalf("failures channel not closed")
	}

	if c.IsOpen() {
		t.Fatalf("expected connection to report closed")
	}
}

func TestCloseDoesNotReportFailure(t *testing.T) {
	conn := &fakeConnection{}
	c, err := broker.Dial(context.Background(), "amqp://localhost", zerolog.Nop(), broker.WithDialer(dialFake(conn, nil)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case err, ok := <-c.Failures():
		if ok {
			t.Fatalf("expected no failure on local close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("failures channel not closed after local close")
	}

	if conn.closes != 1 {
		t.Fatalf("expected underlying close once, got %d", conn.closes)
	}
}

func TestChannelWrapsErrors(t *testing.T) {
	conn := &fakeConnection{}
	c, err := broker.Dial(context.Background(), "amqp://localhost", zerolog.Nop(), broker.WithDialer(dialFake(conn, nil)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.Close()

	if _, err := c.Channel("consume"); err == nil {
		t.Fatalf("expected error opening a channel on a closed connection")
	}
}

func TestChannelRejectsMissingChannel(t *testing.T) {
	conn := &fakeConnection{}
	c, err := broker.Dial(context.Background(), "amqp://localhost", zerolog.Nop(), broker.WithDialer(dialFake(conn, nil)))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ch, err := c.Channel("declare")
	if !errors.Is(err, broker.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
	if ch != nil {
		t.Fatalf("expected nil channel, got %#v", ch)
	}
}
