package broker

import "errors"

var (
	// ErrConnectionLost signals that the broker closed the connection after
	// startup. It is fatal for the process.
	ErrConnectionLost = errors.New("broker connection lost")
	// ErrDeliveriesClosed is returned by the consume loop when the broker
	// stops handing out deliveries.
	ErrDeliveriesClosed = errors.New("delivery stream closed")
	// ErrAlreadySettled is returned when an envelope is acked or nacked a
	// second time.
	ErrAlreadySettled = errors.New("delivery already settled")
	// ErrNoChannel is returned when an operation requires a channel that was
	// never supplied.
	ErrNoChannel = errors.New("broker channel is nil")
)
