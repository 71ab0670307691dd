package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/payments-gateway/internal/models"
)

// PaymentCreator is the payment-creation capability the processor invokes.
type PaymentCreator interface {
	CreatePayment(ctx context.Context, cmd models.CreatePaymentCommand) (models.CreateResult, error)
}

// Processor turns one payload into one payment-creation call. It never
// retries; retry policy belongs to the broker's dead-letter path.
type Processor struct {
	creator PaymentCreator
	timeout time.Duration
	logger  zerolog.Logger
}

// NewProcessor builds a processor. A zero timeout leaves the capability call
// bounded only by the caller's context.
func NewProcessor(creator PaymentCreator, timeout time.Duration, logger zerolog.Logger) (*Processor, error) {
	if creator == nil {
		return nil, errors.New("ingest: payment creator is required")
	}
	if timeout < 0 {
		return nil, errors.New("ingest: timeout cannot be negative")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Processor{creator: creator, timeout: timeout, logger: logger}, nil
}

// Process decodes payload, normalizes it and creates the payment. Decode and
// normalization failures wrap ErrMalformed and never reach the capability;
// capability errors and non-success results wrap ErrDomainRejected.
func (p *Processor) Process(ctx context.Context, payload []byte) error {
	cmd, err := Decode(payload)
	if err != nil {
		return err
	}

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result, err := p.creator.CreatePayment(callCtx, cmd)
	if err != nil {
		return WrapDomainRejected(err)
	}
	if !result.Succeeded() {
		reason := result.Message
		if reason == "" {
			reason = "status " + result.Status
		}
		return WrapDomainRejected(errors.New(reason))
	}

	if result.Payment != nil {
		p.logger.Debug().Str("payment_id", result.Payment.ID.String()).Msg("payment created")
	}
	return nil
}

// Decode parses a JSON payment request and resolves its defaults.
func Decode(payload []byte) (models.CreatePaymentCommand, error) {
	if len(payload) == 0 {
		return models.CreatePaymentCommand{}, WrapMalformed(errors.New("payload is empty"))
	}

	var req models.PaymentCreationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return models.CreatePaymentCommand{}, WrapMalformed(fmt.Errorf("decode: %w", err))
	}

	cmd, err := req.Normalize()
	if err != nil {
		return models.CreatePaymentCommand{}, WrapMalformed(err)
	}
	return cmd, nil
}
