package ingest

import (
	"errors"
	"fmt"
)

// ErrMalformed and ErrDomainRejected classify per-message failures. Both end
// with the message on the dead-letter queue.
var (
	ErrMalformed      = errors.New("malformed payload")
	ErrDomainRejected = errors.New("payment rejected")
)

// WrapMalformed annotates err as a decoding failure.
func WrapMalformed(err error) error {
	if err == nil {
		return ErrMalformed
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

// WrapDomainRejected annotates err as a refusal by the payment capability.
func WrapDomainRejected(err error) error {
	if err == nil {
		return ErrDomainRejected
	}
	return fmt.Errorf("%w: %v", ErrDomainRejected, err)
}

// Reason returns a short label for a processing error, used in logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrDomainRejected):
		return "domain_rejected"
	default:
		return "unknown"
	}
}
