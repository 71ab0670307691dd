package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNameRequired is returned when a payment request carries no name.
var ErrNameRequired = errors.New("name is required")

// PaymentCreationRequest is the JSON payload published to payments.queue.
// Pointer fields distinguish an absent value from an explicit zero.
type PaymentCreationRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description,omitempty"`
	Price       *float64   `json:"price,omitempty"`
	UserID      *uuid.UUID `json:"userId,omitempty"`
	CategoryID  *uuid.UUID `json:"categoryId,omitempty"`
}

// UnmarshalJSON decodes the request matching field names exactly. Keys that
// differ only in case, such as "NAME", are treated as unknown and ignored.
func (r *PaymentCreationRequest) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*r = PaymentCreationRequest{}
	targets := map[string]any{
		"name":        &r.Name,
		"description": &r.Description,
		"price":       &r.Price,
		"userId":      &r.UserID,
		"categoryId":  &r.CategoryID,
	}
	for key, raw := range fields {
		target, ok := targets[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// CreatePaymentCommand is the fully resolved input of the payment-creation
// capability. Every field holds a concrete value.
type CreatePaymentCommand struct {
	Name        string
	Description string
	Price       float64
	UserID      uuid.UUID
	CategoryID  uuid.UUID
}

// Normalize resolves the optional fields of the request. Absent fields take
// the following defaults:
//
//	description  ""
//	price        0
//	userId       uuid.Nil
//	categoryId   uuid.Nil
//
// name is required; a request without it yields ErrNameRequired.
func (r PaymentCreationRequest) Normalize() (CreatePaymentCommand, error) {
	if r.Name == nil {
		return CreatePaymentCommand{}, ErrNameRequired
	}

	cmd := CreatePaymentCommand{Name: *r.Name}
	if r.Description != nil {
		cmd.Description = *r.Description
	}
	if r.Price != nil {
		cmd.Price = *r.Price
	}
	if r.UserID != nil {
		cmd.UserID = *r.UserID
	}
	if r.CategoryID != nil {
		cmd.CategoryID = *r.CategoryID
	}
	return cmd, nil
}
