package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome statuses reported by the payment-creation capability.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

// Payment mirrors a row of the payments table.
type Payment struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	UserID      uuid.UUID `json:"userId"`
	CategoryID  uuid.UUID `json:"categoryId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CreateResult is what the capability reports for one command.
type CreateResult struct {
	Status  string
	Payment *Payment
	Message string
}

// Succeeded reports whether the capability accepted the command.
func (r CreateResult) Succeeded() bool {
	return r.Status == StatusSuccess
}
