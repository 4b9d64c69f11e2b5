package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentSucceeded || s == PaymentFailed || s == PaymentCancelled
}

// CanTransition keeps payment status monotonic: only pending moves, and only to a terminal state.
func (s PaymentStatus) CanTransition(to PaymentStatus) bool {
	return s == PaymentPending && to.IsTerminal()
}

// OrderStatus returns the order state a terminal payment status settles to.
func (s PaymentStatus) OrderStatus() OrderStatus {
	switch s {
	case PaymentSucceeded:
		return OrderCompleted
	case PaymentFailed, PaymentCancelled:
		return OrderCancelled
	default:
		return OrderPending
	}
}

type Payment struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	OrderID uuid.UUID
	Amount  int64
	// Currency is ISO 4217, upper case.
	Currency string
	Status   PaymentStatus
	Method   string
	// TransactionID is the gateway correlation id; nil until the gateway responds.
	TransactionID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (p *Payment) CorrelationID() string {
	if p.TransactionID == nil {
		return ""
	}
	return *p.TransactionID
}
