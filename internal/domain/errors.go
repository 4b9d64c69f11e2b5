package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
	ErrZeroAmount         = errors.New("order amount after discount is zero or negative")
	ErrGateway            = errors.New("payment gateway error")
	ErrAlreadyProcessed   = errors.New("order already processed")

	// ErrEmptyCart is a ValidationError, so errors.Is(err, ErrValidation) also holds.
	ErrEmptyCart = &ValidationError{Field: "items", Reason: "cart is empty"}
)

// ValidationError reports bad input shape. It is returned before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError names the kind of entity that could not be resolved.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func NewNotFound(kind string, id any) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// GatewayError is returned when the payment intent could not be created.
// The order it refers to is persisted and stays pending; callers should offer a retry.
type GatewayError struct {
	OrderID   uuid.UUID
	Reason    string
	Retryable bool
	// Unknown is set when the gateway call timed out: the intent may exist remotely.
	Unknown bool
	Err     error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Unknown:
		return fmt.Sprintf("payment gateway: outcome unknown for order %s: %v", e.OrderID, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("payment gateway: order %s: %s", e.OrderID, e.Reason)
	default:
		return fmt.Sprintf("payment gateway: order %s: %v", e.OrderID, e.Err)
	}
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

func (e *GatewayError) Unwrap() error { return e.Err }

// AlreadyProcessed wraps ErrAlreadyProcessed with the offending state.
func AlreadyProcessed(kind string, id uuid.UUID, status string) error {
	return fmt.Errorf("%w: %s %s is %s", ErrAlreadyProcessed, kind, id, status)
}
