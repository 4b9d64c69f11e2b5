package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RemoteStatus is the processor-side state of a payment intent.
type RemoteStatus string

const (
	RemotePending   RemoteStatus = "pending"
	RemoteSucceeded RemoteStatus = "succeeded"
	RemoteCanceled  RemoteStatus = "canceled"
	RemoteFailed    RemoteStatus = "failed"
)

// IsTerminal reports whether the remote status settles the payment.
func (s RemoteStatus) IsTerminal() bool {
	return s == RemoteSucceeded || s == RemoteCanceled || s == RemoteFailed
}

// NormalizeStatus maps processor spellings onto RemoteStatus. Anything unknown is pending.
func NormalizeStatus(raw string) RemoteStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "succeeded", "success", "paid":
		return RemoteSucceeded
	case "canceled", "cancelled":
		return RemoteCanceled
	case "failed", "payment_failed", "declined":
		return RemoteFailed
	default:
		return RemotePending
	}
}

// ErrGatewayUnavailable means the processor could not be reached or answered with a server error.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// RejectedError means the processor refused the request; retrying it unchanged will not help.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payment gateway rejected request: %s", e.Reason)
}

type IntentRequest struct {
	// Amount is in minor units.
	Amount      int64
	Currency    string
	Description string
	Method      string
	// IdempotencyKey makes a retried create return the original intent.
	IdempotencyKey string
	Metadata       map[string]string
}

type Intent struct {
	CorrelationID   string
	ConfirmationURL string
	Status          RemoteStatus
}

// PaymentGateway is implemented once per processor.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	PaymentStatus(ctx context.Context, correlationID string) (RemoteStatus, error)
}
