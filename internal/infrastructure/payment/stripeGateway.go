package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   *zap.Logger
	// Intents replaces the Stripe client, for tests.
	Intents stripeIntentAPI
}

// StripeGateway creates Stripe PaymentIntents. The intent id is the correlation id.
type StripeGateway struct {
	intents stripeIntentAPI
	logger  *zap.Logger
}

func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	intents := cfg.Intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StripeGateway{intents: intents, logger: logger}, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	if method := stripeMethodType(req.Method); method != "" {
		params.PaymentMethodTypes = stripe.StringSlice([]string{method})
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := g.intents.New(params)
	if err != nil {
		return Intent{}, classifyStripeError("create payment intent", err)
	}

	g.logger.Info("payments.stripe.intent.created",
		zap.String("paymentIntent", intent.ID),
		zap.String("status", string(intent.Status)),
	)

	out := Intent{
		CorrelationID: intent.ID,
		Status:        stripeStatus(intent.Status),
	}
	if intent.NextAction != nil && intent.NextAction.RedirectToURL != nil {
		out.ConfirmationURL = intent.NextAction.RedirectToURL.URL
	}
	return out, nil
}

func (g *StripeGateway) PaymentStatus(ctx context.Context, correlationID string) (RemoteStatus, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := g.intents.Get(correlationID, params)
	if err != nil {
		return "", classifyStripeError("lookup payment intent", err)
	}
	return stripeStatus(intent.Status), nil
}

func stripeStatus(status stripe.PaymentIntentStatus) RemoteStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return RemoteSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return RemoteCanceled
	default:
		return RemotePending
	}
}

func stripeMethodType(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "", "bank_card", "card":
		return "card"
	default:
		return strings.ToLower(strings.TrimSpace(method))
	}
}

func classifyStripeError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("stripe: %s: %w", op, err)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeIdempotency:
			reason := stripeErr.Msg
			if reason == "" {
				reason = string(stripeErr.Code)
			}
			return &RejectedError{Reason: reason}
		}
	}
	return fmt.Errorf("stripe: %s: %w: %w", op, ErrGatewayUnavailable, err)
}
