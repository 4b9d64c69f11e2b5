package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78/webhook"
)

// WebhookEvent is the normalized inbound notification.
type WebhookEvent struct {
	Type          string
	CorrelationID string
	Status        RemoteStatus
}

var ErrMalformedWebhook = errors.New("malformed webhook payload")

type webhookObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type webhookEnvelope struct {
	Type   string         `json:"type"`
	Event  string         `json:"event"`
	Object *webhookObject `json:"object"`
	Data   *struct {
		Object *webhookObject `json:"object"`
	} `json:"data"`
}

// DecodeWebhook accepts the `{"object": {...}}` notification shape as well as
// Stripe's `{"type": ..., "data": {"object": {...}}}` event envelope.
func DecodeWebhook(body []byte) (WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	obj := env.Object
	if obj == nil && env.Data != nil {
		obj = env.Data.Object
	}
	if obj == nil || strings.TrimSpace(obj.ID) == "" {
		return WebhookEvent{}, fmt.Errorf("%w: missing object id", ErrMalformedWebhook)
	}

	eventType := env.Type
	if eventType == "" {
		eventType = env.Event
	}

	status := NormalizeStatus(obj.Status)
	if eventType == "payment_intent.payment_failed" {
		status = RemoteFailed
	}

	return WebhookEvent{
		Type:          eventType,
		CorrelationID: strings.TrimSpace(obj.ID),
		Status:        status,
	}, nil
}

// VerifyStripeSignature checks the Stripe-Signature header when a secret is configured.
func VerifyStripeSignature(body []byte, header, secret string) error {
	if secret == "" {
		return nil
	}
	return webhook.ValidatePayload(body, header, secret)
}
