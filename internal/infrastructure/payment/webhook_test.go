package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"
)

func TestDecodeWebhookEnvelopes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want WebhookEvent
	}{
		{
			name: "object envelope",
			body: `{"object":{"id":"tx1","status":"succeeded"}}`,
			want: WebhookEvent{CorrelationID: "tx1", Status: RemoteSucceeded},
		},
		{
			name: "object envelope with event name",
			body: `{"event":"payment.canceled","object":{"id":" tx2 ","status":"canceled"}}`,
			want: WebhookEvent{Type: "payment.canceled", CorrelationID: "tx2", Status: RemoteCanceled},
		},
		{
			name: "stripe event",
			body: `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","status":"succeeded"}}}`,
			want: WebhookEvent{Type: "payment_intent.succeeded", CorrelationID: "pi_1", Status: RemoteSucceeded},
		},
		{
			name: "stripe failure keeps intent open",
			body: `{"type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","status":"requires_payment_method"}}}`,
			want: WebhookEvent{Type: "payment_intent.payment_failed", CorrelationID: "pi_2", Status: RemoteFailed},
		},
		{
			name: "unknown status stays pending",
			body: `{"object":{"id":"tx3","status":"waiting_for_capture"}}`,
			want: WebhookEvent{CorrelationID: "tx3", Status: RemotePending},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeWebhook([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeWebhookMalformed(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{}`,
		`{"object":{"status":"succeeded"}}`,
		`{"data":{}}`,
	} {
		_, err := DecodeWebhook([]byte(body))
		assert.ErrorIs(t, err, ErrMalformedWebhook, body)
	}
}

func TestVerifyStripeSignature(t *testing.T) {
	body := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","status":"succeeded"}}}`)
	secret := "whsec_test"

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	require.NoError(t, VerifyStripeSignature(body, signed.Header, secret))

	assert.Error(t, VerifyStripeSignature(body, signed.Header, "whsec_other"))
	assert.Error(t, VerifyStripeSignature(body, "", secret))
	assert.NoError(t, VerifyStripeSignature(body, "", ""))
}
