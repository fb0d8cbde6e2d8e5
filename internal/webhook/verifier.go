package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// Verifier authenticates a raw delivery and decodes it into an event.
type Verifier interface {
	Verify(payload []byte, signatureHeader string) (stripe.Event, error)
}

// StripeVerifier checks the Stripe-Signature header against the endpoint secret.
type StripeVerifier struct {
	secret string
}

// NewStripeVerifier requires the endpoint signing secret.
func NewStripeVerifier(secret string) (*StripeVerifier, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: webhook signing secret is empty", ErrInvalidConfig)
	}
	return &StripeVerifier{secret: trimmed}, nil
}

// Verify validates the signature and timestamp tolerance before decoding the body.
func (verifier *StripeVerifier) Verify(payload []byte, signatureHeader string) (stripe.Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return stripe.Event{}, fmt.Errorf("%w: %w", ErrInvalidSignature, ErrMissingSignature)
	}
	if err := webhook.ValidatePayload(payload, signatureHeader, verifier.secret); err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, fmt.Errorf("%w: decode event: %v", ErrMalformedEvent, err)
	}
	return event, nil
}
