package stripewebhook

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

var errInvalidSignature = errors.New("invalid stripe signature")

// Verify checks the Stripe-Signature header against the endpoint secret and
// decodes the event. API version mismatches are tolerated.
func Verify(payload []byte, header, secret string) (*stripe.Event, error) {
	if header == "" {
		return nil, fmt.Errorf("%w: header missing", errInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidSignature, err)
	}
	return &event, nil
}
