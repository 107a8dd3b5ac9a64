package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/ticketbooth/pkg/config"
)

// MetadataOrderID is the metadata key carrying the order id on sessions and payment intents.
const MetadataOrderID = "order_id"

// MetadataOrderNumber carries the human-facing order number.
const MetadataOrderNumber = "order_number"

// Stripe accepts checkout expirations between 30 minutes and 24 hours out,
// measured on its own clock.
const (
	minSessionTTL = 30 * time.Minute
	maxSessionTTL = 24 * time.Hour
	clockSlack    = time.Minute
)

var (
	errNoLines             = errors.New("checkout session requires at least one line")
	errSessionOutlivesHold = errors.New("checkout session would outlive the reservation hold")
)

type checkoutDefaults struct {
	successURL string
	cancelURL  string
	currency   string
}

func defaultsFromConfig(cfg config.StripeConfig) checkoutDefaults {
	return checkoutDefaults{
		successURL: strings.TrimSpace(cfg.SuccessURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
		currency:   strings.ToLower(strings.TrimSpace(cfg.Currency)),
	}
}

// CheckoutLine is one priced row on the hosted payment page.
type CheckoutLine struct {
	Name       string
	UnitAmount decimal.Decimal
	Quantity   int
}

// CheckoutSessionRequest describes the payment session opened for a pending order.
type CheckoutSessionRequest struct {
	OrderID       uuid.UUID
	OrderNumber   string
	Currency      string
	CustomerEmail string
	Lines         []CheckoutLine
	// ExpiresAt is the preferred session expiry. It is raised to Stripe's
	// minimum when it falls short.
	ExpiresAt time.Time
	// Deadline is the latest acceptable expiry, the moment the order may be
	// swept. Zero means unbounded.
	Deadline time.Time
}

// CheckoutSession is the subset of the Stripe session the API hands back to buyers.
type CheckoutSession struct {
	ID  string
	URL string
}

// CreateCheckoutSession opens a hosted Checkout session for the order. The order id is
// stamped on both the session and the payment intent so every webhook can be correlated.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if c == nil || c.newSession == nil {
		return nil, errors.New("stripe client not initialized")
	}
	params, err := buildSessionParams(c.checkout, req, time.Now())
	if err != nil {
		return nil, err
	}
	params.Context = ctx

	sess, err := c.newSession(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func buildSessionParams(defaults checkoutDefaults, req CheckoutSessionRequest, now time.Time) (*stripe.CheckoutSessionParams, error) {
	if req.OrderID == uuid.Nil {
		return nil, errors.New("order id is required")
	}
	if len(req.Lines) == 0 {
		return nil, errNoLines
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaults.currency
	}

	orderID := req.OrderID.String()
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(defaults.successURL),
		CancelURL:         stripe.String(defaults.cancelURL),
		ClientReferenceID: stripe.String(orderID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				MetadataOrderID:     orderID,
				MetadataOrderNumber: req.OrderNumber,
			},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if !req.ExpiresAt.IsZero() {
		expires, err := sessionExpiry(req.ExpiresAt, req.Deadline, now)
		if err != nil {
			return nil, err
		}
		params.ExpiresAt = stripe.Int64(expires.Unix())
	}
	params.AddMetadata(MetadataOrderID, orderID)
	params.AddMetadata(MetadataOrderNumber, req.OrderNumber)
	params.SetIdempotencyKey("checkout-" + orderID)

	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("line %q has non-positive quantity", line.Name)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(line.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(MinorUnits(line.UnitAmount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
		})
	}
	return params, nil
}

// sessionExpiry clamps want into the window Stripe accepts. The session must
// close no later than deadline, when the order becomes eligible for the sweep.
func sessionExpiry(want, deadline, now time.Time) (time.Time, error) {
	expires := want
	if floor := now.Add(minSessionTTL + clockSlack); expires.Before(floor) {
		expires = floor
	}
	if ceiling := now.Add(maxSessionTTL - clockSlack); expires.After(ceiling) {
		expires = ceiling
	}
	if !deadline.IsZero() && expires.After(deadline) {
		return time.Time{}, fmt.Errorf("%w: expiry %s after %s", errSessionOutlivesHold,
			expires.UTC().Format(time.RFC3339), deadline.UTC().Format(time.RFC3339))
	}
	return expires, nil
}

// MinorUnits converts a two-decimal amount into cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
