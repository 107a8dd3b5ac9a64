package stripewebhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	pkgstripe "github.com/angelmondragon/ticketbooth/pkg/stripe"
)

// Kind is the processor-neutral meaning of a payment notification.
type Kind string

const (
	KindSessionCompleted Kind = "session_completed"
	KindSucceeded        Kind = "succeeded"
	KindFailed           Kind = "failed"
	KindCancelled        Kind = "cancelled"
	KindRefunded         Kind = "refunded"
	// KindPartialRefund is a refund that leaves part of the charge captured.
	// It does not move the order.
	KindPartialRefund Kind = "partial_refund"
)

// PaymentEvent is a verified notification reduced to what the reconciler needs.
// OrderID is uuid.Nil when the payload carried no usable order reference.
type PaymentEvent struct {
	ID         string
	Kind       Kind
	OrderID    uuid.UUID
	SessionRef string
	PaymentRef string
	Reason     string
	// Amount and AmountRefunded are in minor units; set for refunds only.
	Amount         int64
	AmountRefunded int64
}

// errMalformed marks payloads that cannot be decoded into the expected object.
type errMalformed struct{ err error }

func (e errMalformed) Error() string { return "malformed event payload: " + e.err.Error() }
func (e errMalformed) Unwrap() error { return e.err }

// Normalize maps a Stripe event onto a PaymentEvent. It reports false for
// event types the reconciler does not act on.
func Normalize(event *stripe.Event) (PaymentEvent, bool, error) {
	if event == nil || event.Data == nil {
		return PaymentEvent{}, false, errMalformed{fmt.Errorf("event data missing")}
	}
	out := PaymentEvent{ID: event.ID}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionExpired:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return out, true, errMalformed{err}
		}
		out.Kind = KindSessionCompleted
		if event.Type == stripe.EventTypeCheckoutSessionExpired {
			out.Kind = KindCancelled
			out.Reason = "checkout_session_expired"
		}
		out.SessionRef = sess.ID
		if sess.PaymentIntent != nil {
			out.PaymentRef = sess.PaymentIntent.ID
		}
		ref := sess.Metadata[pkgstripe.MetadataOrderID]
		if ref == "" {
			ref = sess.ClientReferenceID
		}
		return withOrderID(out, ref)

	case stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return out, true, errMalformed{err}
		}
		out.PaymentRef = intent.ID
		switch event.Type {
		case stripe.EventTypePaymentIntentSucceeded:
			out.Kind = KindSucceeded
		case stripe.EventTypePaymentIntentPaymentFailed:
			out.Kind = KindFailed
			out.Reason = "payment_failed"
			if intent.LastPaymentError != nil && intent.LastPaymentError.Code != "" {
				out.Reason = string(intent.LastPaymentError.Code)
			}
		default:
			out.Kind = KindCancelled
			out.Reason = "payment_canceled"
			if intent.CancellationReason != "" {
				out.Reason = string(intent.CancellationReason)
			}
		}
		return withOrderID(out, intent.Metadata[pkgstripe.MetadataOrderID])

	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return out, true, errMalformed{err}
		}
		out.Kind = KindRefunded
		out.Reason = "refunded"
		out.Amount = charge.Amount
		out.AmountRefunded = charge.AmountRefunded
		if !charge.Refunded && charge.AmountRefunded < charge.Amount {
			out.Kind = KindPartialRefund
			out.Reason = "partially_refunded"
		}
		if charge.PaymentIntent != nil {
			out.PaymentRef = charge.PaymentIntent.ID
		}
		return withOrderID(out, charge.Metadata[pkgstripe.MetadataOrderID])

	default:
		return out, false, nil
	}
}

func withOrderID(out PaymentEvent, ref string) (PaymentEvent, bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return out, true, nil
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return out, true, errMalformed{fmt.Errorf("order reference %q: %w", ref, err)}
	}
	out.OrderID = id
	return out, true, nil
}
