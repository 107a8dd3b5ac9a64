// Package stripewebhook verifies Stripe notifications and settles the orders they describe.
package stripewebhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/pkg/enums"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/metrics"
)

type settler interface {
	MarkPaid(ctx context.Context, orderID uuid.UUID, paymentRef string) (*orders.TransitionResult, error)
	MarkFailed(ctx context.Context, orderID uuid.UUID, reason string) (*orders.TransitionResult, error)
	MarkCancelled(ctx context.Context, orderID uuid.UUID, reason string) (*orders.TransitionResult, error)
	MarkRefunded(ctx context.Context, orderID uuid.UUID, reason string) (*orders.TransitionResult, error)
	AttachSession(ctx context.Context, orderID uuid.UUID, sessionRef, paymentRef string) error
}

type paymentRefLookup interface {
	FindIDByPaymentRef(ctx context.Context, paymentRef string) (uuid.UUID, error)
}

// Reconciler applies normalized payment events to orders.
type Reconciler struct {
	orders settler
	lookup paymentRefLookup
	logg   *logger.Logger
}

func NewReconciler(svc settler, lookup paymentRefLookup, logg *logger.Logger) (*Reconciler, error) {
	if svc == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if lookup == nil {
		return nil, fmt.Errorf("payment reference lookup required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler{orders: svc, lookup: lookup, logg: logg}, nil
}

// HandleEvent normalizes and applies one verified Stripe event. The returned
// outcome is one of the metrics.Webhook* values. A non-nil error means the
// event could not be applied for infrastructure reasons and should be redelivered.
func (r *Reconciler) HandleEvent(ctx context.Context, event *stripe.Event) (string, error) {
	ctx = r.logg.WithEventID(ctx, event.ID)
	ctx = r.logg.WithField(ctx, "stripe_event_type", string(event.Type))

	normalized, handled, err := Normalize(event)
	if !handled {
		r.logg.Info(ctx, "stripe event ignored")
		return metrics.WebhookIgnored, nil
	}
	if err != nil {
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "stripe event payload malformed")
		return metrics.WebhookDataError, nil
	}
	return r.Apply(ctx, normalized)
}

// Apply dispatches a PaymentEvent onto the order state machine.
func (r *Reconciler) Apply(ctx context.Context, event PaymentEvent) (string, error) {
	ctx = r.logg.WithField(ctx, "payment_event_kind", string(event.Kind))

	if event.Kind == KindPartialRefund {
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"order_id":        event.OrderID.String(),
			"payment_ref":     event.PaymentRef,
			"amount":          event.Amount,
			"amount_refunded": event.AmountRefunded,
		}), "partial refund leaves order unchanged")
		return metrics.WebhookIgnored, nil
	}

	orderID := event.OrderID
	if orderID == uuid.Nil && event.PaymentRef != "" {
		found, err := r.lookup.FindIDByPaymentRef(ctx, event.PaymentRef)
		if err != nil {
			return metrics.WebhookFailed, fmt.Errorf("resolve payment reference: %w", err)
		}
		orderID = found
	}
	if orderID == uuid.Nil {
		r.logg.Warn(r.logg.WithField(ctx, "payment_ref", event.PaymentRef), "payment event carries no order reference")
		return metrics.WebhookDataError, nil
	}
	ctx = r.logg.WithOrderID(ctx, orderID.String())

	var (
		result *orders.TransitionResult
		err    error
	)
	switch event.Kind {
	case KindSessionCompleted:
		err = r.orders.AttachSession(ctx, orderID, event.SessionRef, event.PaymentRef)
		if err == nil {
			r.logg.Info(ctx, "payment session recorded")
			return metrics.WebhookApplied, nil
		}
	case KindSucceeded:
		result, err = r.orders.MarkPaid(ctx, orderID, event.PaymentRef)
	case KindFailed:
		result, err = r.orders.MarkFailed(ctx, orderID, event.Reason)
	case KindCancelled:
		result, err = r.orders.MarkCancelled(ctx, orderID, event.Reason)
	case KindRefunded:
		result, err = r.orders.MarkRefunded(ctx, orderID, event.Reason)
	default:
		return metrics.WebhookIgnored, nil
	}
	if err != nil {
		return r.classify(ctx, err)
	}

	if result.Applied {
		return metrics.WebhookApplied, nil
	}
	if event.Kind == KindSucceeded && result.Status != enums.OrderStatusPaid {
		r.logg.Warn(r.logg.WithField(ctx, "status", string(result.Status)), "payment captured for settled order; manual refund required")
	}
	return metrics.WebhookNoop, nil
}

func (r *Reconciler) classify(ctx context.Context, err error) (string, error) {
	typed := pkgerrors.As(err)
	if typed == nil {
		return metrics.WebhookFailed, err
	}
	switch typed.Code() {
	case pkgerrors.CodeNotFound, pkgerrors.CodeValidation:
		r.logg.Warn(r.logg.WithField(ctx, "error", typed.Message()), "payment event references unknown order")
		return metrics.WebhookDataError, nil
	case pkgerrors.CodeStateConflict:
		r.logg.Warn(r.logg.WithField(ctx, "error", typed.Message()), "payment event rejected by order state")
		return metrics.WebhookNoop, nil
	default:
		return metrics.WebhookFailed, err
	}
}

// IsInvalidSignature reports whether err came from signature verification.
func IsInvalidSignature(err error) bool {
	return errors.Is(err, errInvalidSignature)
}
