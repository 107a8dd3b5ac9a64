package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/ticketbooth/api/responses"
	stripewebhook "github.com/angelmondragon/ticketbooth/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/ticketbooth/pkg/errors"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/metrics"
)

const (
	maxWebhookBody = 256 << 10
	unknownKind    = "unknown"
)

type eventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (string, error)
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type webhookMetrics interface {
	IncWebhook(kind, outcome string)
}

type stripeSecret interface {
	SigningSecret() string
}

type ackResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	Outcome      string `json:"outcome,omitempty"`
}

// StripeWebhook verifies and applies Stripe payment notifications. Only
// infrastructure failures answer 500; they also release the idempotency key.
func StripeWebhook(svc eventHandler, secret stripeSecret, guard stripeWebhookGuard, m webhookMetrics, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	record := func(kind, outcome string) {
		if m != nil {
			m.IncWebhook(kind, outcome)
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || secret == nil || guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			// rejected before verification; Stripe keeps retrying non-2xx answers
			logg.Warn(logg.WithField(ctx, "limit_bytes", tooLarge.Limit), "stripe webhook body exceeds limit")
			record(unknownKind, metrics.WebhookFailed)
			responses.WriteError(ctx, logg, w, pkgerrors.Newf(pkgerrors.CodePayloadTooLarge, "webhook body exceeds %d bytes", tooLarge.Limit))
			return
		case err != nil:
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		event, err := stripewebhook.Verify(payload, r.Header.Get("Stripe-Signature"), secret.SigningSecret())
		if err != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"security_event": "invalid_webhook_signature",
				"remote_addr":    r.RemoteAddr,
				"error":          err.Error(),
			})
			logg.Warn(ctx, "security event: stripe webhook signature rejected")
			record(unknownKind, metrics.WebhookInvalidSignature)
			responses.WriteSuccess(w, ackResponse{Acknowledged: true})
			return
		}

		kind := string(event.Type)
		ctx = logg.WithEventID(ctx, event.ID)

		duplicate, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			record(kind, metrics.WebhookFailed)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check webhook idempotency"))
			return
		}
		if duplicate {
			logg.Info(ctx, "stripe event already processed")
			record(kind, metrics.WebhookDuplicate)
			responses.WriteSuccess(w, ackResponse{Acknowledged: true, Outcome: metrics.WebhookDuplicate})
			return
		}

		outcome, err := svc.HandleEvent(ctx, event)
		if err != nil {
			if delErr := guard.Delete(ctx, event.ID); delErr != nil {
				logg.Error(ctx, "release webhook idempotency key", delErr)
			}
			record(kind, metrics.WebhookFailed)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply stripe event"))
			return
		}

		record(kind, outcome)
		logg.Info(logg.WithField(ctx, "outcome", outcome), "stripe event processed")
		responses.WriteSuccess(w, ackResponse{Acknowledged: true, Outcome: outcome})
	}
}
