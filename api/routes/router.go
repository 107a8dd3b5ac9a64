package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/ticketbooth/api/controllers"
	webhookcontrollers "github.com/angelmondragon/ticketbooth/api/controllers/webhooks"
	"github.com/angelmondragon/ticketbooth/api/middleware"
	"github.com/angelmondragon/ticketbooth/internal/checkout"
	"github.com/angelmondragon/ticketbooth/internal/issuance"
	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/pkg/config"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type idempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Set(context.Context, string, any, time.Duration) error
	Del(context.Context, ...string) error
	IdempotencyKey(scope, id string) string
}

type ticketChecker interface {
	CheckIn(ctx context.Context, input issuance.CheckInInput) (*issuance.CheckInResult, error)
}

type stripeEventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (string, error)
}

type stripeGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeSecret interface {
	SigningSecret() string
}

type webhookMetrics interface {
	IncWebhook(kind, outcome string)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP pinger,
	redisP pinger,
	idempotency idempotencyStore,
	gatherer prometheus.Gatherer,
	checkoutService checkout.Service,
	ordersService orders.Service,
	ticketService ticketChecker,
	stripeClient stripeSecret,
	stripeWebhookService stripeEventHandler,
	stripeWebhookGuard stripeGuard,
	bookingMetrics webhookMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, bookingMetrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotency, logg))

		r.Post("/reservations", controllers.CreateReservation(checkoutService, logg))
		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/", controllers.OrderDetail(ordersService, logg))
			r.Post("/cancel", controllers.CancelOrder(ordersService, logg))
		})
		r.With(middleware.RequireCheckInRole(logg)).Post("/tickets/check-in", controllers.CheckInTicket(ticketService, logg))
	})

	return r
}
