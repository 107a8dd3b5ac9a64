package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ticketbooth/api/routes"
	"github.com/angelmondragon/ticketbooth/internal/checkout"
	"github.com/angelmondragon/ticketbooth/internal/compensation"
	"github.com/angelmondragon/ticketbooth/internal/inventory"
	"github.com/angelmondragon/ticketbooth/internal/issuance"
	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/internal/reservation"
	stripewebhook "github.com/angelmondragon/ticketbooth/internal/webhooks/stripe"
	"github.com/angelmondragon/ticketbooth/pkg/config"
	"github.com/angelmondragon/ticketbooth/pkg/db"
	"github.com/angelmondragon/ticketbooth/pkg/instance"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/metrics"
	"github.com/angelmondragon/ticketbooth/pkg/migrate"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
	"github.com/angelmondragon/ticketbooth/pkg/redis"
	"github.com/angelmondragon/ticketbooth/pkg/security"
	"github.com/angelmondragon/ticketbooth/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	requireResource(ctx, logg, "stripe", err)

	signer, err := security.NewPayloadSigner(cfg.Issuance.QRSigningKey)
	requireResource(ctx, logg, "qr payload signer", err)

	booking := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)

	conn := dbClient.DB()
	ledger := inventory.NewRepository(conn)
	ordersRepo := orders.NewRepository(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)

	engine, err := compensation.NewEngine(ledger, logg, booking)
	requireResource(ctx, logg, "compensation engine", err)

	ordersService, err := orders.NewService(ordersRepo, dbClient, engine, emitter, logg)
	requireResource(ctx, logg, "orders service", err)

	coordinator, err := reservation.NewCoordinator(dbClient, ledger, ordersRepo, emitter, booking, logg, reservation.Config{
		MaxSeatsPerOrder: cfg.Reservation.MaxSeatsPerOrder,
		Currency:         cfg.Stripe.Currency,
	})
	requireResource(ctx, logg, "reservation coordinator", err)

	checkoutService, err := checkout.NewService(coordinator, stripeClient, ordersService, checkout.Hold{
		TTL:   cfg.Reservation.PendingTTL,
		Grace: cfg.Reservation.SessionGrace,
	}, logg)
	requireResource(ctx, logg, "checkout service", err)

	issuanceService, err := issuance.NewService(dbClient, issuance.NewRepository(conn), ordersRepo, signer, booking, logg)
	requireResource(ctx, logg, "issuance service", err)

	reconciler, err := stripewebhook.NewReconciler(ordersService, ordersRepo, logg)
	requireResource(ctx, logg, "stripe reconciler", err)

	guard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL)
	requireResource(ctx, logg, "stripe webhook guard", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			redisClient,
			prometheus.DefaultGatherer,
			checkoutService,
			ordersService,
			issuanceService,
			stripeClient,
			reconciler,
			guard,
			booking,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
