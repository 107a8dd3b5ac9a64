package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/ticketbooth/internal/compensation"
	"github.com/angelmondragon/ticketbooth/internal/cron"
	"github.com/angelmondragon/ticketbooth/internal/inventory"
	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/pkg/config"
	"github.com/angelmondragon/ticketbooth/pkg/db"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/metrics"
	"github.com/angelmondragon/ticketbooth/pkg/migrate"
	"github.com/angelmondragon/ticketbooth/pkg/outbox"
	"github.com/angelmondragon/ticketbooth/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	conn := dbClient.DB()
	booking := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	engine, err := compensation.NewEngine(inventory.NewRepository(conn), logg, booking)
	requireResource(ctx, logg, "compensation engine", err)

	outboxRepo := outbox.NewRepository(conn)
	ordersService, err := orders.NewService(orders.NewRepository(conn), dbClient, engine, outbox.NewService(outboxRepo, logg), logg)
	requireResource(ctx, logg, "orders service", err)

	sweep, err := cron.NewPendingOrderSweepJob(cron.PendingOrderSweepJobParams{
		Logger:       logg,
		Orders:       ordersService,
		PendingTTL:   cfg.Reservation.PendingTTL,
		SessionGrace: cfg.Reservation.SessionGrace,
		BatchSize:    cfg.Reservation.SweepBatchSize,
	})
	requireResource(ctx, logg, "pending order sweep job", err)

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.RetentionDays,
		BatchSize:  cfg.Outbox.RetentionBatch,
	})
	requireResource(ctx, logg, "outbox retention job", err)

	registry, err := cron.NewRegistry(sweep, retention)
	requireResource(ctx, logg, "cron registry", err)

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), 0)
	requireResource(ctx, logg, "cron lock", err)

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Reservation.SweepInterval,
	})
	requireResource(ctx, logg, "cron service", err)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":          cfg.App.Env,
		"service_kind": cfg.Service.Kind,
		"interval":     cfg.Reservation.SweepInterval.String(),
		"pending_ttl":  cfg.Reservation.PendingTTL.String(),
	})
	logg.Info(runCtx, "starting cron worker")

	started := time.Now()
	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(logg.WithField(runCtx, "uptime", time.Since(started).String()), "cron worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron:" + env
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
