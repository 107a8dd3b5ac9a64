package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/ticketbooth/pkg/config"
	"github.com/angelmondragon/ticketbooth/pkg/db/models"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/metrics"
	"github.com/angelmondragon/ticketbooth/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPoll           = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           config.OutboxConfig
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	DLQRepository    dlqRepository
	Registry         registryResolver
	Metrics          *metrics.OutboxMetrics
	PublisherFactory publisherFactory
}

func (p ServiceParams) validate() error {
	var errs error
	for name, missing := range map[string]bool{
		"logger":          p.Logger == nil,
		"database client": p.DB == nil,
		"pubsub client":   p.PubSub == nil,
		"outbox repo":     p.Repository == nil,
		"dlq repo":        p.DLQRepository == nil,
		"event registry":  p.Registry == nil,
	} {
		if missing {
			errs = multierr.Append(errs, fmt.Errorf("%s is required", name))
		}
	}
	return errs
}

// Service relays committed outbox rows to Pub/Sub. Rows are claimed with
// SKIP LOCKED so several publishers can drain the table side by side.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	dlq              dlqRepository
	pubsub           pubSubClient
	registry         registryResolver
	metrics          *metrics.OutboxMetrics
	publisherFactory publisherFactory
	stopPublishers   func()
	batchSize        int
	maxAttempts      int
	poll             time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	cfg := params.Config
	svc := &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		dlq:              params.DLQRepository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		metrics:          params.Metrics,
		publisherFactory: params.PublisherFactory,
		batchSize:        defaultBatchSize,
		maxAttempts:      defaultMaxAttempts,
		poll:             defaultPoll,
	}
	if cfg.BatchSize > 0 {
		svc.batchSize = cfg.BatchSize
	}
	if cfg.MaxAttempts > 0 {
		svc.maxAttempts = cfg.MaxAttempts
	}
	if cfg.PollIntervalMS > 0 {
		svc.poll = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	}
	if svc.publisherFactory == nil {
		pubs := newGCPPublishers(params.PubSub.Publisher)
		svc.publisherFactory = pubs.forTopic
		svc.stopPublishers = pubs.stop
	}
	return svc, nil
}

// Close flushes and stops the topic publishers opened by Run.
func (s *Service) Close() {
	if s.stopPublishers != nil {
		s.stopPublishers()
	}
}

func (s *Service) ready(ctx context.Context) error {
	var errs error
	if err := s.db.Ping(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("database ping failed: %w", err))
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("pubsub ping failed: %w", err))
	}
	return errs
}

// Run drains the outbox until ctx is cancelled. A full batch is followed
// immediately by the next one; an empty batch waits one poll interval and a
// failed one backs off.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		s.logg.Error(ctx, "outbox.not_ready", err)
		return err
	}

	pace := newPacer(s.poll, maxIdleBackoff)
	for {
		processed, err := s.processBatch(ctx)
		switch {
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			s.logg.Info(ctx, "outbox.stopped")
			return ctx.Err()
		case err != nil:
			s.logg.Error(ctx, "outbox.batch_failed", err)
			err = pace.failure(ctx)
		case processed:
			pace.reset()
			continue
		default:
			pace.reset()
			err = pace.idle(ctx)
		}
		if err != nil {
			return err
		}
	}
}

type batchStats map[outcome]int

// processBatch relays one claimed batch. A failed publish only changes that
// row's bookkeeping; a bookkeeping failure rolls the whole batch back.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	stats := batchStats{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		for _, event := range events {
			result, err := s.relay(ctx, tx, event)
			if err != nil {
				return err
			}
			stats[result]++
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	total := stats[outcomePublished] + stats[outcomeRetried] + stats[outcomeDeadLettered]
	if total > 0 {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"published":     stats[outcomePublished],
			"retried":       stats[outcomeRetried],
			"dead_lettered": stats[outcomeDeadLettered],
		}), "outbox.batch_done")
	}
	return total > 0, nil
}
