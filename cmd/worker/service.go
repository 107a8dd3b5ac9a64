package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type ServiceParams struct {
	Logger               *logger.Logger
	DB                   pinger
	Redis                pinger
	PubSub               pinger
	IssuanceConsumer     namedRunner
	NotificationConsumer namedRunner
}

// Service runs the ticket issuance and notification consumers side by side.
type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	consumers map[string]runner
}

type runner interface {
	Run(ctx context.Context) error
}

type namedRunner interface {
	runner
	Name() string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.IssuanceConsumer == nil {
		return nil, errors.New("issuance consumer is required")
	}
	if params.NotificationConsumer == nil {
		return nil, errors.New("notification consumer is required")
	}

	return &Service{
		logg: params.Logger,
		deps: map[string]pinger{
			"database": params.DB,
			"redis":    params.Redis,
			"pubsub":   params.PubSub,
		},
		consumers: map[string]runner{
			params.IssuanceConsumer.Name():     params.IssuanceConsumer,
			params.NotificationConsumer.Name(): params.NotificationConsumer,
		},
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until ctx is cancelled or a consumer stops. Either way every
// consumer is drained before it returns, and their failures are combined.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(s.consumers))
	for name, c := range s.consumers {
		go func(name string, c runner) {
			err := c.Run(runCtx)
			if err != nil && !isShutdown(err) {
				err = fmt.Errorf("%s consumer: %w", name, err)
				s.logg.Error(runCtx, "consumer stopped unexpectedly", err)
			}
			errCh <- err
		}(name, c)
	}

	var errs error
	for range s.consumers {
		err := <-errCh
		cancel()
		if err != nil && !isShutdown(err) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return errs
	}
	if err := ctx.Err(); err != nil {
		s.logg.Info(ctx, "worker context canceled")
		return err
	}
	return nil
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
