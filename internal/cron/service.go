package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/ticketbooth/pkg/logger"
	"github.com/angelmondragon/ticketbooth/pkg/metrics"
)

const (
	defaultInterval   = 5 * time.Minute
	defaultJobTimeout = 2 * time.Minute
	releaseTimeout    = 5 * time.Second
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job run; zero uses the default.
	JobTimeout time.Duration
}

// Service runs every registered job once per interval while holding the
// cluster-wide lock. Cycles on other instances are skipped, not queued.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

type cycleResult struct {
	skipped bool
	ran     int
	failed  int
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("cron: logger required")
	case params.Lock == nil:
		return nil, errors.New("cron: lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry, _ = NewRegistry()
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   orDefault(params.Interval, defaultInterval),
		jobTimeout: orDefault(params.JobTimeout, defaultJobTimeout),
	}, nil
}

func orDefault[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		res, err := s.runCycle(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "cron.cycle_failed", err)
		case !res.skipped:
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{"jobs": res.ran, "failed": res.failed}), "cron.cycle_done")
		}

		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) (cycleResult, error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return cycleResult{}, fmt.Errorf("acquire cron lock: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "cron lock held elsewhere; skipping cycle")
		return cycleResult{skipped: true}, nil
	}
	defer s.release(ctx)

	var res cycleResult
	for _, job := range s.registry.Jobs() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.ran++
		if !s.runJob(ctx, job) {
			res.failed++
		}
	}
	return res, nil
}

// release runs on a detached context so a shutdown does not strand the lock
// until its TTL.
func (s *Service) release(ctx context.Context) {
	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.lock.Release(relCtx); err != nil {
		s.logg.Error(ctx, "cron lock release failed", err)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) bool {
	name := job.Name()
	jobCtx, cancel := context.WithTimeout(s.logg.WithField(ctx, "job", name), s.jobTimeout)
	defer cancel()

	started := time.Now()
	rows, err := job.Run(jobCtx)
	elapsed := time.Since(started)

	if s.metrics != nil {
		s.metrics.ObserveDuration(name, elapsed)
		s.metrics.AddRows(name, rows)
		if err != nil {
			s.metrics.IncFailure(name)
		} else {
			s.metrics.IncSuccess(name)
		}
	}

	logCtx := s.logg.WithFields(jobCtx, map[string]any{"duration_ms": elapsed.Milliseconds(), "rows": rows})
	if err != nil {
		s.logg.Error(logCtx, "cron.job_failed", err)
		return false
	}
	s.logg.Info(logCtx, "cron.job_done")
	return true
}
