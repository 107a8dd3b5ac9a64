package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

const (
	defaultRetentionDays = 30
	retentionBatch       = 500
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxRetentionRepo
	// Retention is in days.
	Retention int
	BatchSize int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// NewOutboxRetentionJob prunes published outbox rows past the retention
// window. Unpublished and dead-lettered rows are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	return &outboxRetentionJob{
		logg:   params.Logger,
		repo:   params.Repository,
		window: time.Duration(orDefault(params.Retention, defaultRetentionDays)) * 24 * time.Hour,
		batch:  orDefault(params.BatchSize, retentionBatch),
		now:    time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg   *logger.Logger
	repo   outboxRetentionRepo
	window time.Duration
	batch  int
	now    func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes in batches so no single statement holds locks on a large
// slice of the table.
func (j *outboxRetentionJob) Run(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.window)
	var total int64
	for {
		n, err := j.repo.DeletePublishedBefore(ctx, cutoff, j.batch)
		total += n
		if err != nil {
			return int(total), fmt.Errorf("outbox retention: %w", err)
		}
		if n < int64(j.batch) || ctx.Err() != nil {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
	}), "cron.outbox_pruned")
	return int(total), nil
}
