package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/ticketbooth/internal/orders"
	"github.com/angelmondragon/ticketbooth/pkg/logger"
)

const (
	defaultPendingTTL = 30 * time.Minute
	defaultSweepBatch = 100
)

type pendingExpirer interface {
	PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	Expire(ctx context.Context, orderID uuid.UUID) (*orders.TransitionResult, error)
}

type PendingOrderSweepJobParams struct {
	Logger     *logger.Logger
	Orders     pendingExpirer
	PendingTTL time.Duration
	// SessionGrace is the extra age, past PendingTTL, the payment session is
	// given to close before the order is expired.
	SessionGrace time.Duration
	BatchSize    int
}

// NewPendingOrderSweepJob expires reservations left unpaid past the pending TTL
// plus the session grace, returning their seats through the same compensation
// path as a cancel.
func NewPendingOrderSweepJob(params PendingOrderSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &pendingOrderSweepJob{
		logg:   params.Logger,
		orders: params.Orders,
		maxAge: ttl + max(params.SessionGrace, 0),
		batch:  batch,
		now:    time.Now,
	}, nil
}

type pendingOrderSweepJob struct {
	logg   *logger.Logger
	orders pendingExpirer
	maxAge time.Duration
	batch  int
	now    func() time.Time
}

func (j *pendingOrderSweepJob) Name() string { return "pending-order-sweep" }

// Run expires one batch. Each order settles in its own transaction, so one
// failure does not hold back the rest.
func (j *pendingOrderSweepJob) Run(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.maxAge)
	ids, err := j.orders.PendingBefore(ctx, cutoff, j.batch)
	if err != nil {
		return 0, fmt.Errorf("query stale pending orders: %w", err)
	}

	var (
		errs     error
		expired  int
		released int
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		result, err := j.orders.Expire(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", id, err))
			continue
		}
		if result.Applied {
			expired++
			released += result.ReleasedSeats
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"candidates":     len(ids),
		"expired":        expired,
		"released_seats": released,
		"failures":       len(multierr.Errors(errs)),
	}), "pending order sweep complete")
	return expired, errs
}
