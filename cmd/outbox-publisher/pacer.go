package main

import (
	"context"
	"math/rand/v2"
	"time"
)

// pacer spaces out polls. Consecutive failures double the wait up to limit;
// every wait carries up to a quarter of itself as jitter.
type pacer struct {
	base    time.Duration
	limit   time.Duration
	current time.Duration
}

func newPacer(base, limit time.Duration) *pacer {
	return &pacer{base: base, limit: limit, current: base}
}

func (p *pacer) reset() { p.current = p.base }

func (p *pacer) idle(ctx context.Context) error { return wait(ctx, jitter(p.base)) }

func (p *pacer) failure(ctx context.Context) error {
	p.current = min(p.current*2, p.limit)
	return wait(ctx, jitter(p.current))
}

func jitter(d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	return d + rand.N(d/4)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
