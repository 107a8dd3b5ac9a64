package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/ticketbooth/pkg/instance"
)

const provider = "stripe"

var errNoEventID = errors.New("stripe event id is required")

type claimStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookEventKey(provider, eventID string) string
}

// IdempotencyGuard claims Stripe event ids in Redis so a redelivery is
// acknowledged without being applied twice. The stored value names the
// instance that took the claim.
type IdempotencyGuard struct {
	store claimStore
	ttl   time.Duration
}

func NewIdempotencyGuard(store claimStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("stripe webhook guard: redis store required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("stripe webhook guard: negative ttl %s", ttl)
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

// CheckAndMark claims eventID and reports true when someone already held it.
func (g *IdempotencyGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errNoEventID
	}
	claimed, err := g.store.SetNX(ctx, g.store.WebhookEventKey(provider, eventID), instance.GetID(), g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim stripe event %s: %w", eventID, err)
	}
	return !claimed, nil
}

// Delete drops the claim after an infrastructure failure so Stripe's retry
// is processed.
func (g *IdempotencyGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errNoEventID
	}
	return g.store.Del(ctx, g.store.WebhookEventKey(provider, eventID))
}
