// Package idempotency remembers which deliveries a consumer has already handled.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ticketbooth/pkg/redis"
)

// Manager claims delivery ids per scope with Redis SETNX and a TTL.
// Keys look like tb:idempotency:<scope>:<id>.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Claim marks id as seen within scope. It returns false when another delivery
// already claimed it.
func (m *Manager) Claim(ctx context.Context, scope, id string) (bool, error) {
	key, err := m.key(scope, id)
	if err != nil {
		return false, err
	}
	return m.store.SetNX(ctx, key, "1", m.ttl)
}

// Release forgets a claim so that a redelivery is processed again.
func (m *Manager) Release(ctx context.Context, scope, id string) error {
	key, err := m.key(scope, id)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// CheckAndMarkProcessed reports whether a consumer already processed an outbox
// event, marking it processed otherwise.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	claimed, err := m.Claim(ctx, processedScope(consumer), eventID.String())
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// Delete undoes CheckAndMarkProcessed.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	return m.Release(ctx, processedScope(consumer), eventID.String())
}

func processedScope(consumer string) string {
	if consumer == "" {
		return ""
	}
	return "evt:processed:" + consumer
}

func (m *Manager) key(scope, id string) (string, error) {
	if strings.TrimSpace(scope) == "" {
		return "", errors.New("scope is required")
	}
	if strings.TrimSpace(id) == "" {
		return "", errors.New("id is required")
	}
	return m.store.IdempotencyKey(scope, id), nil
}
