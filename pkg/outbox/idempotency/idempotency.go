package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kotilabs/housing-backend/pkg/redis"
)

// Manager tracks processed event IDs for one consumer using Redis SETNX with
// a TTL. Keys follow the `hb:idempotency:evt:processed:<scope>:<event_id>`
// pattern. The same guard fronts gateway webhooks (string ids such as
// evt_...) and Pub/Sub consumers (outbox UUIDs).
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

// NewManager builds a guard that marks events as processed for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration, scope string) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// Claim returns true if the event has already been processed and otherwise
// marks it as processed with the configured TTL.
func (m *Manager) Claim(ctx context.Context, eventID string) (bool, error) {
	key, err := m.processedKey(eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, fmt.Errorf("set idempotency key: %w", err)
	}
	return !set, nil
}

// Release forgets a claim so a redelivery of the event is processed again.
func (m *Manager) Release(ctx context.Context, eventID string) error {
	key, err := m.processedKey(eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(eventID string) (string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+m.scope, eventID), nil
}
