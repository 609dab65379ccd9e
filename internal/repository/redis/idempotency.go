package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

const (
	checkoutKeyPrefix = "pharmacy:checkout:idem:"
	eventKeyPrefix    = "pharmacy:event:seen:"
)

// IdempotencyStore implements repository.IdempotencyStore for checkout
// Idempotency-Key headers.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore remembers keys for ttl.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Lookup returns the sale id recorded for key, or "".
func (s *IdempotencyStore) Lookup(ctx context.Context, key string) (string, error) {
	saleID, err := s.client.Get(ctx, checkoutKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", apperrors.Wrap(err, "redis get idempotency key")
	}
	return saleID, nil
}

// Remember records the sale produced for key. The first writer wins.
func (s *IdempotencyStore) Remember(ctx context.Context, key, saleID string) error {
	if err := s.client.SetNX(ctx, checkoutKeyPrefix+key, saleID, s.ttl).Err(); err != nil {
		return apperrors.Wrap(err, "redis set idempotency key")
	}
	return nil
}

// EventStore implements kafka.IdempotencyStore so consumed events are
// deduplicated across replicas and restarts.
type EventStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEventStore remembers event ids for ttl.
func NewEventStore(client *redis.Client, ttl time.Duration) *EventStore {
	return &EventStore{client: client, ttl: ttl}
}

// Contains reports whether eventID was already processed.
func (s *EventStore) Contains(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, eventKeyPrefix+eventID).Result()
	if err != nil {
		return false, apperrors.Wrap(err, "redis exists event id")
	}
	return n > 0, nil
}

// Add marks eventID as processed.
func (s *EventStore) Add(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, eventKeyPrefix+eventID, 1, s.ttl).Err(); err != nil {
		return apperrors.Wrap(err, "redis set event id")
	}
	return nil
}
