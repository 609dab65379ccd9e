// Package redis keeps short-lived checkout state in Redis: cart sessions,
// checkout idempotency keys and consumed event ids.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

const (
	cartKeyPrefix     = "pharmacy:cart:"
	cartVersionSuffix = ":version"
)

// saveSessionScript writes the session and its version key only while the
// stored version still matches ARGV[1]. A missing version key means the
// session is new or has expired.
var saveSessionScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current and tonumber(current) ~= tonumber(ARGV[1]) then
	return 0
end

redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[4])
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
return 1
`)

// CartSessionStore implements repository.CartSessionStore using Redis.
type CartSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartSessionStore creates a Redis-backed session store. Each save
// refreshes the TTL.
func NewCartSessionStore(client *redis.Client, ttl time.Duration) *CartSessionStore {
	return &CartSessionStore{client: client, ttl: ttl}
}

// Get retrieves a session by cart id.
func (s *CartSessionStore) Get(ctx context.Context, cartID string) (*domain.CartSession, error) {
	data, err := s.client.Get(ctx, cartKeyPrefix+cartID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("cart", cartID)
		}
		return nil, apperrors.Wrap(err, "redis get cart session")
	}

	var session domain.CartSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, apperrors.Wrap(err, "unmarshal cart session")
	}
	return &session, nil
}

// Save persists a session with the configured TTL if no other writer has
// saved it since it was read.
func (s *CartSessionStore) Save(ctx context.Context, session *domain.CartSession) error {
	next := *session
	next.Version++
	data, err := json.Marshal(next)
	if err != nil {
		return apperrors.Wrap(err, "marshal cart session")
	}

	key := cartKeyPrefix + session.CartID
	ok, err := saveSessionScript.Run(ctx, s.client, []string{key, key + cartVersionSuffix},
		session.Version, data, next.Version, s.ttl.Milliseconds()).Int()
	if err != nil {
		return apperrors.Wrap(err, "redis set cart session")
	}
	if ok != 1 {
		return apperrors.Conflict(fmt.Sprintf("cart %s was modified concurrently, retry", session.CartID))
	}
	session.Version = next.Version
	return nil
}
