package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sumudu01/NayanaPharma/internal/domain"
	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

type sessionEntry struct {
	session   domain.CartSession
	expiresAt time.Time
}

// CartSessionStore implements repository.CartSessionStore with a TTL.
type CartSessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]sessionEntry
	now      func() time.Time
}

// NewCartSessionStore creates a store whose sessions live for ttl after the
// last save.
func NewCartSessionStore(ttl time.Duration) *CartSessionStore {
	return &CartSessionStore{ttl: ttl, sessions: make(map[string]sessionEntry), now: time.Now}
}

func (s *CartSessionStore) Get(_ context.Context, cartID string) (*domain.CartSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[cartID]
	if !ok || !s.now().Before(e.expiresAt) {
		delete(s.sessions, cartID)
		return nil, apperrors.NotFound("cart", cartID)
	}
	session := e.session
	return &session, nil
}

func (s *CartSessionStore) Save(_ context.Context, session *domain.CartSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[session.CartID]; ok && s.now().Before(e.expiresAt) && e.session.Version != session.Version {
		return staleSession(session.CartID)
	}
	session.Version++
	s.sessions[session.CartID] = sessionEntry{session: *session, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func staleSession(cartID string) error {
	return apperrors.Conflict(fmt.Sprintf("cart %s was modified concurrently, retry", cartID))
}

type keyEntry struct {
	saleID    string
	expiresAt time.Time
}

// IdempotencyStore implements repository.IdempotencyStore with a TTL.
type IdempotencyStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]keyEntry
	now  func() time.Time
}

// NewIdempotencyStore creates a store that remembers keys for ttl.
func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{ttl: ttl, keys: make(map[string]keyEntry), now: time.Now}
}

func (s *IdempotencyStore) Lookup(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.keys[key]
	if !ok {
		return "", nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.keys, key)
		return "", nil
	}
	return e.saleID, nil
}

func (s *IdempotencyStore) Remember(_ context.Context, key, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = keyEntry{saleID: saleID, expiresAt: s.now().Add(s.ttl)}
	return nil
}
