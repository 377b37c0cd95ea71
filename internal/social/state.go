package social

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/blog-accounts/internal/repository"
)

// ErrInvalidState indicates an unknown, expired or already used state token.
var ErrInvalidState = errors.New("oauth: invalid or expired state")

// StateStore issues one-time sign-in state tokens bound to a provider.
type StateStore struct {
	cache repository.Cache
	ttl   time.Duration
	keys  repository.CacheKey
}

// NewStateStore creates a StateStore. A non-positive ttl defaults to 10 minutes.
func NewStateStore(cache repository.Cache, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateStore{cache: cache, ttl: ttl}
}

// Issue stores a new state for providerID and returns it.
func (s *StateStore) Issue(ctx context.Context, providerID string) (string, error) {
	state := uuid.NewString()
	ok, err := s.cache.SetNX(ctx, s.keys.SocialState(state), []byte(providerID), s.ttl)
	if err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("failed to store oauth state: duplicate state %s", state)
	}
	return state, nil
}

// Consume removes state and checks it was issued for providerID.
func (s *StateStore) Consume(ctx context.Context, state, providerID string) error {
	if state == "" {
		return ErrInvalidState
	}

	value, err := s.cache.Take(ctx, s.keys.SocialState(state))
	if err != nil {
		if errors.Is(err, repository.ErrCacheMiss) {
			return ErrInvalidState
		}
		return fmt.Errorf("failed to read oauth state: %w", err)
	}
	if string(value) != providerID {
		return ErrInvalidState
	}
	return nil
}
