// Package cached provides the account store that fronts the account
// repository with a login-keyed read-through cache.
package cached

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/metrics"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// A committed write replaces the cached entry of each login it touched with
// a tombstone. Lookups read past a tombstone without refilling, and fills
// use SetNX, so a read that started before the commit cannot cache the
// pre-commit row. Reads that outlast tombstoneTTL are not covered.
const tombstoneTTL = 30 * time.Second

var tombstone = []byte("\x00evicted")

// AccountStore implements repository.AccountStore.
// Mutations go through commit, which persists first and then evicts every
// login the change touched.
type AccountStore struct {
	repo    repository.AccountRepository
	cache   repository.Cache
	ttl     time.Duration
	keys    repository.CacheKey
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewAccountStore creates a new AccountStore.
func NewAccountStore(
	repo repository.AccountRepository,
	cache repository.Cache,
	ttl time.Duration,
	logger zerolog.Logger,
	m *metrics.Metrics,
) *AccountStore {
	return &AccountStore{
		repo:    repo,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.With().Str("component", "account_store").Logger(),
		metrics: m,
	}
}

// record is the cached form of an account. Credential fields are hidden
// from the API encoding of domain.Account and are carried here explicitly.
type record struct {
	Account       domain.Account `json:"account"`
	PasswordHash  string         `json:"passwordHash"`
	ActivationKey string         `json:"activationKey,omitempty"`
	ResetKey      string         `json:"resetKey,omitempty"`
	ResetDate     *time.Time     `json:"resetDate,omitempty"`
}

func encode(a *domain.Account) ([]byte, error) {
	return json.Marshal(record{
		Account:       *a,
		PasswordHash:  a.PasswordHash,
		ActivationKey: a.ActivationKey,
		ResetKey:      a.ResetKey,
		ResetDate:     a.ResetDate,
	})
}

func decode(data []byte) (*domain.Account, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	a := r.Account
	a.PasswordHash = r.PasswordHash
	a.ActivationKey = r.ActivationKey
	a.ResetKey = r.ResetKey
	a.ResetDate = r.ResetDate
	return &a, nil
}

func (s *AccountStore) recordLookup(result string) {
	if s.metrics != nil {
		s.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

// Lookup returns the account for login, served from cache when possible.
// Cache failures degrade to a database read.
func (s *AccountStore) Lookup(ctx context.Context, login string) (*domain.Account, bool, error) {
	login = domain.NormalizeLogin(login)
	key := s.keys.Account(login)

	fill := true
	data, err := s.cache.Get(ctx, key)
	switch {
	case err == nil && bytes.Equal(data, tombstone):
		fill = false
		s.recordLookup("miss")
	case err == nil:
		account, decodeErr := decode(data)
		if decodeErr == nil {
			s.recordLookup("hit")
			return account, true, nil
		}
		s.logger.Warn().Err(decodeErr).Str("login", login).Msg("discarding undecodable cache entry")
		s.recordLookup("error")
		if err := s.cache.Delete(ctx, key); err != nil {
			fill = false
		}
	case errors.Is(err, repository.ErrCacheMiss):
		s.recordLookup("miss")
	default:
		s.logger.Warn().Err(err).Str("login", login).Msg("account cache read failed")
		s.recordLookup("error")
	}

	account, err := s.repo.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if !fill {
		return account, true, nil
	}
	if data, err := encode(account); err == nil {
		if _, err := s.cache.SetNX(ctx, key, data, s.ttl); err != nil {
			s.logger.Warn().Err(err).Str("login", login).Msg("account cache write failed")
		}
	}

	return account, true, nil
}

// FindByID returns the account with the given id.
func (s *AccountStore) FindByID(ctx context.Context, id int64) (*domain.Account, bool, error) {
	return found(s.repo.GetByID(ctx, id))
}

// FindByEmail returns the account holding the email address.
func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*domain.Account, bool, error) {
	return found(s.repo.GetByEmail(ctx, email))
}

func found(account *domain.Account, err error) (*domain.Account, bool, error) {
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return account, true, nil
}

// List returns accounts with pagination.
func (s *AccountStore) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Account], error) {
	return s.repo.List(ctx, opts)
}

// ListUnactivatedBefore returns sweep candidates.
func (s *AccountStore) ListUnactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error) {
	return s.repo.ListUnactivatedBefore(ctx, cutoff, limit)
}

// commit runs a persistence write and then evicts the logins it touched.
// The write is final once it returns; an eviction failure is still reported
// so callers do not assume the cache is coherent.
func (s *AccountStore) commit(ctx context.Context, write func() ([]string, error)) error {
	logins, err := write()
	if err != nil {
		return err
	}
	return s.evict(ctx, logins...)
}

func (s *AccountStore) evict(ctx context.Context, logins ...string) error {
	seen := make(map[string]bool, len(logins))
	var failed []string
	var lastErr error
	for _, login := range logins {
		login = domain.NormalizeLogin(login)
		if login == "" || seen[login] {
			continue
		}
		seen[login] = true

		key := s.keys.Account(login)
		if err := s.cache.Set(ctx, key, tombstone, tombstoneTTL); err != nil {
			failed = append(failed, key)
			lastErr = err
			continue
		}
		if s.metrics != nil {
			s.metrics.CacheEvictions.Inc()
		}
	}

	if lastErr != nil {
		s.logger.Error().Err(lastErr).Strs("keys", failed).Msg("account cache eviction failed")
		return fmt.Errorf("evict account cache: %w", lastErr)
	}
	return nil
}

// Create inserts a new account.
func (s *AccountStore) Create(ctx context.Context, account *domain.Account) error {
	return s.commit(ctx, func() ([]string, error) {
		if err := s.repo.Create(ctx, account); err != nil {
			return nil, err
		}
		return []string{account.Login}, nil
	})
}

// Save writes an existing account. A changed login evicts both logins.
func (s *AccountStore) Save(ctx context.Context, account *domain.Account) error {
	return s.commit(ctx, func() ([]string, error) {
		previous, err := s.repo.GetByID(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, account); err != nil {
			return nil, err
		}
		return []string{previous.Login, account.Login}, nil
	})
}

// SaveProfile writes the self-service profile fields of an account.
func (s *AccountStore) SaveProfile(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	return s.mutate(ctx, func() (*domain.Account, error) {
		return s.repo.UpdateProfile(ctx, account)
	})
}

// ChangePassword replaces the password hash of the account with id.
func (s *AccountStore) ChangePassword(ctx context.Context, id int64, passwordHash, by string, at time.Time) (*domain.Account, error) {
	return s.mutate(ctx, func() (*domain.Account, error) {
		return s.repo.UpdatePassword(ctx, id, passwordHash, by, at)
	})
}

// Delete removes the account and its social connections.
func (s *AccountStore) Delete(ctx context.Context, login string) error {
	return s.commit(ctx, func() ([]string, error) {
		if err := s.repo.Delete(ctx, login); err != nil {
			return nil, err
		}
		return []string{login}, nil
	})
}

// DeleteUnactivated removes a pending account. Nothing is evicted when
// the guard leaves the row in place.
func (s *AccountStore) DeleteUnactivated(ctx context.Context, login string) (bool, error) {
	deleted := false
	err := s.commit(ctx, func() ([]string, error) {
		ok, err := s.repo.DeleteUnactivated(ctx, login)
		if err != nil || !ok {
			return nil, err
		}
		deleted = true
		return []string{login}, nil
	})
	return deleted, err
}

// mutate commits a repository call that returns the changed account.
func (s *AccountStore) mutate(ctx context.Context, fn func() (*domain.Account, error)) (*domain.Account, error) {
	var account *domain.Account
	err := s.commit(ctx, func() ([]string, error) {
		a, err := fn()
		if err != nil {
			return nil, err
		}
		account = a
		return []string{a.Login}, nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Activate consumes an activation key.
func (s *AccountStore) Activate(ctx context.Context, key string, at time.Time) (*domain.Account, error) {
	return s.mutate(ctx, func() (*domain.Account, error) {
		return s.repo.Activate(ctx, key, at)
	})
}

// IssueResetKey starts a password reset for an activated account.
func (s *AccountStore) IssueResetKey(ctx context.Context, email, key string, at time.Time) (*domain.Account, error) {
	return s.mutate(ctx, func() (*domain.Account, error) {
		return s.repo.IssueResetKey(ctx, email, key, at)
	})
}

// CompleteReset finishes a password reset issued at or after notBefore.
func (s *AccountStore) CompleteReset(ctx context.Context, key string, notBefore time.Time, passwordHash string, at time.Time) (*domain.Account, error) {
	return s.mutate(ctx, func() (*domain.Account, error) {
		return s.repo.CompleteReset(ctx, key, notBefore, passwordHash, at)
	})
}

// Ensure AccountStore implements repository.AccountStore.
var _ repository.AccountStore = (*AccountStore)(nil)
