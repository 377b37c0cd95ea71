package cached

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/blog-accounts/internal/cache/memory"
	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/metrics"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// =============================================================================
// Mock Types
// =============================================================================

type mockAccountRepository struct {
	mock.Mock
}

func (m *mockAccountRepository) account(args mock.Arguments) (*domain.Account, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

func (m *mockAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockAccountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	return m.account(m.Called(ctx, id))
}

func (m *mockAccountRepository) GetByLogin(ctx context.Context, login string) (*domain.Account, error) {
	return m.account(m.Called(ctx, login))
}

func (m *mockAccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return m.account(m.Called(ctx, email))
}

func (m *mockAccountRepository) Update(ctx context.Context, account *domain.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockAccountRepository) UpdateProfile(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	return m.account(m.Called(ctx, account))
}

func (m *mockAccountRepository) UpdatePassword(ctx context.Context, id int64, passwordHash, by string, at time.Time) (*domain.Account, error) {
	return m.account(m.Called(ctx, id, passwordHash, by, at))
}

func (m *mockAccountRepository) Delete(ctx context.Context, login string) error {
	return m.Called(ctx, login).Error(0)
}

func (m *mockAccountRepository) DeleteUnactivated(ctx context.Context, login string) (bool, error) {
	args := m.Called(ctx, login)
	return args.Bool(0), args.Error(1)
}

func (m *mockAccountRepository) Activate(ctx context.Context, key string, at time.Time) (*domain.Account, error) {
	return m.account(m.Called(ctx, key, at))
}

func (m *mockAccountRepository) IssueResetKey(ctx context.Context, email, key string, at time.Time) (*domain.Account, error) {
	return m.account(m.Called(ctx, email, key, at))
}

func (m *mockAccountRepository) CompleteReset(ctx context.Context, key string, notBefore time.Time, passwordHash string, at time.Time) (*domain.Account, error) {
	return m.account(m.Called(ctx, key, notBefore, passwordHash, at))
}

func (m *mockAccountRepository) ListUnactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Account), args.Error(1)
}

func (m *mockAccountRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Account], error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ListResult[domain.Account]), args.Error(1)
}

// failingCache reads through to memory but refuses every overwrite.
type failingCache struct {
	*memory.Cache
}

func (c failingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return repository.ErrCacheUnavailable
}

// =============================================================================
// Tests
// =============================================================================

func newTestStore(t *testing.T) (*AccountStore, *mockAccountRepository, *memory.Cache) {
	t.Helper()

	repo := &mockAccountRepository{}
	cache := memory.NewCache(100)
	t.Cleanup(cache.Stop)

	return NewAccountStore(repo, cache, time.Hour, zerolog.Nop(), metrics.New()), repo, cache
}

func requireTombstone(t *testing.T, cache repository.Cache, login string) {
	t.Helper()
	data, err := cache.Get(context.Background(), repository.CacheKey{}.Account(login))
	require.NoError(t, err)
	require.Equal(t, tombstone, data, "entry for %s", login)
}

func activeAccount(id int64, login string) *domain.Account {
	a := domain.NewAccount(login, "$2a$10$hash", domain.SystemAccount, time.Now())
	a.ID = id
	a.Activated = true
	a.Authorities = []string{domain.RoleUser}
	return a
}

func TestAccountStore_LookupReadsThrough(t *testing.T) {
	ctx := context.Background()
	store, repo, _ := newTestStore(t)

	repo.On("GetByLogin", mock.Anything, "alice").Return(activeAccount(1, "alice"), nil).Once()

	first, ok, err := store.Lookup(ctx, "Alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "$2a$10$hash", first.PasswordHash)

	second, ok, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.PasswordHash, second.PasswordHash, "cached copy keeps the hash")
	require.Equal(t, first.Authorities, second.Authorities)

	repo.AssertExpectations(t)
}

func TestAccountStore_LookupNotFound(t *testing.T) {
	store, repo, _ := newTestStore(t)
	repo.On("GetByLogin", mock.Anything, "ghost").Return(nil, domain.ErrAccountNotFound)

	account, ok, err := store.Lookup(context.Background(), "ghost")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, account)
}

func TestAccountStore_LookupPropagatesErrors(t *testing.T) {
	store, repo, _ := newTestStore(t)
	boom := errors.New("connection refused")
	repo.On("GetByLogin", mock.Anything, "bob").Return(nil, boom)

	_, _, err := store.Lookup(context.Background(), "bob")
	require.ErrorIs(t, err, boom)
}

func TestAccountStore_ActivateEvicts(t *testing.T) {
	ctx := context.Background()
	store, repo, cache := newTestStore(t)

	pending := activeAccount(1, "carol")
	pending.Activated = false
	repo.On("GetByLogin", mock.Anything, "carol").Return(pending, nil).Once()

	_, _, err := store.Lookup(ctx, "carol")
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	now := time.Now()
	repo.On("Activate", mock.Anything, "k1", now).Return(activeAccount(1, "carol"), nil)

	activated, err := store.Activate(ctx, "k1", now)
	require.NoError(t, err)
	require.True(t, activated.Activated)
	requireTombstone(t, cache, "carol")

	repo.On("GetByLogin", mock.Anything, "carol").Return(activeAccount(1, "carol"), nil).Once()
	fresh, _, err := store.Lookup(ctx, "carol")
	require.NoError(t, err)
	require.True(t, fresh.Activated)
	repo.AssertExpectations(t)
}

func TestAccountStore_CommitDuringReadBlocksStaleFill(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name   string
		commit func(t *testing.T, store *AccountStore, repo *mockAccountRepository)
	}{
		{
			name: "activate",
			commit: func(t *testing.T, store *AccountStore, repo *mockAccountRepository) {
				repo.On("Activate", mock.Anything, "k1", now).Return(activeAccount(1, "carol"), nil).Once()
				_, err := store.Activate(ctx, "k1", now)
				require.NoError(t, err)
			},
		},
		{
			name: "issue reset key",
			commit: func(t *testing.T, store *AccountStore, repo *mockAccountRepository) {
				repo.On("IssueResetKey", mock.Anything, "carol@example.com", "r1", now).Return(activeAccount(1, "carol"), nil).Once()
				_, err := store.IssueResetKey(ctx, "carol@example.com", "r1", now)
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, repo, cache := newTestStore(t)

			stale := activeAccount(1, "carol")
			stale.Activated = false

			// The write commits after the read returned the old row and
			// before the read fills the cache.
			repo.On("GetByLogin", mock.Anything, "carol").
				Run(func(mock.Arguments) { tt.commit(t, store, repo) }).
				Return(stale, nil).Once()

			first, ok, err := store.Lookup(ctx, "carol")
			require.NoError(t, err)
			require.True(t, ok)
			require.False(t, first.Activated)
			requireTombstone(t, cache, "carol")

			repo.On("GetByLogin", mock.Anything, "carol").Return(activeAccount(1, "carol"), nil).Once()
			second, ok, err := store.Lookup(ctx, "carol")
			require.NoError(t, err)
			require.True(t, ok)
			require.True(t, second.Activated, "second lookup must not see the pre-commit row")
			repo.AssertExpectations(t)
		})
	}
}

func TestAccountStore_FillResumesAfterTombstoneExpires(t *testing.T) {
	ctx := context.Background()
	store, repo, cache := newTestStore(t)

	key := repository.CacheKey{}.Account("hank")
	require.NoError(t, cache.Set(ctx, key, tombstone, time.Nanosecond))
	time.Sleep(time.Millisecond)

	repo.On("GetByLogin", mock.Anything, "hank").Return(activeAccount(8, "hank"), nil).Once()

	_, ok, err := store.Lookup(ctx, "hank")
	require.NoError(t, err)
	require.True(t, ok)

	cached, ok, err := store.Lookup(ctx, "hank")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(8), cached.ID)
	repo.AssertExpectations(t)
}

func TestAccountStore_UndecodableEntryIsReplaced(t *testing.T) {
	ctx := context.Background()
	store, repo, cache := newTestStore(t)

	key := repository.CacheKey{}.Account("ivy")
	require.NoError(t, cache.Set(ctx, key, []byte("not json"), 0))
	repo.On("GetByLogin", mock.Anything, "ivy").Return(activeAccount(9, "ivy"), nil).Once()

	_, ok, err := store.Lookup(ctx, "ivy")
	require.NoError(t, err)
	require.True(t, ok)

	data, err := cache.Get(ctx, key)
	require.NoError(t, err)
	decoded, err := decode(data)
	require.NoError(t, err)
	require.Equal(t, "ivy", decoded.Login)
}

func TestAccountStore_SaveEvictsOldAndNewLogin(t *testing.T) {
	ctx := context.Background()
	store, repo, cache := newTestStore(t)

	require.NoError(t, cache.Set(ctx, repository.CacheKey{}.Account("dave"), []byte("{}"), 0))
	require.NoError(t, cache.Set(ctx, repository.CacheKey{}.Account("david"), []byte("{}"), 0))

	renamed := activeAccount(4, "david")
	repo.On("GetByID", mock.Anything, int64(4)).Return(activeAccount(4, "dave"), nil)
	repo.On("Update", mock.Anything, renamed).Return(nil)

	require.NoError(t, store.Save(ctx, renamed))
	requireTombstone(t, cache, "dave")
	requireTombstone(t, cache, "david")
}

func TestAccountStore_SaveProfileAndChangePasswordEvict(t *testing.T) {
	ctx := context.Background()
	store, repo, cache := newTestStore(t)
	now := time.Now()

	require.NoError(t, cache.Set(ctx, repository.CacheKey{}.Account("jo"), []byte("{}"), 0))

	profile := activeAccount(10, "jo")
	profile.FirstName = "Jo"
	repo.On("UpdateProfile", mock.Anything, profile).Return(profile, nil).Once()

	saved, err := store.SaveProfile(ctx, profile)
	require.NoError(t, err)
	require.Equal(t, "Jo", saved.FirstName)
	requireTombstone(t, cache, "jo")

	require.NoError(t, cache.Set(ctx, repository.CacheKey{}.Account("jo"), []byte("{}"), 0))
	repo.On("UpdatePassword", mock.Anything, int64(10), "$2a$10$new", "jo", now).Return(activeAccount(10, "jo"), nil).Once()

	_, err = store.ChangePassword(ctx, 10, "$2a$10$new", "jo", now)
	require.NoError(t, err)
	requireTombstone(t, cache, "jo")
	repo.AssertExpectations(t)
}

func TestAccountStore_DeleteUnactivated(t *testing.T) {
	ctx := context.Background()
	store, repo, cache := newTestStore(t)

	key := repository.CacheKey{}.Account("kim")
	require.NoError(t, cache.Set(ctx, key, []byte("{}"), 0))

	repo.On("DeleteUnactivated", mock.Anything, "kim").Return(false, nil).Once()
	deleted, err := store.DeleteUnactivated(ctx, "kim")
	require.NoError(t, err)
	require.False(t, deleted)

	data, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("{}"), data, "a skipped delete leaves the cache alone")

	repo.On("DeleteUnactivated", mock.Anything, "kim").Return(true, nil).Once()
	deleted, err = store.DeleteUnactivated(ctx, "kim")
	require.NoError(t, err)
	require.True(t, deleted)
	requireTombstone(t, cache, "kim")
	repo.AssertExpectations(t)
}

func TestAccountStore_FailedWriteKeepsCache(t *testing.T) {
	ctx := context.Background()
	store, repo, cache := newTestStore(t)

	require.NoError(t, cache.Set(ctx, repository.CacheKey{}.Account("erin"), []byte("{}"), 0))
	repo.On("Delete", mock.Anything, "erin").Return(domain.ErrAccountNotFound)

	require.ErrorIs(t, store.Delete(ctx, "erin"), domain.ErrAccountNotFound)
	require.Equal(t, 1, cache.Len())
}

func TestAccountStore_EvictionFailureIsReported(t *testing.T) {
	repo := &mockAccountRepository{}
	mem := memory.NewCache(10)
	t.Cleanup(mem.Stop)
	store := NewAccountStore(repo, failingCache{mem}, time.Hour, zerolog.Nop(), nil)

	repo.On("Delete", mock.Anything, "frank").Return(nil)

	err := store.Delete(context.Background(), "frank")
	require.ErrorIs(t, err, repository.ErrCacheUnavailable)
	repo.AssertCalled(t, "Delete", mock.Anything, "frank")
}

func TestAccountStore_FindByEmail(t *testing.T) {
	store, repo, _ := newTestStore(t)
	repo.On("GetByEmail", mock.Anything, "gus@example.com").Return(nil, domain.ErrAccountNotFound)

	_, ok, err := store.FindByEmail(context.Background(), "gus@example.com")
	require.NoError(t, err)
	require.False(t, ok)
}
