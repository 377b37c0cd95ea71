package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/lock"
	"github.com/prn-tf/blog-accounts/internal/metrics"
)

func testSweepConfig() SweepConfig {
	cfg := DefaultSweepConfig()
	cfg.FirstRunAt = ""
	return cfg
}

func pending(login string, created time.Time) *domain.Account {
	a := domain.NewAccount(login, "hashed:pw", domain.SystemAccount, created)
	a.ActivationKey = login + "-key"
	return a
}

func TestActivationSweeper_RemovesOnlyExpiredPendingAccounts(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMockAccountStore()
	now := clock.Now()

	store.put(pending("stale", now.Add(-4*24*time.Hour)))
	store.put(pending("fresh", now.Add(-2*24*time.Hour)))
	active := pending("active", now.Add(-10*24*time.Hour))
	active.Activated = true
	store.put(active)

	m := metrics.New()
	sweeper := NewActivationSweeper(nil, store, lock.NewNoOpLocker(), clock, m, zerolog.Nop(), testSweepConfig())

	result := sweeper.RunOnce(ctx)
	require.Equal(t, 1, result.Candidates)
	require.Equal(t, 1, result.Deleted)
	require.Zero(t, result.Errors)
	require.False(t, result.Skipped)

	require.Equal(t, []string{"stale"}, store.deleted)
	require.NotNil(t, store.get("fresh"))
	require.NotNil(t, store.get("active"))

	require.Equal(t, float64(1), testutil.ToFloat64(m.SweepRuns))
	require.Equal(t, float64(1), testutil.ToFloat64(m.SweepAccountsRemoved))
}

func TestActivationSweeper_UsesInjectedClock(t *testing.T) {
	clock := newTestClock()
	store := NewMockAccountStore()
	store.put(pending("joe", clock.Now()))

	sweeper := NewActivationSweeper(nil, store, lock.NewNoOpLocker(), clock, nil, zerolog.Nop(), testSweepConfig())

	require.Zero(t, sweeper.RunOnce(context.Background()).Deleted)

	clock.Advance(72*time.Hour + time.Second)
	require.Equal(t, 1, sweeper.RunOnce(context.Background()).Deleted)
	require.Nil(t, store.get("joe"))
}

func TestActivationSweeper_SkipsAccountsActivatedSinceListing(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMockAccountStore()
	stale := store.put(pending("joe", clock.Now().Add(-5*24*time.Hour)))

	// The candidate list is stale: joe activates before the delete.
	candidates := CandidateSourceFunc(func(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error) {
		list, err := store.ListUnactivatedBefore(ctx, cutoff, limit)
		if err != nil {
			return nil, err
		}
		_, err = store.Activate(ctx, stale.ActivationKey, clock.Now())
		return list, err
	})

	sweeper := NewActivationSweeper(candidates, store, lock.NewNoOpLocker(), clock, nil, zerolog.Nop(), testSweepConfig())
	result := sweeper.RunOnce(ctx)
	require.Equal(t, 1, result.Candidates)
	require.Zero(t, result.Deleted)
	require.True(t, store.get("joe").Activated)
}

// activatingStore activates the account just before the sweeper's delete
// reaches the store.
type activatingStore struct {
	*MockAccountStore
	at time.Time
}

func (s *activatingStore) DeleteUnactivated(ctx context.Context, login string) (bool, error) {
	if a := s.get(login); a != nil && !a.Activated {
		if _, err := s.Activate(ctx, a.ActivationKey, s.at); err != nil {
			return false, err
		}
	}
	return s.MockAccountStore.DeleteUnactivated(ctx, login)
}

func TestActivationSweeper_ActivationBeforeDeleteWins(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	inner := NewMockAccountStore()
	inner.put(pending("joe", clock.Now().Add(-5*24*time.Hour)))
	inner.put(pending("ann", clock.Now().Add(-6*24*time.Hour)))

	store := &activatingStore{MockAccountStore: inner, at: clock.Now()}
	sweeper := NewActivationSweeper(nil, store, lock.NewNoOpLocker(), clock, nil, zerolog.Nop(), testSweepConfig())

	result := sweeper.RunOnce(ctx)
	require.Equal(t, 2, result.Candidates)
	require.Zero(t, result.Deleted)
	require.Zero(t, result.Errors)
	require.Empty(t, inner.deleted)
	require.True(t, inner.get("joe").Activated)
	require.True(t, inner.get("ann").Activated)
}

func TestActivationSweeper_CandidateErrors(t *testing.T) {
	clock := newTestClock()
	store := NewMockAccountStore()

	failing := CandidateSourceFunc(func(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error) {
		return nil, errors.New("connection refused")
	})
	sweeper := NewActivationSweeper(failing, store, lock.NewNoOpLocker(), clock, nil, zerolog.Nop(), testSweepConfig())
	require.Equal(t, 1, sweeper.RunOnce(context.Background()).Errors)

	store.put(pending("joe", clock.Now().Add(-5*24*time.Hour)))
	store.deleteErr = errors.New("locked")
	sweeper = NewActivationSweeper(nil, store, lock.NewNoOpLocker(), clock, nil, zerolog.Nop(), testSweepConfig())
	result := sweeper.RunOnce(context.Background())
	require.Equal(t, 1, result.Errors)
	require.Zero(t, result.Deleted)
}

func TestActivationSweeper_RespectsBatchSize(t *testing.T) {
	clock := newTestClock()
	store := NewMockAccountStore()
	for i, login := range []string{"a1", "a2", "a3"} {
		store.put(pending(login, clock.Now().Add(-time.Duration(10-i)*24*time.Hour)))
	}

	cfg := testSweepConfig()
	cfg.BatchSize = 2
	sweeper := NewActivationSweeper(nil, store, lock.NewNoOpLocker(), clock, nil, zerolog.Nop(), cfg)

	require.Equal(t, 2, sweeper.RunOnce(context.Background()).Deleted)
	require.Equal(t, []string{"a1", "a2"}, store.deleted)
	require.Equal(t, 1, sweeper.RunOnce(context.Background()).Deleted)
}

func TestActivationSweeper_SkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	store := NewMockAccountStore()
	store.put(pending("joe", clock.Now().Add(-5*24*time.Hour)))

	locker := lock.NewMemoryLocker()
	defer locker.Stop()

	acquired, err := locker.Acquire(ctx, lock.Keys.AccountSweep(), time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	sweeper := NewActivationSweeper(nil, store, locker, clock, nil, zerolog.Nop(), testSweepConfig())
	result := sweeper.RunOnce(ctx)
	require.True(t, result.Skipped)
	require.Zero(t, result.Deleted)

	_, err = locker.Release(ctx, lock.Keys.AccountSweep())
	require.NoError(t, err)
	require.Equal(t, 1, sweeper.RunOnce(ctx).Deleted)
}

func TestActivationSweeper_StartStop(t *testing.T) {
	clock := newTestClock()
	store := NewMockAccountStore()
	store.put(pending("joe", clock.Now().Add(-5*24*time.Hour)))

	sweeper := NewActivationSweeper(nil, store, lock.NewNoOpLocker(), clock, nil, zerolog.Nop(), testSweepConfig())
	sweeper.Start()
	sweeper.Start()

	require.Eventually(t, func() bool { return store.get("joe") == nil }, time.Second, 10*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
}

func TestFirstRunDelay(t *testing.T) {
	loc := time.Local
	now := time.Date(2024, 6, 12, 0, 30, 0, 0, loc)

	require.Equal(t, 30*time.Minute, firstRunDelay(now, "01:00"))
	require.Equal(t, 23*time.Hour+30*time.Minute, firstRunDelay(now, "00:00"))
	require.Equal(t, 24*time.Hour, firstRunDelay(now, "00:30"))
	require.Zero(t, firstRunDelay(now, ""))
	require.Zero(t, firstRunDelay(now, "not a time"))
}
