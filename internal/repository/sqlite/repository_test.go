package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	ctx := context.Background()
	db, err := NewDB(ctx, DefaultConfig(filepath.Join(t.TempDir(), "blog.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestAccount(login, email string) *domain.Account {
	a := domain.NewAccount(login, "$2a$10$hash", domain.SystemAccount, testNow)
	a.Email = email
	a.Authorities = []string{domain.RoleUser}
	return a
}

func TestAccountRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	a := newTestAccount("alice", "alice@example.com")
	a.ActivationKey = "12345678901234567890"
	require.NoError(t, repo.Create(ctx, a))
	require.NotZero(t, a.ID)

	got, err := repo.GetByLogin(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, "alice@example.com", got.Email)
	require.Equal(t, []string{domain.RoleUser}, got.Authorities)
	require.False(t, got.Activated)
	require.Equal(t, testNow, got.CreatedDate)

	got, err = repo.GetByEmail(ctx, "Alice@Example.COM")
	require.NoError(t, err)
	require.Equal(t, "alice", got.Login)

	_, err = repo.GetByLogin(ctx, "nobody")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountRepository_CreateConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, newTestAccount("bob", "bob@example.com")))

	err := repo.Create(ctx, newTestAccount("bob", "other@example.com"))
	require.ErrorIs(t, err, domain.ErrLoginAlreadyUsed)

	err = repo.Create(ctx, newTestAccount("robert", "BOB@example.com"))
	require.ErrorIs(t, err, domain.ErrEmailAlreadyUsed)

	// Accounts without email never collide on it.
	require.NoError(t, repo.Create(ctx, newTestAccount("carol", "")))
	require.NoError(t, repo.Create(ctx, newTestAccount("dave", "")))
}

func TestAccountRepository_UnknownAuthorityRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	a := newTestAccount("eve", "eve@example.com")
	a.Authorities = []string{"ROLE_ROOT"}
	err := repo.Create(ctx, a)
	require.ErrorIs(t, err, domain.ErrUnknownAuthority)

	_, err = repo.GetByLogin(ctx, "eve")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountRepository_UpdateRenamesConnections(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepository(db)
	social := NewSocialConnectionRepository(db)

	a := newTestAccount("frank", "frank@example.com")
	require.NoError(t, accounts.Create(ctx, a))
	require.NoError(t, social.Add(ctx, &domain.SocialConnection{Login: "frank", ProviderID: "google", ProviderUserID: "g-1"}))

	a.Login = "franklin"
	a.Authorities = []string{domain.RoleAdmin, domain.RoleUser}
	require.NoError(t, accounts.Update(ctx, a))

	got, err := accounts.GetByLogin(ctx, "franklin")
	require.NoError(t, err)
	require.Equal(t, []string{domain.RoleAdmin, domain.RoleUser}, got.Authorities)

	conns, err := social.FindByLogin(ctx, "franklin")
	require.NoError(t, err)
	require.Len(t, conns, 1)

	conns, err = social.FindByLogin(ctx, "frank")
	require.NoError(t, err)
	require.Empty(t, conns)
}

func TestAccountRepository_DeleteRemovesConnections(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepository(db)
	social := NewSocialConnectionRepository(db)

	require.NoError(t, accounts.Create(ctx, newTestAccount("gina", "gina@example.com")))
	require.NoError(t, social.Add(ctx, &domain.SocialConnection{Login: "gina", ProviderID: "google", ProviderUserID: "g-2"}))

	require.NoError(t, accounts.Delete(ctx, "gina"))

	conns, err := social.FindByLogin(ctx, "gina")
	require.NoError(t, err)
	require.Empty(t, conns)

	require.ErrorIs(t, accounts.Delete(ctx, "gina"), domain.ErrAccountNotFound)
}

func TestAccountRepository_DeleteUnactivated(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := NewAccountRepository(db)
	social := NewSocialConnectionRepository(db)

	pending := newTestAccount("gus", "gus@example.com")
	pending.ActivationKey = "44444444444444444444"
	require.NoError(t, accounts.Create(ctx, pending))
	require.NoError(t, social.Add(ctx, &domain.SocialConnection{Login: "gus", ProviderID: "google", ProviderUserID: "g-3"}))

	// Activation lands after the sweep listed gus as a candidate.
	_, err := accounts.Activate(ctx, "44444444444444444444", testNow)
	require.NoError(t, err)

	deleted, err := accounts.DeleteUnactivated(ctx, "gus")
	require.NoError(t, err)
	require.False(t, deleted)

	got, err := accounts.GetByLogin(ctx, "gus")
	require.NoError(t, err)
	require.True(t, got.Activated)
	conns, err := social.FindByLogin(ctx, "gus")
	require.NoError(t, err)
	require.Len(t, conns, 1, "connections of a surviving account stay")

	stale := newTestAccount("hal", "hal@example.com")
	require.NoError(t, accounts.Create(ctx, stale))
	require.NoError(t, social.Add(ctx, &domain.SocialConnection{Login: "hal", ProviderID: "google", ProviderUserID: "g-4"}))

	deleted, err = accounts.DeleteUnactivated(ctx, "HAL")
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = accounts.GetByLogin(ctx, "hal")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
	conns, err = social.FindByLogin(ctx, "hal")
	require.NoError(t, err)
	require.Empty(t, conns)

	deleted, err = accounts.DeleteUnactivated(ctx, "hal")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestAccountRepository_NarrowUpdatesKeepResetKey(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	a := newTestAccount("kate", "kate@example.com")
	a.Activated = true
	require.NoError(t, repo.Create(ctx, a))

	// Both writers hold a copy read before the reset was issued.
	snapshot, err := repo.GetByLogin(ctx, "kate")
	require.NoError(t, err)
	_, err = repo.IssueResetKey(ctx, "kate@example.com", "55555555555555555555", testNow)
	require.NoError(t, err)

	snapshot.FirstName = "Katherine"
	snapshot.Touch("kate", testNow.Add(time.Minute))
	updated, err := repo.UpdateProfile(ctx, snapshot)
	require.NoError(t, err)
	require.Equal(t, "Katherine", updated.FirstName)
	require.Equal(t, "55555555555555555555", updated.ResetKey)

	changed, err := repo.UpdatePassword(ctx, snapshot.ID, "$2a$10$other", "kate", testNow.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, "$2a$10$other", changed.PasswordHash)
	require.Equal(t, "55555555555555555555", changed.ResetKey)
	require.NotNil(t, changed.ResetDate)

	// Administrative saves leave credentials alone as well.
	snapshot.LastName = "Admin-Edited"
	require.NoError(t, repo.Update(ctx, snapshot))
	got, err := repo.GetByLogin(ctx, "kate")
	require.NoError(t, err)
	require.Equal(t, "Admin-Edited", got.LastName)
	require.Equal(t, "$2a$10$other", got.PasswordHash)
	require.Equal(t, "55555555555555555555", got.ResetKey)

	_, err = repo.UpdatePassword(ctx, 9999, "x", "kate", testNow)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountRepository_UpdateProfileEmailConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, newTestAccount("lou", "lou@example.com")))
	mia := newTestAccount("mia", "mia@example.com")
	require.NoError(t, repo.Create(ctx, mia))

	mia.Email = "lou@example.com"
	_, err := repo.UpdateProfile(ctx, mia)
	require.ErrorIs(t, err, domain.ErrEmailAlreadyUsed)
}

func TestAccountRepository_Activate(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	a := newTestAccount("hank", "hank@example.com")
	a.ActivationKey = "11111111111111111111"
	require.NoError(t, repo.Create(ctx, a))

	activated, err := repo.Activate(ctx, "11111111111111111111", testNow.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, activated.Activated)
	require.Empty(t, activated.ActivationKey)
	require.Equal(t, "hank", activated.LastModifiedBy)

	_, err = repo.Activate(ctx, "11111111111111111111", testNow)
	require.ErrorIs(t, err, domain.ErrUnknownActivationKey)

	_, err = repo.Activate(ctx, "", testNow)
	require.ErrorIs(t, err, domain.ErrUnknownActivationKey)
}

func TestAccountRepository_ResetFlow(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	pending := newTestAccount("ivy", "ivy@example.com")
	require.NoError(t, repo.Create(ctx, pending))

	_, err := repo.IssueResetKey(ctx, "ivy@example.com", "22222222222222222222", testNow)
	require.ErrorIs(t, err, domain.ErrNoSuchActivatedAccount)

	active := newTestAccount("jack", "jack@example.com")
	active.Activated = true
	require.NoError(t, repo.Create(ctx, active))

	issued, err := repo.IssueResetKey(ctx, "JACK@example.com", "33333333333333333333", testNow)
	require.NoError(t, err)
	require.Equal(t, "33333333333333333333", issued.ResetKey)
	require.NotNil(t, issued.ResetDate)

	// Issued before the window start.
	_, err = repo.CompleteReset(ctx, "33333333333333333333", testNow.Add(time.Second), "new-hash", testNow)
	require.ErrorIs(t, err, domain.ErrExpiredOrUnknownResetKey)

	reset, err := repo.CompleteReset(ctx, "33333333333333333333", testNow.Add(-24*time.Hour), "new-hash", testNow.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "new-hash", reset.PasswordHash)
	require.Empty(t, reset.ResetKey)
	require.Nil(t, reset.ResetDate)

	_, err = repo.CompleteReset(ctx, "33333333333333333333", testNow.Add(-24*time.Hour), "other", testNow)
	require.ErrorIs(t, err, domain.ErrExpiredOrUnknownResetKey)
}

func TestAccountRepository_ListUnactivatedBefore(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	old := newTestAccount("kim", "kim@example.com")
	old.CreatedDate = testNow.Add(-96 * time.Hour)
	require.NoError(t, repo.Create(ctx, old))

	fresh := newTestAccount("lee", "lee@example.com")
	require.NoError(t, repo.Create(ctx, fresh))

	oldActive := newTestAccount("max", "max@example.com")
	oldActive.CreatedDate = testNow.Add(-96 * time.Hour)
	oldActive.Activated = true
	require.NoError(t, repo.Create(ctx, oldActive))

	candidates, err := repo.ListUnactivatedBefore(ctx, testNow.Add(-72*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "kim", candidates[0].Login)
}

func TestAccountRepository_ListExcludesAnonymous(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	require.NoError(t, repo.Create(ctx, newTestAccount("nina", "nina@example.com")))

	result, err := repo.List(ctx, repository.ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Equal(t, int64(2), result.Total) // system + nina
	require.Len(t, result.Items, 1)
	require.Equal(t, domain.SystemAccount, result.Items[0].Login)

	result, err = repo.List(ctx, repository.ListOptions{Offset: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, "nina", result.Items[0].Login)
}

func TestAuthorityRepository_List(t *testing.T) {
	names, err := NewAuthorityRepository(newTestDB(t)).List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{domain.RoleAdmin, domain.RoleAnonymous, domain.RoleUser}, names)
}

func TestSocialConnectionRepository_Ranks(t *testing.T) {
	ctx := context.Background()
	repo := NewSocialConnectionRepository(newTestDB(t))

	first := &domain.SocialConnection{Login: "olga", ProviderID: "google", ProviderUserID: "a"}
	second := &domain.SocialConnection{Login: "olga", ProviderID: "google", ProviderUserID: "b"}
	other := &domain.SocialConnection{Login: "olga", ProviderID: "github", ProviderUserID: "c"}
	require.NoError(t, repo.Add(ctx, first))
	require.NoError(t, repo.Add(ctx, second))
	require.NoError(t, repo.Add(ctx, other))

	require.Equal(t, 1, first.Rank)
	require.Equal(t, 2, second.Rank)
	require.Equal(t, 1, other.Rank)

	err := repo.Add(ctx, &domain.SocialConnection{Login: "olga", ProviderID: "google", ProviderUserID: "a"})
	require.ErrorIs(t, err, domain.ErrConnectionAlreadyExists)

	primary, err := repo.Primary(ctx, "olga", "google")
	require.NoError(t, err)
	require.Equal(t, "a", primary.ProviderUserID)

	all, err := repo.FindByLogin(ctx, "olga")
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "github", all[0].ProviderID)

	n, err := repo.RemoveByProvider(ctx, "olga", "google")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	_, err = repo.Primary(ctx, "olga", "google")
	require.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestSocialConnectionRepository_UpdatePreservesRank(t *testing.T) {
	ctx := context.Background()
	repo := NewSocialConnectionRepository(newTestDB(t))

	require.NoError(t, repo.Add(ctx, &domain.SocialConnection{Login: "pat", ProviderID: "google", ProviderUserID: "x"}))
	require.NoError(t, repo.Add(ctx, &domain.SocialConnection{Login: "pat", ProviderID: "google", ProviderUserID: "y"}))

	expires := testNow.Add(time.Hour)
	update := &domain.SocialConnection{
		Login:          "pat",
		ProviderID:     "google",
		ProviderUserID: "y",
		DisplayName:    "Pat",
		AccessToken:    "sealed",
		ExpireTime:     &expires,
	}
	require.NoError(t, repo.Update(ctx, update))
	require.Equal(t, 2, update.Rank)

	got, err := repo.Get(ctx, "pat", "google", "y")
	require.NoError(t, err)
	require.Equal(t, "Pat", got.DisplayName)
	require.Equal(t, "sealed", got.AccessToken)
	require.Equal(t, expires, *got.ExpireTime)

	missing := &domain.SocialConnection{Login: "pat", ProviderID: "google", ProviderUserID: "z"}
	require.ErrorIs(t, repo.Update(ctx, missing), domain.ErrConnectionNotFound)
	require.ErrorIs(t, repo.Remove(ctx, "pat", "google", "z"), domain.ErrConnectionNotFound)

	n, err := repo.DeleteByLogin(ctx, "pat")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestAuditEventRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditEventRepository(newTestDB(t))

	older := &domain.AuditEvent{
		Principal: "quinn",
		Type:      domain.AuditAuthenticationFailure,
		Timestamp: testNow.Add(-48 * time.Hour),
		Data:      map[string]string{"message": "bad credentials", "remoteAddress": "10.0.0.1"},
	}
	newer := &domain.AuditEvent{
		Principal: "quinn",
		Type:      domain.AuditAuthenticationSuccess,
		Timestamp: testNow,
	}
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, newer))

	got, err := repo.GetByID(ctx, older.ID)
	require.NoError(t, err)
	require.Equal(t, older.Data, got.Data)

	_, err = repo.GetByID(ctx, 999)
	require.ErrorIs(t, err, domain.ErrAuditEventNotFound)

	all, err := repo.List(ctx, repository.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, int64(2), all.Total)
	require.Equal(t, newer.ID, all.Items[0].ID)

	window, err := repo.ListBetween(ctx, testNow.Add(-72*time.Hour), testNow.Add(-24*time.Hour), repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, window.Items, 1)
	require.Equal(t, "bad credentials", window.Items[0].Data["message"])
}

func TestAccountRepository_ConcurrentActivation(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(newTestDB(t))

	a := newTestAccount("race", "race@example.com")
	a.ActivationKey = "22222222222222222222"
	require.NoError(t, repo.Create(ctx, a))

	const attempts = 2
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		unknown  int
		failures []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Activate(ctx, "22222222222222222222", testNow)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrUnknownActivationKey):
				unknown++
			default:
				failures = append(failures, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, failures)
	require.Equal(t, 1, success)
	require.Equal(t, 1, unknown)
}
