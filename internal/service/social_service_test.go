package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/metrics"
)

// reverseSealer is a reversible stand-in for the AES sealer.
type reverseSealer struct{}

func (reverseSealer) Seal(plaintext string) (string, error) {
	r := []rune(plaintext)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return "sealed:" + string(r), nil
}

type socialFixture struct {
	svc    *SocialService
	store  *MockAccountStore
	conns  *MockSocialConnectionRepository
	mailer *recordingMailer
}

func newSocialFixture(t *testing.T, sealer TokenSealer) *socialFixture {
	t.Helper()
	f := &socialFixture{
		store:  NewMockAccountStore(),
		conns:  NewMockSocialConnectionRepository(),
		mailer: &recordingMailer{},
	}
	f.svc = NewSocialService(f.store, f.conns, plainHasher{}, f.mailer,
		domain.NewLoginPolicy([]string{"twitter"}), sealer, newTestClock(), metrics.New(), zerolog.Nop())
	return f
}

func googleConnection() *domain.ExternalConnection {
	return &domain.ExternalConnection{
		ProviderID:     "google",
		ProviderUserID: "g-123",
		DisplayName:    "Joe Shmoe",
		ImageURL:       "https://example.com/joe.png",
		Email:          "Joe@X.com",
		FirstName:      "Joe",
		LastName:       "Shmoe",
		AccessToken:    "access",
		RefreshToken:   "refresh",
	}
}

func TestSocialService_ReconcileRejectsBadConnections(t *testing.T) {
	ctx := context.Background()
	f := newSocialFixture(t, nil)

	_, err := f.svc.Reconcile(ctx, nil, "en")
	require.ErrorIs(t, err, domain.ErrNullConnection)

	_, err = f.svc.Reconcile(ctx, &domain.ExternalConnection{ProviderID: "google", ProviderUserID: "1"}, "en")
	require.ErrorIs(t, err, domain.ErrMissingIdentity)

	f.store.put(&domain.Account{Login: "jack", Activated: true})
	_, err = f.svc.Reconcile(ctx, &domain.ExternalConnection{ProviderID: "twitter", ProviderUserID: "1", Username: "Jack"}, "en")
	require.ErrorIs(t, err, domain.ErrAmbiguousLogin)

	require.Empty(t, f.mailer.kinds())
}

func TestSocialService_ReconcileCreatesAccount(t *testing.T) {
	ctx := context.Background()
	f := newSocialFixture(t, nil)

	account, err := f.svc.Reconcile(ctx, googleConnection(), "fr")
	require.NoError(t, err)
	require.Equal(t, "joe@x.com", account.Login, "non-username providers log in by email")
	require.Equal(t, "joe@x.com", account.Email)
	require.True(t, account.Activated)
	require.Equal(t, "fr", account.LangKey)
	require.Equal(t, []string{domain.RoleUser}, account.Authorities)
	require.True(t, strings.HasPrefix(account.PasswordHash, "hashed:"))
	require.Len(t, strings.TrimPrefix(account.PasswordHash, "hashed:"), 20)

	conn, err := f.conns.Get(ctx, "joe@x.com", "google", "g-123")
	require.NoError(t, err)
	require.Equal(t, 1, conn.Rank)
	require.Equal(t, "Joe Shmoe", conn.DisplayName)

	require.Equal(t, []string{"social_registration"}, f.mailer.kinds())
}

func TestSocialService_ReconcileTwitterUsesUsername(t *testing.T) {
	f := newSocialFixture(t, nil)

	account, err := f.svc.Reconcile(context.Background(), &domain.ExternalConnection{
		ProviderID:     "twitter",
		ProviderUserID: "t-1",
		Username:       "JackD",
	}, "")
	require.NoError(t, err)
	require.Equal(t, "jackd", account.Login)
	require.Empty(t, account.Email)
	require.Equal(t, domain.DefaultLangKey, account.LangKey)
}

func TestSocialService_ReconcileReusesAccountByEmail(t *testing.T) {
	ctx := context.Background()
	f := newSocialFixture(t, nil)

	existing := f.store.put(&domain.Account{
		Login:     "joe",
		Email:     "joe@x.com",
		FirstName: "Original",
		Activated: true,
	})

	account, err := f.svc.Reconcile(ctx, googleConnection(), "en")
	require.NoError(t, err)
	require.Equal(t, existing.ID, account.ID)
	require.Equal(t, "Original", f.store.get("joe").FirstName, "profile is not overwritten")

	_, err = f.conns.Get(ctx, "joe", "google", "g-123")
	require.NoError(t, err)
}

func TestSocialService_ReconnectUpdatesSameRow(t *testing.T) {
	ctx := context.Background()
	f := newSocialFixture(t, nil)

	_, err := f.svc.Reconcile(ctx, googleConnection(), "en")
	require.NoError(t, err)

	again := googleConnection()
	again.DisplayName = "Joe S."
	_, err = f.svc.Reconcile(ctx, again, "en")
	require.NoError(t, err)

	conns, err := f.conns.FindByLogin(ctx, "joe@x.com")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	require.Equal(t, 1, conns[0].Rank)
	require.Equal(t, "Joe S.", conns[0].DisplayName)

	other := googleConnection()
	other.ProviderUserID = "g-456"
	_, err = f.svc.Reconcile(ctx, other, "en")
	require.NoError(t, err)

	primary, found, err := f.svc.PrimaryConnection(ctx, "joe@x.com", "google")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "g-123", primary.ProviderUserID)

	second, err := f.conns.Get(ctx, "joe@x.com", "google", "g-456")
	require.NoError(t, err)
	require.Equal(t, 2, second.Rank)
}

func TestSocialService_SealsTokens(t *testing.T) {
	ctx := context.Background()
	f := newSocialFixture(t, reverseSealer{})

	_, err := f.svc.Reconcile(ctx, googleConnection(), "en")
	require.NoError(t, err)

	conn, err := f.conns.Get(ctx, "joe@x.com", "google", "g-123")
	require.NoError(t, err)
	require.Equal(t, "sealed:ssecca", conn.AccessToken)
	require.Equal(t, "sealed:hserfer", conn.RefreshToken)
	require.Empty(t, conn.Secret)
}

func TestSocialService_LinkFailureRemovesNewAccount(t *testing.T) {
	f := newSocialFixture(t, nil)
	f.conns.addErr = errors.New("connection refused")

	_, err := f.svc.Reconcile(context.Background(), googleConnection(), "en")
	require.ErrorIs(t, err, ErrInternalError)
	require.Nil(t, f.store.get("joe@x.com"))
	require.Empty(t, f.mailer.kinds())
}

func TestSocialService_UnlinkAll(t *testing.T) {
	ctx := context.Background()
	f := newSocialFixture(t, nil)

	for _, c := range []*domain.SocialConnection{
		{Login: "joe", ProviderID: "google", ProviderUserID: "g1"},
		{Login: "joe", ProviderID: "twitter", ProviderUserID: "t1"},
		{Login: "joe", ProviderID: "twitter", ProviderUserID: "t2"},
		{Login: "ann", ProviderID: "google", ProviderUserID: "g2"},
	} {
		require.NoError(t, f.conns.Add(ctx, c))
	}

	require.NoError(t, f.svc.UnlinkAll(ctx, "JOE"))
	require.Zero(t, f.conns.count("joe"))
	require.Equal(t, 1, f.conns.count("ann"))

	f.conns.findErr = errors.New("timeout")
	require.ErrorIs(t, f.svc.UnlinkAll(ctx, "ann"), ErrInternalError)
}
