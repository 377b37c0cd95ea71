package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/metrics"
	"github.com/prn-tf/blog-accounts/internal/pkg/crypto"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// TokenSealer encrypts provider credential material before it is stored.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
}

// SocialService links external provider identities to local accounts.
type SocialService struct {
	store       repository.AccountStore
	connections repository.SocialConnectionRepository
	passwords   PasswordEncoder
	mailer      Mailer
	policy      domain.LoginPolicy
	sealer      TokenSealer
	clock       Clock
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewSocialService creates a new SocialService. A nil sealer stores
// provider tokens as received.
func NewSocialService(
	store repository.AccountStore,
	connections repository.SocialConnectionRepository,
	passwords PasswordEncoder,
	mailer Mailer,
	policy domain.LoginPolicy,
	sealer TokenSealer,
	clock Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *SocialService {
	return &SocialService{
		store:       store,
		connections: connections,
		passwords:   passwords,
		mailer:      mailer,
		policy:      policy,
		sealer:      sealer,
		clock:       clock,
		metrics:     m,
		logger:      logger.With().Str("service", "social").Logger(),
	}
}

// Reconcile returns the local account for an external connection, creating
// one when no account holds the provider email, and links the connection.
func (s *SocialService) Reconcile(ctx context.Context, conn *domain.ExternalConnection, langKey string) (*domain.Account, error) {
	if conn == nil {
		s.logger.Error().Msg("cannot create social user because connection is null")
		return nil, domain.ErrNullConnection
	}

	email := domain.NormalizeEmail(conn.Email)
	username := domain.NormalizeLogin(conn.Username)
	if email == "" && username == "" {
		s.logger.Error().Str("provider", conn.ProviderID).Msg("cannot create social user because email and login are null")
		return nil, domain.ErrMissingIdentity
	}

	if email == "" {
		if _, found, err := s.store.Lookup(ctx, username); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		} else if found {
			s.logger.Error().Str("login", username).Msg("cannot create social user because email is null and login already exists")
			return nil, domain.NewDomainError(domain.ErrAmbiguousLogin, "", username)
		}
	}

	var (
		account *domain.Account
		created bool
	)
	if email != "" {
		existing, found, err := s.store.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		if found {
			s.logger.Info().Str("login", existing.Login).Str("provider", conn.ProviderID).Msg("user already exists, linking the social connection")
			account = existing
		}
	}

	if account == nil {
		var err error
		if account, err = s.createAccount(ctx, conn, email, username, langKey); err != nil {
			s.recordReconcile(conn.ProviderID, "error")
			return nil, err
		}
		created = true
	}

	outcome, err := s.link(ctx, account.Login, conn)
	if err != nil {
		if created {
			// The account only exists for this connection.
			if delErr := s.store.Delete(ctx, account.Login); delErr != nil {
				s.logger.Error().Err(delErr).Str("login", account.Login).Msg("failed to remove account after link failure")
			}
		}
		s.recordReconcile(conn.ProviderID, "error")
		return nil, err
	}
	if created {
		outcome = "created"
	}

	s.logger.Info().
		Str("login", account.Login).
		Str("provider", conn.ProviderID).
		Str("outcome", outcome).
		Msg("social connection reconciled")
	s.recordReconcile(conn.ProviderID, outcome)

	s.mailer.SendSocialRegistrationEmail(account, conn.ProviderID)
	return account, nil
}

func (s *SocialService) createAccount(ctx context.Context, conn *domain.ExternalConnection, email, username, langKey string) (*domain.Account, error) {
	login := s.policy.LoginFor(conn.ProviderID, username, email)
	if login == "" {
		// The preferred attribute is missing; fall back to the other one.
		login = email
		if login == "" {
			login = username
		}
	}

	password, err := crypto.GeneratePassword()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	account := domain.NewAccount(login, hash, domain.SystemAccount, s.clock.Now())
	account.Email = email
	account.FirstName = conn.FirstName
	account.LastName = conn.LastName
	account.ImageURL = conn.ImageURL
	account.Activated = true
	if langKey = strings.TrimSpace(langKey); langKey != "" {
		account.LangKey = langKey
	}
	account.Authorities = []string{domain.RoleUser}

	if err := s.store.Create(ctx, account); err != nil {
		if isConflict(err) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("login", login).Msg("failed to create social user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return account, nil
}

// link stores the connection for login. A reconnect of a known identity
// updates the existing row and keeps its rank.
func (s *SocialService) link(ctx context.Context, login string, conn *domain.ExternalConnection) (string, error) {
	sc := conn.ToSocialConnection(login)
	if err := s.seal(sc); err != nil {
		return "", err
	}

	existing, err := s.connections.Get(ctx, login, sc.ProviderID, sc.ProviderUserID)
	switch {
	case err == nil:
		sc.ID = existing.ID
		sc.Rank = existing.Rank
		if err := s.connections.Update(ctx, sc); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		return "reconnected", nil

	case errors.Is(err, domain.ErrConnectionNotFound):
		err := s.connections.Add(ctx, sc)
		if errors.Is(err, domain.ErrConnectionAlreadyExists) {
			// Lost a race with a concurrent callback for the same identity.
			if err := s.connections.Update(ctx, sc); err != nil {
				return "", fmt.Errorf("%w: %v", ErrInternalError, err)
			}
			return "reconnected", nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		return "linked", nil

	default:
		return "", fmt.Errorf("%w: %v", ErrInternalError, err)
	}
}

func (s *SocialService) seal(sc *domain.SocialConnection) error {
	if s.sealer == nil {
		return nil
	}
	for _, field := range []*string{&sc.AccessToken, &sc.Secret, &sc.RefreshToken} {
		if *field == "" {
			continue
		}
		sealed, err := s.sealer.Seal(*field)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		*field = sealed
	}
	return nil
}

// UnlinkAll removes every connection of login, provider by provider.
func (s *SocialService) UnlinkAll(ctx context.Context, login string) error {
	login = domain.NormalizeLogin(login)

	conns, err := s.connections.FindByLogin(ctx, login)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	seen := make(map[string]bool)
	for _, c := range conns {
		if seen[c.ProviderID] {
			continue
		}
		seen[c.ProviderID] = true

		removed, err := s.connections.RemoveByProvider(ctx, login, c.ProviderID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		s.logger.Debug().Str("login", login).Str("provider", c.ProviderID).Int64("removed", removed).Msg("unlinked provider")
	}
	return nil
}

// Connections returns the connections of login ordered by provider and rank.
func (s *SocialService) Connections(ctx context.Context, login string) ([]*domain.SocialConnection, error) {
	conns, err := s.connections.FindByLogin(ctx, domain.NormalizeLogin(login))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return conns, nil
}

// PrimaryConnection returns the lowest-ranked connection of login for a provider.
func (s *SocialService) PrimaryConnection(ctx context.Context, login, providerID string) (*domain.SocialConnection, bool, error) {
	conn, err := s.connections.Primary(ctx, domain.NormalizeLogin(login), providerID)
	if err != nil {
		if errors.Is(err, domain.ErrConnectionNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return conn, true, nil
}

// Unlink removes every connection of login for one provider.
func (s *SocialService) Unlink(ctx context.Context, login, providerID string) (int64, error) {
	removed, err := s.connections.RemoveByProvider(ctx, domain.NormalizeLogin(login), providerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return removed, nil
}

func (s *SocialService) recordReconcile(provider, outcome string) {
	if s.metrics != nil {
		s.metrics.SocialReconciles.WithLabelValues(provider, outcome).Inc()
	}
}

var _ ConnectionUnlinker = (*SocialService)(nil)
