package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/metrics"
	"github.com/prn-tf/blog-accounts/internal/pkg/crypto"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// PasswordEncoder hashes and verifies passwords.
type PasswordEncoder interface {
	Hash(password string) (string, error)
	Matches(hash, password string) bool
}

// ConnectionUnlinker removes every social connection of a login.
type ConnectionUnlinker interface {
	UnlinkAll(ctx context.Context, login string) error
}

// AccountService owns the self-service account lifecycle: registration,
// activation, password reset and profile changes.
type AccountService struct {
	store       repository.AccountStore
	passwords   PasswordEncoder
	mailer      Mailer
	unlinker    ConnectionUnlinker
	clock       Clock
	resetWindow time.Duration
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// AccountServiceConfig contains the account lifecycle settings.
type AccountServiceConfig struct {
	// ResetWindow is how long a reset key stays usable.
	ResetWindow time.Duration
}

// NewAccountService creates a new AccountService.
func NewAccountService(
	store repository.AccountStore,
	passwords PasswordEncoder,
	mailer Mailer,
	unlinker ConnectionUnlinker,
	clock Clock,
	cfg AccountServiceConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *AccountService {
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = 24 * time.Hour
	}
	return &AccountService{
		store:       store,
		passwords:   passwords,
		mailer:      mailer,
		unlinker:    unlinker,
		clock:       clock,
		resetWindow: cfg.ResetWindow,
		metrics:     m,
		logger:      logger.With().Str("service", "account").Logger(),
	}
}

// RegisterInput contains the data of a self-service registration.
type RegisterInput struct {
	Login     string
	Password  string
	FirstName string
	LastName  string
	Email     string
	ImageURL  string
	LangKey   string
}

// ProfileInput contains the fields a user may change on their own account.
type ProfileInput struct {
	FirstName string
	LastName  string
	Email     string
	LangKey   string
	ImageURL  string
}

func (s *AccountService) recordEvent(event string) {
	if s.metrics != nil {
		s.metrics.AccountEvents.WithLabelValues(event).Inc()
	}
}

// Register creates an unactivated account and mails its activation key.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*domain.Account, error) {
	login := domain.NormalizeLogin(input.Login)
	if err := domain.ValidateLogin(login); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(input.Password); err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(input.Email)

	if err := s.ensureAvailable(ctx, login, email); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(input.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return nil, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	key, err := crypto.GenerateActivationKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	account := domain.NewAccount(login, hash, login, s.clock.Now())
	account.FirstName = input.FirstName
	account.LastName = input.LastName
	account.Email = email
	account.ImageURL = input.ImageURL
	if input.LangKey != "" {
		account.LangKey = input.LangKey
	}
	account.ActivationKey = key
	account.Authorities = []string{domain.RoleUser}

	if err := s.store.Create(ctx, account); err != nil {
		if isConflict(err) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("login", login).Msg("failed to create account")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Int64("account_id", account.ID).
		Str("login", account.Login).
		Msg("account registered")
	s.logger.Debug().Str("login", account.Login).Str("activation_key", key).Msg("activation key issued")
	s.recordEvent("registered")

	s.mailer.SendActivationEmail(account)
	return account, nil
}

// ensureAvailable rejects a login or email already held by an account.
func (s *AccountService) ensureAvailable(ctx context.Context, login, email string) error {
	if _, found, err := s.store.Lookup(ctx, login); err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	} else if found {
		return domain.NewDomainError(domain.ErrLoginAlreadyUsed, "", login)
	}

	if email == "" {
		return nil
	}
	if _, found, err := s.store.FindByEmail(ctx, email); err != nil {
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	} else if found {
		return domain.NewDomainError(domain.ErrEmailAlreadyUsed, "", email)
	}
	return nil
}

// Activate consumes an activation key. found is false when no pending
// account holds the key.
func (s *AccountService) Activate(ctx context.Context, key string) (*domain.Account, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, nil
	}

	account, err := s.store.Activate(ctx, key, s.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrUnknownActivationKey) {
			s.logger.Debug().Str("key", key).Msg("unknown activation key")
			return nil, false, nil
		}
		s.logger.Error().Err(err).Msg("failed to activate account")
		return nil, false, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Str("login", account.Login).Msg("activated account")
	s.recordEvent("activated")
	return account, true, nil
}

// RequestPasswordReset issues a reset key for the activated account holding
// email. found is false when there is none.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (*domain.Account, bool, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, false, nil
	}

	key, err := crypto.GenerateResetKey()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	account, err := s.store.IssueResetKey(ctx, email, key, s.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrNoSuchActivatedAccount) {
			return nil, false, nil
		}
		s.logger.Error().Err(err).Msg("failed to issue reset key")
		return nil, false, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Str("login", account.Login).Msg("password reset requested")
	s.logger.Debug().Str("login", account.Login).Str("reset_key", key).Msg("reset key issued")
	s.recordEvent("reset_requested")

	s.mailer.SendPasswordResetMail(account)
	return account, true, nil
}

// CompletePasswordReset sets a new password for the holder of a reset key
// issued within the reset window. found is false for unknown or expired keys.
func (s *AccountService) CompletePasswordReset(ctx context.Context, key, newPassword string) (*domain.Account, bool, error) {
	if err := domain.ValidatePassword(newPassword); err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, false, nil
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return nil, false, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	now := s.clock.Now()
	account, err := s.store.CompleteReset(ctx, key, now.Add(-s.resetWindow), hash, now)
	if err != nil {
		if errors.Is(err, domain.ErrExpiredOrUnknownResetKey) {
			return nil, false, nil
		}
		s.logger.Error().Err(err).Msg("failed to complete password reset")
		return nil, false, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Str("login", account.Login).Msg("password reset completed")
	s.recordEvent("reset_completed")
	return account, true, nil
}

// GetAccount returns the account with its authorities.
func (s *AccountService) GetAccount(ctx context.Context, login string) (*domain.Account, bool, error) {
	account, found, err := s.store.Lookup(ctx, login)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return account, found, nil
}

// UpdateProfile changes the names, email, language and image of login.
func (s *AccountService) UpdateProfile(ctx context.Context, login string, input ProfileInput) (*domain.Account, error) {
	account, err := s.mustLookup(ctx, login)
	if err != nil {
		return nil, err
	}

	email := domain.NormalizeEmail(input.Email)
	if email != "" {
		holder, found, err := s.store.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		if found && holder.Login != account.Login {
			return nil, domain.NewDomainError(domain.ErrEmailAlreadyUsed, "", email)
		}
	}

	account.FirstName = input.FirstName
	account.LastName = input.LastName
	account.Email = email
	account.ImageURL = input.ImageURL
	if input.LangKey != "" {
		account.LangKey = input.LangKey
	}
	account.Touch(account.Login, s.clock.Now())

	saved, err := s.store.SaveProfile(ctx, account)
	if err != nil {
		return nil, s.writeError(err, account.Login)
	}

	s.logger.Debug().Str("login", saved.Login).Msg("changed information for account")
	s.recordEvent("profile_updated")
	return saved, nil
}

// ChangePassword replaces the password of login.
func (s *AccountService) ChangePassword(ctx context.Context, login, newPassword string) error {
	if err := domain.ValidatePassword(newPassword); err != nil {
		return err
	}

	account, err := s.mustLookup(ctx, login)
	if err != nil {
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}

	if _, err := s.store.ChangePassword(ctx, account.ID, hash, account.Login, s.clock.Now()); err != nil {
		return s.writeError(err, account.Login)
	}

	s.logger.Debug().Str("login", account.Login).Msg("changed password for account")
	s.recordEvent("password_changed")
	return nil
}

// DeleteAccount unlinks every social connection of login and deletes it.
func (s *AccountService) DeleteAccount(ctx context.Context, login string) error {
	if err := deleteAccount(ctx, s.store, s.unlinker, login); err != nil {
		if !errors.Is(err, domain.ErrAccountNotFound) {
			s.logger.Error().Err(err).Str("login", login).Msg("failed to delete account")
		}
		return err
	}

	s.logger.Info().Str("login", login).Msg("deleted account")
	s.recordEvent("deleted")
	return nil
}

// mustLookup returns the account of login or ErrAccountNotFound.
func (s *AccountService) mustLookup(ctx context.Context, login string) (*domain.Account, error) {
	account, found, err := s.store.Lookup(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !found {
		return nil, domain.NewDomainError(domain.ErrAccountNotFound, "", login)
	}
	return account, nil
}

// writeError passes domain errors of a failed account write through and
// wraps the rest as internal.
func (s *AccountService) writeError(err error, login string) error {
	if isConflict(err) || errors.Is(err, domain.ErrAccountNotFound) {
		return err
	}
	s.logger.Error().Err(err).Str("login", login).Msg("failed to save account")
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}

// deleteAccount is shared by self-service and administrative deletion.
func deleteAccount(ctx context.Context, store repository.AccountStore, unlinker ConnectionUnlinker, login string) error {
	login = domain.NormalizeLogin(login)

	if unlinker != nil {
		if err := unlinker.UnlinkAll(ctx, login); err != nil {
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
	}

	if err := store.Delete(ctx, login); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.NewDomainError(domain.ErrAccountNotFound, "", login)
		}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrLoginAlreadyUsed) || errors.Is(err, domain.ErrEmailAlreadyUsed)
}
