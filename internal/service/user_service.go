package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/metrics"
	"github.com/prn-tf/blog-accounts/internal/pkg/crypto"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// UserService handles administrative user management.
type UserService struct {
	store       repository.AccountStore
	authorities repository.AuthorityRepository
	passwords   PasswordEncoder
	mailer      Mailer
	unlinker    ConnectionUnlinker
	clock       Clock
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(
	store repository.AccountStore,
	authorities repository.AuthorityRepository,
	passwords PasswordEncoder,
	mailer Mailer,
	unlinker ConnectionUnlinker,
	clock Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *UserService {
	return &UserService{
		store:       store,
		authorities: authorities,
		passwords:   passwords,
		mailer:      mailer,
		unlinker:    unlinker,
		clock:       clock,
		metrics:     m,
		logger:      logger.With().Str("service", "user").Logger(),
	}
}

// ManagedUserInput contains the fields an administrator sets on an account.
type ManagedUserInput struct {
	ID          int64
	Login       string
	FirstName   string
	LastName    string
	Email       string
	ImageURL    string
	Activated   bool
	LangKey     string
	Authorities []string
}

// CreateUser creates an activated account with a random password and a
// fresh reset key, then mails the reset link so the user picks a password.
func (s *UserService) CreateUser(ctx context.Context, actor string, input ManagedUserInput) (*domain.Account, error) {
	if input.ID != 0 {
		return nil, domain.ErrIDNotAllowed
	}

	login := domain.NormalizeLogin(input.Login)
	if err := domain.ValidateLogin(login); err != nil {
		return nil, err
	}
	authorities, err := resolveAuthorities(input.Authorities)
	if err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(input.Email)

	if _, found, err := s.store.Lookup(ctx, login); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	} else if found {
		return nil, domain.NewDomainError(domain.ErrLoginAlreadyUsed, "", login)
	}
	if email != "" {
		if _, found, err := s.store.FindByEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		} else if found {
			return nil, domain.NewDomainError(domain.ErrEmailAlreadyUsed, "", email)
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
	resetKey, err := crypto.GenerateResetKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	now := s.clock.Now().UTC()
	account := domain.NewAccount(login, hash, actor, now)
	account.FirstName = input.FirstName
	account.LastName = input.LastName
	account.Email = email
	account.ImageURL = input.ImageURL
	if input.LangKey != "" {
		account.LangKey = input.LangKey
	}
	account.Activated = true
	account.ResetKey = resetKey
	account.ResetDate = &now
	account.Authorities = authorities

	if err := s.store.Create(ctx, account); err != nil {
		if isConflict(err) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("login", login).Msg("failed to create user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Int64("account_id", account.ID).
		Str("login", account.Login).
		Strs("authorities", account.Authorities).
		Str("created_by", actor).
		Msg("user created")
	if s.metrics != nil {
		s.metrics.AccountEvents.WithLabelValues("created_by_admin").Inc()
	}

	s.mailer.SendCreationEmail(account)
	return account, nil
}

// UpdateUser replaces the managed fields of the account with input.ID.
func (s *UserService) UpdateUser(ctx context.Context, actor string, input ManagedUserInput) (*domain.Account, error) {
	account, found, err := s.store.FindByID(ctx, input.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if !found {
		return nil, domain.NewDomainError(domain.ErrAccountNotFound, "", fmt.Sprintf("id %d", input.ID))
	}

	login := domain.NormalizeLogin(input.Login)
	if err := domain.ValidateLogin(login); err != nil {
		return nil, err
	}
	authorities, err := resolveAuthorities(input.Authorities)
	if err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(input.Email)

	if email != "" {
		holder, found, err := s.store.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		if found && holder.ID != account.ID {
			return nil, domain.NewDomainError(domain.ErrEmailAlreadyUsed, "", email)
		}
	}
	holder, found, err := s.store.Lookup(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	if found && holder.ID != account.ID {
		return nil, domain.NewDomainError(domain.ErrLoginAlreadyUsed, "", login)
	}

	account.Login = login
	account.FirstName = input.FirstName
	account.LastName = input.LastName
	account.Email = email
	account.ImageURL = input.ImageURL
	account.Activated = input.Activated
	if account.Activated {
		account.ActivationKey = ""
	}
	if input.LangKey != "" {
		account.LangKey = input.LangKey
	}
	account.Authorities = authorities
	account.Touch(actor, s.clock.Now())

	if err := s.store.Save(ctx, account); err != nil {
		if isConflict(err) {
			return nil, err
		}
		s.logger.Error().Err(err).Int64("account_id", account.ID).Msg("failed to update user")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().
		Int64("account_id", account.ID).
		Str("login", account.Login).
		Str("modified_by", actor).
		Msg("user updated")
	return account, nil
}

// GetUser returns the account of login.
func (s *UserService) GetUser(ctx context.Context, login string) (*domain.Account, bool, error) {
	account, found, err := s.store.Lookup(ctx, login)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return account, found, nil
}

// ListUsers returns a page of accounts, excluding the anonymous user.
func (s *UserService) ListUsers(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Account], error) {
	result, err := s.store.List(ctx, opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list users")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return result, nil
}

// DeleteUser removes the account of login and its social connections.
func (s *UserService) DeleteUser(ctx context.Context, actor, login string) error {
	if err := deleteAccount(ctx, s.store, s.unlinker, login); err != nil {
		if !errors.Is(err, domain.ErrAccountNotFound) {
			s.logger.Error().Err(err).Str("login", login).Msg("failed to delete user")
		}
		return err
	}

	s.logger.Info().Str("login", login).Str("deleted_by", actor).Msg("user deleted")
	if s.metrics != nil {
		s.metrics.AccountEvents.WithLabelValues("deleted").Inc()
	}
	return nil
}

// ListAuthorities returns the role vocabulary.
func (s *UserService) ListAuthorities(ctx context.Context) ([]string, error) {
	names, err := s.authorities.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return names, nil
}

// resolveAuthorities validates requested role names, defaulting to ROLE_USER.
func resolveAuthorities(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return []string{domain.RoleUser}, nil
	}
	if err := domain.ValidateAuthorities(requested); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(requested))
	authorities := make([]string, 0, len(requested))
	for _, name := range requested {
		if !seen[name] {
			seen[name] = true
			authorities = append(authorities, name)
		}
	}
	return authorities, nil
}
