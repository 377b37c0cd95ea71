package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/metrics"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(login string, authorities []string, rememberMe bool) (string, error)
}

// Credentials is a login attempt.
type Credentials struct {
	Login         string
	Password      string
	RememberMe    bool
	RemoteAddress string
}

// Authenticator verifies credentials and issues a token on success.
type Authenticator struct {
	store     repository.AccountStore
	passwords PasswordEncoder
	tokens    TokenIssuer
	audit     AuditRecorder
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewAuthenticator creates a new Authenticator. audit may be nil.
func NewAuthenticator(
	store repository.AccountStore,
	passwords PasswordEncoder,
	tokens TokenIssuer,
	audit AuditRecorder,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Authenticator {
	return &Authenticator{
		store:     store,
		passwords: passwords,
		tokens:    tokens,
		audit:     audit,
		metrics:   m,
		logger:    logger.With().Str("service", "authenticator").Logger(),
	}
}

// Authenticate returns a signed token for valid credentials of an
// activated account. It fails with ErrInvalidCredentials or
// ErrAccountNotActivated.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (string, *domain.Account, error) {
	login := domain.NormalizeLogin(creds.Login)

	account, found, err := a.store.Lookup(ctx, login)
	if err != nil {
		a.logger.Error().Err(err).Str("login", login).Msg("failed to load account during authentication")
		return "", nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	if !found || !a.passwords.Matches(account.PasswordHash, creds.Password) {
		a.logger.Debug().Str("login", login).Msg("bad credentials")
		a.fail(ctx, login, creds.RemoteAddress, domain.ErrInvalidCredentials)
		return "", nil, domain.ErrInvalidCredentials
	}

	if !account.CanAuthenticate() {
		a.logger.Debug().Str("login", login).Msg("unactivated account attempted authentication")
		err := domain.NewDomainError(domain.ErrAccountNotActivated, "", login)
		a.fail(ctx, login, creds.RemoteAddress, err)
		return "", nil, err
	}

	token, err := a.tokens.Issue(account.Login, account.Authorities, creds.RememberMe)
	if err != nil {
		a.logger.Error().Err(err).Str("login", login).Msg("failed to issue token")
		return "", nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	a.logger.Info().Str("login", account.Login).Bool("remember_me", creds.RememberMe).Msg("user authenticated")
	a.recordAttempt("success")
	a.recordAudit(ctx, &domain.AuditEvent{
		Principal: account.Login,
		Type:      domain.AuditAuthenticationSuccess,
		Data:      map[string]string{"remoteAddress": creds.RemoteAddress},
	})
	return token, account, nil
}

func (a *Authenticator) fail(ctx context.Context, login, remoteAddress string, cause error) {
	result := "bad_credentials"
	if errors.Is(cause, domain.ErrAccountNotActivated) {
		result = "not_activated"
	}
	a.recordAttempt(result)
	a.recordAudit(ctx, &domain.AuditEvent{
		Principal: login,
		Type:      domain.AuditAuthenticationFailure,
		Data: map[string]string{
			"remoteAddress": remoteAddress,
			"message":       cause.Error(),
		},
	})
}

func (a *Authenticator) recordAttempt(result string) {
	if a.metrics != nil {
		a.metrics.Authentications.WithLabelValues(result).Inc()
	}
}

// recordAudit stores the event; audit failures never fail the login.
func (a *Authenticator) recordAudit(ctx context.Context, event *domain.AuditEvent) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Record(ctx, event); err != nil {
		a.logger.Warn().Err(err).Str("type", event.Type).Msg("failed to record authentication audit event")
	}
}
