package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/config"
	"github.com/prn-tf/blog-accounts/internal/metrics"
)

// tokenClaims is the JWT payload: subject, expiry and the authorities claim.
type tokenClaims struct {
	Authorities string `json:"auth"`
	jwt.RegisteredClaims
}

// TokenProvider issues and verifies HS512 session tokens.
// The secret is fixed for the lifetime of the provider.
type TokenProvider struct {
	secret             []byte
	validity           time.Duration
	rememberMeValidity time.Duration
	now                func() time.Time
	logger             zerolog.Logger
	metrics            *metrics.Metrics
}

// NewTokenProvider creates a TokenProvider from the auth configuration.
func NewTokenProvider(cfg config.AuthConfig, logger zerolog.Logger, m *metrics.Metrics) *TokenProvider {
	return &TokenProvider{
		secret:             []byte(cfg.JWTSecret),
		validity:           cfg.TokenValidity,
		rememberMeValidity: cfg.TokenValidityRememberMe,
		now:                time.Now,
		logger:             logger.With().Str("component", "token_provider").Logger(),
		metrics:            m,
	}
}

// Issue signs a token for login carrying the given authorities.
func (p *TokenProvider) Issue(login string, authorities []string, rememberMe bool) (string, error) {
	validity := p.validity
	if rememberMe {
		validity = p.rememberMeValidity
	}

	now := p.now()
	claims := tokenClaims{
		Authorities: strings.Join(authorities, authoritiesSeparator),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   login,
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if p.metrics != nil {
		p.metrics.TokensIssued.WithLabelValues(strconv.FormatBool(rememberMe)).Inc()
	}
	return signed, nil
}

// Validate reports whether token carries a good HS512 signature, is well
// formed and has not expired. Failures are logged by category and never
// returned.
func (p *TokenProvider) Validate(token string) bool {
	_, err := p.parse(token)
	if err == nil {
		p.recordValidation("valid")
		return true
	}

	reason := failureReason(err)
	p.logger.Info().Str("reason", reason).Msg("invalid JWT token")
	p.logger.Trace().Err(err).Str("reason", reason).Msg("invalid JWT token trace")
	p.recordValidation(reason)
	return false
}

// Decode returns the principal carried by a token. Callers validate first.
func (p *TokenProvider) Decode(token string) (*Principal, error) {
	claims, err := p.parse(token)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}

	return &Principal{
		Login:       claims.Subject,
		Authorities: splitAuthorities(claims.Authorities),
	}, nil
}

func (p *TokenProvider) parse(token string) (*tokenClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrEmptyToken
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, p.keyFunc,
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// keyFunc accepts only HS512 so a token cannot pick a weaker algorithm.
func (p *TokenProvider) keyFunc(token *jwt.Token) (interface{}, error) {
	if token.Method.Alg() != jwt.SigningMethodHS512.Alg() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, token.Method.Alg())
	}
	return p.secret, nil
}

func (p *TokenProvider) recordValidation(result string) {
	if p.metrics != nil {
		p.metrics.TokenValidations.WithLabelValues(result).Inc()
	}
}

func splitAuthorities(claim string) []string {
	if claim == "" {
		return []string{}
	}
	parts := strings.Split(claim, authoritiesSeparator)
	authorities := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			authorities = append(authorities, part)
		}
	}
	return authorities
}
