package auth

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// TokenVerifier validates and decodes bearer tokens.
type TokenVerifier interface {
	Validate(token string) bool
	Decode(token string) (*Principal, error)
}

// ProblemType is the RFC7807 type URI used for authentication problems.
const ProblemType = "https://www.jhipster.tech/problem/problem-with-message"

// Filter attaches the bearer token's principal to the request context.
// Requests without a usable token pass through unauthenticated; access
// rules are enforced by RequireAuthenticated and RequireAuthority.
func Filter(tokens TokenVerifier, logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "jwt_filter").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token != "" && tokens.Validate(token) {
				principal, err := tokens.Decode(token)
				if err == nil {
					r = r.WithContext(WithPrincipal(r.Context(), principal))
				} else {
					logger.Debug().Err(err).Str("path", r.URL.Path).Msg("validated token could not be decoded")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get(AuthorizationHeader)
	if len(header) > len(BearerPrefix) && strings.EqualFold(header[:len(BearerPrefix)], BearerPrefix) {
		return strings.TrimSpace(header[len(BearerPrefix):])
	}
	return ""
}

// RequireAuthenticated rejects requests without a principal with 401.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFrom(r.Context()); !ok {
			writeAuthError(w, r, http.StatusUnauthorized, ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthority rejects requests whose principal lacks authority.
// Unauthenticated requests get 401, authenticated ones 403.
func RequireAuthority(authority string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				writeAuthError(w, r, http.StatusUnauthorized, ErrUnauthenticated)
				return
			}
			if !principal.HasAuthority(authority) {
				writeAuthError(w, r, http.StatusForbidden, ErrAccessDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeAuthError writes an RFC7807 problem response.
func writeAuthError(w http.ResponseWriter, r *http.Request, status int, err error) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"type":    ProblemType,
		"title":   http.StatusText(status),
		"status":  status,
		"detail":  err.Error(),
		"path":    r.URL.Path,
		"message": "error.http." + strconv.Itoa(status),
	})
}
