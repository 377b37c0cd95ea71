// Package social implements the OAuth2 sign-in providers and the one-time
// state tokens that protect the sign-in redirect.
package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/prn-tf/blog-accounts/internal/domain"
)

var (
	// ErrExchangeFailed indicates the authorization code was rejected.
	ErrExchangeFailed = errors.New("oauth: code exchange failed")

	// ErrProfileFailed indicates the provider profile could not be read.
	ErrProfileFailed = errors.New("oauth: failed to fetch user profile")
)

// maxProfileSize bounds the userinfo response body.
const maxProfileSize = 1 << 20

// Provider is an OAuth2 identity provider.
type Provider interface {
	// ID returns the provider id, e.g. "google".
	ID() string

	// AuthCodeURL returns the authorization URL carrying state.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for the user's connection.
	Exchange(ctx context.Context, code string) (*domain.ExternalConnection, error)
}

// profileMapper converts a decoded userinfo document into a connection.
type profileMapper func(doc map[string]any) *domain.ExternalConnection

// OAuth2Provider is a Provider backed by an oauth2.Config and a JSON
// userinfo endpoint.
type OAuth2Provider struct {
	id          string
	config      *oauth2.Config
	userInfoURL string
	mapProfile  profileMapper
	client      *http.Client
}

// ID implements Provider.
func (p *OAuth2Provider) ID() string {
	return p.id
}

// AuthCodeURL implements Provider.
func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange implements Provider.
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*domain.ExternalConnection, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	doc, err := p.fetchProfile(ctx, token)
	if err != nil {
		return nil, err
	}

	conn := p.mapProfile(doc)
	conn.ProviderID = p.id
	conn.AccessToken = token.AccessToken
	conn.RefreshToken = token.RefreshToken
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		conn.ExpireTime = &expiry
	}
	if conn.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: profile has no user id", ErrProfileFailed)
	}
	return conn, nil
}

func (p *OAuth2Provider) fetchProfile(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProfileFailed, resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileFailed, err)
	}
	return doc, nil
}

// stringField returns the first non-empty value among keys. Numeric ids are
// formatted without exponent.
func stringField(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := doc[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// splitName splits a display name into first and last name.
func splitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, " "); i > 0 {
		return name[:i], strings.TrimSpace(name[i+1:])
	}
	return name, ""
}

// defaultHTTPClient is used when no client is supplied.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

var _ Provider = (*OAuth2Provider)(nil)
