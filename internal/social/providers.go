package social

import (
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/prn-tf/blog-accounts/internal/config"
	"github.com/prn-tf/blog-accounts/internal/domain"
)

const (
	// ProviderGoogle is the Google provider id.
	ProviderGoogle = "google"

	// GoogleUserInfoURL is the OpenID Connect userinfo endpoint.
	GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
)

var defaultGoogleScopes = []string{"openid", "email", "profile"}

// NewGoogleProvider creates the Google provider. Empty URLs in cfg use the
// Google endpoints.
func NewGoogleProvider(cfg config.ProviderConfig, client *http.Client) *OAuth2Provider {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = GoogleUserInfoURL
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultGoogleScopes
	}
	if client == nil {
		client = defaultHTTPClient()
	}

	return &OAuth2Provider{
		id: ProviderGoogle,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		mapProfile:  googleProfile,
		client:      client,
	}
}

func googleProfile(doc map[string]any) *domain.ExternalConnection {
	return &domain.ExternalConnection{
		ProviderUserID: stringField(doc, "sub", "id"),
		DisplayName:    stringField(doc, "name"),
		ProfileURL:     stringField(doc, "profile", "link"),
		ImageURL:       stringField(doc, "picture"),
		Email:          stringField(doc, "email"),
		FirstName:      stringField(doc, "given_name"),
		LastName:       stringField(doc, "family_name"),
	}
}

// NewGenericProvider creates a provider for any OAuth2 service that exposes a
// JSON userinfo endpoint (GitHub, Twitter, Facebook and similar).
func NewGenericProvider(id string, cfg config.ProviderConfig, client *http.Client) *OAuth2Provider {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &OAuth2Provider{
		id: id,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		mapProfile:  genericProfile,
		client:      client,
	}
}

func genericProfile(doc map[string]any) *domain.ExternalConnection {
	// Twitter wraps the user in a "data" object.
	if inner, ok := doc["data"].(map[string]any); ok {
		doc = inner
	}

	name := stringField(doc, "name")
	first, last := splitName(name)
	if f := stringField(doc, "first_name", "given_name"); f != "" {
		first, last = f, stringField(doc, "last_name", "family_name")
	}

	return &domain.ExternalConnection{
		ProviderUserID: stringField(doc, "id", "sub", "id_str"),
		DisplayName:    name,
		ProfileURL:     stringField(doc, "html_url", "profile_url", "link", "url"),
		ImageURL:       stringField(doc, "avatar_url", "profile_image_url", "picture"),
		Email:          stringField(doc, "email"),
		Username:       stringField(doc, "login", "username", "screen_name", "preferred_username"),
		FirstName:      first,
		LastName:       last,
	}
}
