package domain

import (
	"strings"
	"time"
)

// SocialConnection links a local login to an external provider identity.
// (Login, ProviderID, ProviderUserID) is unique.
type SocialConnection struct {
	ID             int64  `json:"id"`
	Login          string `json:"login"`
	ProviderID     string `json:"providerId"`
	ProviderUserID string `json:"providerUserId"`

	// Rank orders connections to the same provider; lowest is primary.
	Rank int `json:"rank"`

	DisplayName string `json:"displayName,omitempty"`
	ProfileURL  string `json:"profileUrl,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`

	// Opaque provider credential material.
	AccessToken  string     `json:"-"`
	Secret       string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpireTime   *time.Time `json:"expireTime,omitempty"`
}

// ExternalConnection is the profile and credential payload a provider
// returns after a completed OAuth handshake.
type ExternalConnection struct {
	ProviderID     string
	ProviderUserID string
	DisplayName    string
	ProfileURL     string
	ImageURL       string

	Email     string
	Username  string
	FirstName string
	LastName  string

	AccessToken  string
	Secret       string
	RefreshToken string
	ExpireTime   *time.Time
}

// ToSocialConnection copies the link fields for login.
func (c *ExternalConnection) ToSocialConnection(login string) *SocialConnection {
	return &SocialConnection{
		Login:          login,
		ProviderID:     c.ProviderID,
		ProviderUserID: c.ProviderUserID,
		DisplayName:    c.DisplayName,
		ProfileURL:     c.ProfileURL,
		ImageURL:       c.ImageURL,
		AccessToken:    c.AccessToken,
		Secret:         c.Secret,
		RefreshToken:   c.RefreshToken,
		ExpireTime:     c.ExpireTime,
	}
}

// LoginPolicy decides which provider attribute becomes the local login.
type LoginPolicy struct {
	usernameProviders map[string]bool
}

// NewLoginPolicy returns a policy where the listed providers log in by
// username and every other provider logs in by email address.
func NewLoginPolicy(usernameProviders []string) LoginPolicy {
	p := LoginPolicy{usernameProviders: make(map[string]bool, len(usernameProviders))}
	for _, id := range usernameProviders {
		p.usernameProviders[strings.ToLower(id)] = true
	}
	return p
}

// UsesUsername reports whether providerID logs in by username.
func (p LoginPolicy) UsesUsername(providerID string) bool {
	return p.usernameProviders[strings.ToLower(providerID)]
}

// LoginFor picks the local login for a new account.
func (p LoginPolicy) LoginFor(providerID, username, email string) string {
	if p.UsesUsername(providerID) {
		return NormalizeLogin(username)
	}
	return NormalizeLogin(email)
}
