// Package domain contains the core business entities for the blog accounts service.
// These are pure Go structs with no external dependencies, representing
// accounts, their authorities, linked social identities and audit records.
package domain

import (
	"regexp"
	"strings"
	"time"
)

// Reserved logins and defaults.
const (
	// SystemAccount is recorded as the author of changes made by background jobs.
	SystemAccount = "system"

	// AnonymousUser is the principal name used for unauthenticated callers.
	AnonymousUser = "anonymoususer"

	// DefaultLangKey is used when no language preference is supplied.
	DefaultLangKey = "en"
)

// Field constraints.
const (
	LoginMaxLength    = 100
	PasswordMinLength = 4
	PasswordMaxLength = 100
	EmailMinLength    = 5
	EmailMaxLength    = 100
)

// loginPattern matches letters, digits and _ ' . @ -
var loginPattern = regexp.MustCompile(`^[_'.@A-Za-z0-9-]*$`)

// AccountState is the lifecycle position of an account.
type AccountState string

const (
	// StatePendingActivation means the account holds an activation key and cannot sign in.
	StatePendingActivation AccountState = "PENDING_ACTIVATION"

	// StateActive means the account is activated with no outstanding reset.
	StateActive AccountState = "ACTIVE"

	// StatePasswordResetPending means the account is active and holds a reset key.
	StatePasswordResetPending AccountState = "PASSWORD_RESET_PENDING"
)

// Account represents a registered identity.
type Account struct {
	// ID is the unique identifier for the account (auto-generated).
	ID int64 `json:"id"`

	// Login is the unique, lower-cased login.
	Login string `json:"login"`

	// PasswordHash is the bcrypt hash of the password.
	// This should never be exposed in API responses.
	PasswordHash string `json:"-"`

	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`

	// Email is optional but unique when present. Stored lower-cased.
	Email    string `json:"email,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	LangKey  string `json:"langKey,omitempty"`

	// Activated is false until the activation key is consumed.
	Activated bool `json:"activated"`

	// ActivationKey is set only while the account is pending activation.
	ActivationKey string `json:"-"`

	// ResetKey and ResetDate are set together while a reset is outstanding.
	ResetKey  string     `json:"-"`
	ResetDate *time.Time `json:"-"`

	// Authorities holds role names drawn from the fixed vocabulary.
	Authorities []string `json:"authorities"`

	CreatedBy        string    `json:"createdBy,omitempty"`
	CreatedDate      time.Time `json:"createdDate"`
	LastModifiedBy   string    `json:"lastModifiedBy,omitempty"`
	LastModifiedDate time.Time `json:"lastModifiedDate"`
}

// NewAccount creates an unactivated account with audit metadata set.
func NewAccount(login, passwordHash, createdBy string, now time.Time) *Account {
	now = now.UTC()
	return &Account{
		Login:            NormalizeLogin(login),
		PasswordHash:     passwordHash,
		LangKey:          DefaultLangKey,
		CreatedBy:        createdBy,
		CreatedDate:      now,
		LastModifiedBy:   createdBy,
		LastModifiedDate: now,
	}
}

// State derives the lifecycle state from the key fields.
func (a *Account) State() AccountState {
	switch {
	case !a.Activated:
		return StatePendingActivation
	case a.ResetKey != "":
		return StatePasswordResetPending
	default:
		return StateActive
	}
}

// CanAuthenticate returns true if the account is allowed to sign in.
func (a *Account) CanAuthenticate() bool {
	return a.Activated
}

// HasAuthority reports whether the account holds the named role.
func (a *Account) HasAuthority(name string) bool {
	for _, auth := range a.Authorities {
		if auth == name {
			return true
		}
	}
	return false
}

// ResetIssuedWithin reports whether an outstanding reset was requested no
// earlier than window before now.
func (a *Account) ResetIssuedWithin(now time.Time, window time.Duration) bool {
	if a.ResetKey == "" || a.ResetDate == nil {
		return false
	}
	return !a.ResetDate.Before(now.Add(-window))
}

// Touch records a modification.
func (a *Account) Touch(by string, now time.Time) {
	a.LastModifiedBy = by
	a.LastModifiedDate = now.UTC()
}

// NormalizeLogin lower-cases and trims a login.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateLogin checks length and allowed characters.
func ValidateLogin(login string) error {
	if login == "" || len(login) > LoginMaxLength {
		return NewDomainError(ErrInvalidLogin, "login must be between 1 and 100 characters", login)
	}
	if !loginPattern.MatchString(login) {
		return NewDomainError(ErrInvalidLogin, "login contains invalid characters", login)
	}
	return nil
}

// ValidatePassword checks the clear-text password length.
func ValidatePassword(password string) error {
	if len(password) < PasswordMinLength || len(password) > PasswordMaxLength {
		return ErrInvalidPassword
	}
	return nil
}
