package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// Account Errors
	// ===========================================

	// ErrAccountNotFound indicates the requested account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrLoginAlreadyUsed indicates another account holds the login.
	ErrLoginAlreadyUsed = errors.New("login already in use")

	// ErrEmailAlreadyUsed indicates another account holds the email address.
	ErrEmailAlreadyUsed = errors.New("email address already in use")

	// ErrInvalidLogin indicates the login violates the login pattern or length.
	ErrInvalidLogin = errors.New("invalid login")

	// ErrInvalidPassword indicates the password length is outside 4..100.
	ErrInvalidPassword = errors.New("incorrect password")

	// ErrUnknownAuthority indicates a role outside the fixed vocabulary.
	ErrUnknownAuthority = errors.New("unknown authority")

	// ErrIDNotAllowed indicates a create request carried an id.
	ErrIDNotAllowed = errors.New("a new account cannot already have an id")

	// ===========================================
	// Lifecycle Errors
	// ===========================================

	// ErrUnknownActivationKey indicates no pending account holds the key.
	ErrUnknownActivationKey = errors.New("no account found for activation key")

	// ErrNoSuchActivatedAccount indicates the email is unknown or not activated.
	ErrNoSuchActivatedAccount = errors.New("email address not registered")

	// ErrExpiredOrUnknownResetKey covers both an unknown key and an expired one.
	ErrExpiredOrUnknownResetKey = errors.New("reset key is unknown or expired")

	// ===========================================
	// Authentication Errors
	// ===========================================

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("bad credentials")

	// ErrAccountNotActivated indicates the credentials matched an unactivated account.
	ErrAccountNotActivated = errors.New("account was not activated")

	// ===========================================
	// Social Errors
	// ===========================================

	// ErrNullConnection indicates reconcile was called without a connection.
	ErrNullConnection = errors.New("cannot create social account with a null connection")

	// ErrMissingIdentity indicates the provider returned neither email nor username.
	ErrMissingIdentity = errors.New("cannot create social account with an empty email and login")

	// ErrAmbiguousLogin indicates no email and the username is taken locally.
	ErrAmbiguousLogin = errors.New("cannot create social account: login already exists without an email to disambiguate")

	// ErrConnectionNotFound indicates the social connection does not exist.
	ErrConnectionNotFound = errors.New("social connection not found")

	// ErrConnectionAlreadyExists indicates the identity is already linked to the login.
	ErrConnectionAlreadyExists = errors.New("social connection already exists")

	// ErrUnknownProvider indicates no provider is registered under the id.
	ErrUnknownProvider = errors.New("unknown social provider")

	// ===========================================
	// Audit Errors
	// ===========================================

	// ErrAuditEventNotFound indicates the audit event does not exist.
	ErrAuditEventNotFound = errors.New("audit event not found")
)

// DomainError wraps a domain error with additional context.
type DomainError struct {
	// Err is the underlying domain error.
	Err error

	// Message provides additional context.
	Message string

	// Resource identifies the affected resource (e.g., login, email).
	Resource string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Resource != "" {
		if e.Message == "" {
			return fmt.Sprintf("%s (%s)", e.Err.Error(), e.Resource)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Err.Error(), e.Message, e.Resource)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError with context.
func NewDomainError(err error, message, resource string) *DomainError {
	return &DomainError{
		Err:      err,
		Message:  message,
		Resource: resource,
	}
}

// WrapError wraps an error with domain context if it's not already a DomainError.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	return &DomainError{
		Err:     err,
		Message: message,
	}
}
