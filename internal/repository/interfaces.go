// Package repository defines data access interfaces for the blog accounts service.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite, in-memory for testing) while keeping the service layer clean.
package repository

import (
	"context"
	"time"

	"github.com/prn-tf/blog-accounts/internal/domain"
)

// =============================================================================
// Account Repository
// =============================================================================

// AccountRepository defines the interface for account data access.
// Callers outside the repository layer go through AccountStore instead.
type AccountRepository interface {
	// Create inserts the account and its authorities in one transaction.
	// Returns ErrLoginAlreadyUsed or ErrEmailAlreadyUsed on conflicts.
	Create(ctx context.Context, account *domain.Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id int64) (*domain.Account, error)

	// GetByLogin retrieves an account by login.
	GetByLogin(ctx context.Context, login string) (*domain.Account, error)

	// GetByEmail retrieves an account by email, case-insensitively.
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)

	// Update writes login, profile, activation state and the authority set.
	// The password hash and reset key columns are not touched.
	Update(ctx context.Context, account *domain.Account) error

	// UpdateProfile writes names, email, language and image only, and
	// returns the stored row. Returns ErrEmailAlreadyUsed on conflicts.
	UpdateProfile(ctx context.Context, account *domain.Account) (*domain.Account, error)

	// UpdatePassword replaces the password hash of the account with id.
	UpdatePassword(ctx context.Context, id int64, passwordHash, by string, at time.Time) (*domain.Account, error)

	// Delete removes the account and its social connections in one transaction.
	Delete(ctx context.Context, login string) error

	// DeleteUnactivated deletes the account and its social connections only
	// if it is not activated. Reports whether a row was deleted.
	DeleteUnactivated(ctx context.Context, login string) (bool, error)

	// Activate consumes an activation key atomically.
	// Returns ErrUnknownActivationKey when no pending account holds the key.
	Activate(ctx context.Context, key string, at time.Time) (*domain.Account, error)

	// IssueResetKey stores a reset key on the activated account with the email.
	// Returns ErrNoSuchActivatedAccount otherwise.
	IssueResetKey(ctx context.Context, email, key string, at time.Time) (*domain.Account, error)

	// CompleteReset replaces the password hash when the key matches and was
	// issued at or after notBefore, clearing the key and its date.
	// Returns ErrExpiredOrUnknownResetKey otherwise.
	CompleteReset(ctx context.Context, key string, notBefore time.Time, passwordHash string, at time.Time) (*domain.Account, error)

	// ListUnactivatedBefore returns pending accounts created before cutoff, oldest first.
	ListUnactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error)

	// List returns accounts with pagination, excluding the anonymous user.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.Account], error)
}

// =============================================================================
// Authority Repository
// =============================================================================

// AuthorityRepository exposes the seeded role vocabulary.
type AuthorityRepository interface {
	// List returns every authority name, sorted.
	List(ctx context.Context) ([]string, error)
}

// =============================================================================
// Social Connection Repository
// =============================================================================

// SocialConnectionRepository defines the interface for social connection data access.
type SocialConnectionRepository interface {
	// Add inserts the connection with rank = max(rank for login+provider) + 1.
	// Returns ErrConnectionAlreadyExists if the identity is already linked to the login.
	Add(ctx context.Context, conn *domain.SocialConnection) error

	// Update rewrites profile and token fields, preserving id and rank.
	Update(ctx context.Context, conn *domain.SocialConnection) error

	// Get retrieves the connection for one identity.
	Get(ctx context.Context, login, providerID, providerUserID string) (*domain.SocialConnection, error)

	// FindByLogin returns all connections ordered by provider, then rank.
	FindByLogin(ctx context.Context, login string) ([]*domain.SocialConnection, error)

	// FindByLoginAndProvider returns connections for one provider ordered by rank.
	FindByLoginAndProvider(ctx context.Context, login, providerID string) ([]*domain.SocialConnection, error)

	// Primary returns the lowest-ranked connection for a provider.
	Primary(ctx context.Context, login, providerID string) (*domain.SocialConnection, error)

	// Remove deletes one connection.
	Remove(ctx context.Context, login, providerID, providerUserID string) error

	// RemoveByProvider deletes every connection of the login for a provider.
	RemoveByProvider(ctx context.Context, login, providerID string) (int64, error)

	// DeleteByLogin deletes every connection of the login.
	DeleteByLogin(ctx context.Context, login string) (int64, error)
}

// =============================================================================
// Audit Event Repository
// =============================================================================

// AuditEventRepository defines the interface for audit event data access.
type AuditEventRepository interface {
	// Create persists the event and its data entries.
	Create(ctx context.Context, event *domain.AuditEvent) error

	// GetByID retrieves an event by ID.
	GetByID(ctx context.Context, id int64) (*domain.AuditEvent, error)

	// List returns events newest first.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.AuditEvent], error)

	// ListBetween returns events with from <= timestamp < to, newest first.
	ListBetween(ctx context.Context, from, to time.Time, opts ListOptions) (*ListResult[domain.AuditEvent], error)
}

// =============================================================================
// Common Types
// =============================================================================

// ListOptions contains common pagination options.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}
