package repository

import (
	"context"
	"time"

	"github.com/prn-tf/blog-accounts/internal/domain"
)

// AccountStore is the single write path for accounts. Every mutating method
// persists the change and evicts the cached lookup of each login it touched
// before returning. Lookups return found=false instead of a not-found error.
type AccountStore interface {
	// Lookup returns the account for login, served from cache when possible.
	Lookup(ctx context.Context, login string) (*domain.Account, bool, error)

	// FindByID returns the account with the given id.
	FindByID(ctx context.Context, id int64) (*domain.Account, bool, error)

	// FindByEmail returns the account holding the email address.
	FindByEmail(ctx context.Context, email string) (*domain.Account, bool, error)

	// List returns accounts with pagination.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.Account], error)

	// ListUnactivatedBefore returns sweep candidates.
	ListUnactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error)

	// Create inserts a new account.
	Create(ctx context.Context, account *domain.Account) error

	// Save writes the administrative fields of an existing account.
	// A changed login evicts both logins.
	Save(ctx context.Context, account *domain.Account) error

	// SaveProfile writes the self-service profile fields of an account.
	SaveProfile(ctx context.Context, account *domain.Account) (*domain.Account, error)

	// ChangePassword replaces the password hash of the account with id.
	ChangePassword(ctx context.Context, id int64, passwordHash, by string, at time.Time) (*domain.Account, error)

	// Delete removes the account and its social connections.
	Delete(ctx context.Context, login string) error

	// DeleteUnactivated removes a pending account. It reports false and
	// changes nothing when the account is missing or already activated.
	DeleteUnactivated(ctx context.Context, login string) (bool, error)

	// Activate consumes an activation key.
	Activate(ctx context.Context, key string, at time.Time) (*domain.Account, error)

	// IssueResetKey starts a password reset for an activated account.
	IssueResetKey(ctx context.Context, email, key string, at time.Time) (*domain.Account, error)

	// CompleteReset finishes a password reset issued at or after notBefore.
	CompleteReset(ctx context.Context, key string, notBefore time.Time, passwordHash string, at time.Time) (*domain.Account, error)
}
