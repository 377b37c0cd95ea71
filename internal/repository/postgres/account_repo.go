package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// accountRepository implements repository.AccountRepository.
type accountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(db *DB) repository.AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `
	a.id, a.login, a.password_hash, a.first_name, a.last_name, a.email, a.image_url, a.lang_key,
	a.activated, a.activation_key, a.reset_key, a.reset_date,
	a.created_by, a.created_date, a.last_modified_by, a.last_modified_date,
	COALESCE((SELECT array_agg(aa.authority_name ORDER BY aa.authority_name)
	          FROM account_authorities aa WHERE aa.account_id = a.id), '{}')
`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	account := &domain.Account{}
	var email, activationKey, resetKey *string

	err := row.Scan(
		&account.ID,
		&account.Login,
		&account.PasswordHash,
		&account.FirstName,
		&account.LastName,
		&email,
		&account.ImageURL,
		&account.LangKey,
		&account.Activated,
		&activationKey,
		&resetKey,
		&account.ResetDate,
		&account.CreatedBy,
		&account.CreatedDate,
		&account.LastModifiedBy,
		&account.LastModifiedDate,
		&account.Authorities,
	)
	if err != nil {
		return nil, err
	}

	account.Email = deref(email)
	account.ActivationKey = deref(activationKey)
	account.ResetKey = deref(resetKey)
	account.CreatedDate = account.CreatedDate.UTC()
	account.LastModifiedDate = account.LastModifiedDate.UTC()
	if account.ResetDate != nil {
		t := account.ResetDate.UTC()
		account.ResetDate = &t
	}

	return account, nil
}

func getOne(ctx context.Context, q Querier, where string, args ...any) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts a WHERE ` + where

	account, err := scanAccount(q.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// translateWriteError maps unique index violations to domain errors.
func translateWriteError(err error, account *domain.Account) error {
	constraint, ok := constraintViolated(err)
	if !ok {
		return err
	}
	switch constraint {
	case "ux_accounts_email":
		return domain.NewDomainError(domain.ErrEmailAlreadyUsed, "", account.Email)
	default:
		return domain.NewDomainError(domain.ErrLoginAlreadyUsed, "", account.Login)
	}
}

func insertAuthorities(ctx context.Context, tx pgx.Tx, accountID int64, names []string) error {
	for _, name := range names {
		if !domain.IsKnownAuthority(name) {
			return domain.NewDomainError(domain.ErrUnknownAuthority, "", name)
		}
	}
	if len(names) == 0 {
		return nil
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO account_authorities (account_id, authority_name)
		SELECT $1, unnest($2::varchar[])
		ON CONFLICT DO NOTHING
	`, accountID, names)
	if err != nil {
		return fmt.Errorf("failed to assign authorities: %w", err)
	}
	return nil
}

// Create inserts the account and its authorities.
func (r *accountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (
			login, password_hash, first_name, last_name, email, image_url, lang_key,
			activated, activation_key, reset_key, reset_date,
			created_by, created_date, last_modified_by, last_modified_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`

	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, query,
			account.Login,
			account.PasswordHash,
			account.FirstName,
			account.LastName,
			nullable(account.Email),
			account.ImageURL,
			account.LangKey,
			account.Activated,
			nullable(account.ActivationKey),
			nullable(account.ResetKey),
			account.ResetDate,
			account.CreatedBy,
			account.CreatedDate,
			account.LastModifiedBy,
			account.LastModifiedDate,
		).Scan(&id)
		if err != nil {
			if _, ok := constraintViolated(err); ok {
				return translateWriteError(err, account)
			}
			return fmt.Errorf("failed to create account: %w", err)
		}

		if err := insertAuthorities(ctx, tx, id, account.Authorities); err != nil {
			return err
		}

		account.ID = id
		return nil
	})
}

// GetByID retrieves an account by ID.
func (r *accountRepository) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	return getOne(ctx, r.db.Pool, `a.id = $1`, id)
}

// GetByLogin retrieves an account by login.
func (r *accountRepository) GetByLogin(ctx context.Context, login string) (*domain.Account, error) {
	return getOne(ctx, r.db.Pool, `lower(a.login) = $1`, domain.NormalizeLogin(login))
}

// GetByEmail retrieves an account by email.
func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return getOne(ctx, r.db.Pool, `lower(a.email) = $1`, domain.NormalizeEmail(email))
}

// Update writes the administrative fields and replaces the authority set.
// Password and reset columns are left as stored.
func (r *accountRepository) Update(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET login = $1, first_name = $2, last_name = $3, email = $4, image_url = $5, lang_key = $6,
		    activated = $7, activation_key = CASE WHEN $7 THEN NULL ELSE activation_key END,
		    last_modified_by = $8, last_modified_date = $9
		WHERE id = $10
	`

	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var previousLogin string
		err := tx.QueryRow(ctx, `SELECT login FROM accounts WHERE id = $1 FOR UPDATE`, account.ID).Scan(&previousLogin)
		if err != nil {
			if isNoRows(err) {
				return domain.ErrAccountNotFound
			}
			return fmt.Errorf("failed to load account: %w", err)
		}

		_, err = tx.Exec(ctx, query,
			account.Login,
			account.FirstName,
			account.LastName,
			nullable(account.Email),
			account.ImageURL,
			account.LangKey,
			account.Activated,
			account.LastModifiedBy,
			account.LastModifiedDate,
			account.ID,
		)
		if err != nil {
			if _, ok := constraintViolated(err); ok {
				return translateWriteError(err, account)
			}
			return fmt.Errorf("failed to update account: %w", err)
		}

		if previousLogin != account.Login {
			_, err = tx.Exec(ctx,
				`UPDATE social_connections SET login = $1 WHERE login = $2`,
				account.Login, previousLogin,
			)
			if err != nil {
				return fmt.Errorf("failed to move social connections: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM account_authorities WHERE account_id = $1`, account.ID); err != nil {
			return fmt.Errorf("failed to clear authorities: %w", err)
		}
		return insertAuthorities(ctx, tx, account.ID, account.Authorities)
	})
}

// UpdateProfile writes the self-service profile fields only.
func (r *accountRepository) UpdateProfile(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET first_name = $1, last_name = $2, email = $3, lang_key = $4, image_url = $5,
		    last_modified_by = $6, last_modified_date = $7
		WHERE id = $8
		RETURNING id
	`
	updated, err := r.updateReturning(ctx, domain.ErrAccountNotFound, query,
		account.FirstName,
		account.LastName,
		nullable(account.Email),
		account.LangKey,
		account.ImageURL,
		account.LastModifiedBy,
		account.LastModifiedDate,
		account.ID,
	)
	if _, ok := constraintViolated(err); ok {
		return nil, translateWriteError(err, account)
	}
	return updated, err
}

// UpdatePassword replaces the password hash only.
func (r *accountRepository) UpdatePassword(ctx context.Context, id int64, passwordHash, by string, at time.Time) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET password_hash = $1, last_modified_by = $2, last_modified_date = $3
		WHERE id = $4
		RETURNING id
	`
	return r.updateReturning(ctx, domain.ErrAccountNotFound, query, passwordHash, by, at, id)
}

// Delete removes the account and every social connection of its login.
func (r *accountRepository) Delete(ctx context.Context, login string) error {
	login = domain.NormalizeLogin(login)

	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM social_connections WHERE login = $1`, login); err != nil {
			return fmt.Errorf("failed to delete social connections: %w", err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM accounts WHERE lower(login) = $1`, login)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAccountNotFound
		}
		return nil
	})
}

// DeleteUnactivated removes the account only while it is still pending.
// An activation committed first always wins.
func (r *accountRepository) DeleteUnactivated(ctx context.Context, login string) (bool, error) {
	login = domain.NormalizeLogin(login)
	deleted := false

	err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM accounts WHERE lower(login) = $1 AND NOT activated`, login)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM social_connections WHERE login = $1`, login); err != nil {
			return fmt.Errorf("failed to delete social connections: %w", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// updateReturning runs a guarded UPDATE ... RETURNING id and reloads the row.
func (r *accountRepository) updateReturning(ctx context.Context, miss error, query string, args ...any) (*domain.Account, error) {
	var account *domain.Account

	err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var id int64
		if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			if isNoRows(err) {
				return miss
			}
			return fmt.Errorf("failed to update account: %w", err)
		}

		loaded, err := getOne(ctx, tx, `a.id = $1`, id)
		if err != nil {
			return err
		}
		account = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}

	return account, nil
}

// Activate consumes an activation key.
func (r *accountRepository) Activate(ctx context.Context, key string, at time.Time) (*domain.Account, error) {
	if key == "" {
		return nil, domain.ErrUnknownActivationKey
	}

	query := `
		UPDATE accounts
		SET activated = TRUE, activation_key = NULL, last_modified_by = login, last_modified_date = $1
		WHERE activation_key = $2 AND NOT activated
		RETURNING id
	`
	return r.updateReturning(ctx, domain.ErrUnknownActivationKey, query, at, key)
}

// IssueResetKey stores a reset key on an activated account.
func (r *accountRepository) IssueResetKey(ctx context.Context, email, key string, at time.Time) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET reset_key = $1, reset_date = $2, last_modified_date = $2
		WHERE lower(email) = $3 AND activated
		RETURNING id
	`
	return r.updateReturning(ctx, domain.ErrNoSuchActivatedAccount, query, key, at, domain.NormalizeEmail(email))
}

// CompleteReset replaces the password when the key is current.
func (r *accountRepository) CompleteReset(ctx context.Context, key string, notBefore time.Time, passwordHash string, at time.Time) (*domain.Account, error) {
	if key == "" {
		return nil, domain.ErrExpiredOrUnknownResetKey
	}

	query := `
		UPDATE accounts
		SET password_hash = $1, reset_key = NULL, reset_date = NULL, last_modified_date = $2
		WHERE reset_key = $3 AND reset_date >= $4
		RETURNING id
	`
	return r.updateReturning(ctx, domain.ErrExpiredOrUnknownResetKey, query, passwordHash, at, key, notBefore)
}

// ListUnactivatedBefore returns pending accounts created before cutoff.
func (r *accountRepository) ListUnactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + `
		FROM accounts a
		WHERE NOT a.activated AND a.created_date < $1
		ORDER BY a.created_date
		LIMIT $2
	`

	var lim any
	if limit > 0 {
		lim = limit
	}
	return r.queryAccounts(ctx, query, cutoff, lim)
}

// List returns accounts with pagination.
func (r *accountRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Account], error) {
	var total int64
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE login <> $1`, domain.AnonymousUser).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}

	var lim any
	if opts.Limit > 0 {
		lim = opts.Limit
	}

	query := `SELECT ` + accountColumns + `
		FROM accounts a
		WHERE a.login <> $1
		ORDER BY a.id
		LIMIT $2 OFFSET $3
	`
	accounts, err := r.queryAccounts(ctx, query, domain.AnonymousUser, lim, opts.Offset)
	if err != nil {
		return nil, err
	}

	return &repository.ListResult[domain.Account]{
		Items:  accounts,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

func (r *accountRepository) queryAccounts(ctx context.Context, query string, args ...any) ([]*domain.Account, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Ensure accountRepository implements repository.AccountRepository.
var _ repository.AccountRepository = (*accountRepository)(nil)
