package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// accountRepository implements repository.AccountRepository for SQLite.
type accountRepository struct {
	db *DB
}

// NewAccountRepository creates a new SQLite account repository.
func NewAccountRepository(db *DB) repository.AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `
	a.id, a.login, a.password_hash, a.first_name, a.last_name, a.email, a.image_url, a.lang_key,
	a.activated, a.activation_key, a.reset_key, a.reset_date,
	a.created_by, a.created_date, a.last_modified_by, a.last_modified_date,
	COALESCE((SELECT group_concat(aa.authority_name, ',') FROM account_authorities aa WHERE aa.account_id = a.id), '')
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	account := &domain.Account{}
	var (
		email, activationKey, resetKey, resetDate sql.NullString
		activated                                 int
		createdDate, modifiedDate, authorities    string
	)

	err := row.Scan(
		&account.ID,
		&account.Login,
		&account.PasswordHash,
		&account.FirstName,
		&account.LastName,
		&email,
		&account.ImageURL,
		&account.LangKey,
		&activated,
		&activationKey,
		&resetKey,
		&resetDate,
		&account.CreatedBy,
		&createdDate,
		&account.LastModifiedBy,
		&modifiedDate,
		&authorities,
	)
	if err != nil {
		return nil, err
	}

	account.Email = email.String
	account.Activated = activated != 0
	account.ActivationKey = activationKey.String
	account.ResetKey = resetKey.String
	account.ResetDate = scanNullTime(resetDate)
	account.CreatedDate = parseTime(createdDate)
	account.LastModifiedDate = parseTime(modifiedDate)
	account.Authorities = splitAuthorities(authorities)

	return account, nil
}

func splitAuthorities(s string) []string {
	if s == "" {
		return []string{}
	}
	names := strings.Split(s, ",")
	sort.Strings(names)
	return names
}

// getOne loads a single account matching the where clause.
func getOne(ctx context.Context, q querier, where string, args ...any) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts a WHERE ` + where

	account, err := scanAccount(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// translateWriteError maps unique violations to domain errors.
func translateWriteError(err error, account *domain.Account) error {
	switch {
	case violatesColumn(err, "accounts.login"):
		return domain.NewDomainError(domain.ErrLoginAlreadyUsed, "", account.Login)
	case violatesColumn(err, "accounts.email"):
		return domain.NewDomainError(domain.ErrEmailAlreadyUsed, "", account.Email)
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", domain.ErrLoginAlreadyUsed, err)
	}
	return err
}

func insertAuthorities(ctx context.Context, tx *sql.Tx, accountID int64, names []string) error {
	for _, name := range names {
		if !domain.IsKnownAuthority(name) {
			return domain.NewDomainError(domain.ErrUnknownAuthority, "", name)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO account_authorities (account_id, authority_name) VALUES (?, ?)`,
			accountID, name,
		)
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return fmt.Errorf("failed to assign authority %s: %w", name, err)
		}
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			account.Login,
			account.PasswordHash,
			account.FirstName,
			account.LastName,
			nullString(account.Email),
			account.ImageURL,
			account.LangKey,
			boolToInt(account.Activated),
			nullString(account.ActivationKey),
			nullString(account.ResetKey),
			nullTime(account.ResetDate),
			account.CreatedBy,
			formatTime(account.CreatedDate),
			account.LastModifiedBy,
			formatTime(account.LastModifiedDate),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return translateWriteError(err, account)
			}
			return fmt.Errorf("failed to create account: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
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
	return getOne(ctx, r.db, `a.id = ?`, id)
}

// GetByLogin retrieves an account by login.
func (r *accountRepository) GetByLogin(ctx context.Context, login string) (*domain.Account, error) {
	return getOne(ctx, r.db, `a.login = ?`, domain.NormalizeLogin(login))
}

// GetByEmail retrieves an account by email.
func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return getOne(ctx, r.db, `a.email = ?`, domain.NormalizeEmail(email))
}

// Update writes the administrative fields and replaces the authority set.
// Password and reset columns are left as stored.
func (r *accountRepository) Update(ctx context.Context, account *domain.Account) error {
	query := `
		UPDATE accounts
		SET login = ?, first_name = ?, last_name = ?, email = ?, image_url = ?, lang_key = ?,
		    activated = ?, activation_key = CASE WHEN ? = 1 THEN NULL ELSE activation_key END,
		    last_modified_by = ?, last_modified_date = ?
		WHERE id = ?
	`

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var previousLogin string
		err := tx.QueryRowContext(ctx, `SELECT login FROM accounts WHERE id = ?`, account.ID).Scan(&previousLogin)
		if err != nil {
			if isNoRows(err) {
				return domain.ErrAccountNotFound
			}
			return fmt.Errorf("failed to load account: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			account.Login,
			account.FirstName,
			account.LastName,
			nullString(account.Email),
			account.ImageURL,
			account.LangKey,
			boolToInt(account.Activated),
			boolToInt(account.Activated),
			account.LastModifiedBy,
			formatTime(account.LastModifiedDate),
			account.ID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return translateWriteError(err, account)
			}
			return fmt.Errorf("failed to update account: %w", err)
		}

		if previousLogin != account.Login {
			_, err = tx.ExecContext(ctx,
				`UPDATE social_connections SET login = ? WHERE login = ?`,
				account.Login, previousLogin,
			)
			if err != nil {
				return fmt.Errorf("failed to move social connections: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM account_authorities WHERE account_id = ?`, account.ID); err != nil {
			return fmt.Errorf("failed to clear authorities: %w", err)
		}
		return insertAuthorities(ctx, tx, account.ID, account.Authorities)
	})
}

// UpdateProfile writes the self-service profile fields only.
func (r *accountRepository) UpdateProfile(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET first_name = ?, last_name = ?, email = ?, lang_key = ?, image_url = ?,
		    last_modified_by = ?, last_modified_date = ?
		WHERE id = ?
		RETURNING id
	`
	updated, err := r.updateReturning(ctx, domain.ErrAccountNotFound, query,
		account.FirstName,
		account.LastName,
		nullString(account.Email),
		account.LangKey,
		account.ImageURL,
		account.LastModifiedBy,
		formatTime(account.LastModifiedDate),
		account.ID,
	)
	if err != nil && isUniqueViolation(err) {
		return nil, translateWriteError(err, account)
	}
	return updated, err
}

// UpdatePassword replaces the password hash only.
func (r *accountRepository) UpdatePassword(ctx context.Context, id int64, passwordHash, by string, at time.Time) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET password_hash = ?, last_modified_by = ?, last_modified_date = ?
		WHERE id = ?
		RETURNING id
	`
	return r.updateReturning(ctx, domain.ErrAccountNotFound, query, passwordHash, by, formatTime(at), id)
}

// Delete removes the account and every social connection of its login.
func (r *accountRepository) Delete(ctx context.Context, login string) error {
	login = domain.NormalizeLogin(login)

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM social_connections WHERE login = ?`, login); err != nil {
			return fmt.Errorf("failed to delete social connections: %w", err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE login = ?`, login)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}

		rowsAffected, _ := result.RowsAffected()
		if rowsAffected == 0 {
			return domain.ErrAccountNotFound
		}
		return nil
	})
}

// DeleteUnactivated removes the account only while it is still pending.
// The activation check and the delete are one statement, so an activation
// committed first always wins.
func (r *accountRepository) DeleteUnactivated(ctx context.Context, login string) (bool, error) {
	login = domain.NormalizeLogin(login)
	deleted := false

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE login = ? AND activated = 0`, login)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM social_connections WHERE login = ?`, login); err != nil {
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
// A guard that matches nothing yields miss.
func (r *accountRepository) updateReturning(ctx context.Context, miss error, query string, args ...any) (*domain.Account, error) {
	var account *domain.Account

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var id int64
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			if isNoRows(err) {
				return miss
			}
			return fmt.Errorf("failed to update account: %w", err)
		}

		loaded, err := getOne(ctx, tx, `a.id = ?`, id)
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
		SET activated = 1, activation_key = NULL, last_modified_by = login, last_modified_date = ?
		WHERE activation_key = ? AND activated = 0
		RETURNING id
	`
	return r.updateReturning(ctx, domain.ErrUnknownActivationKey, query, formatTime(at), key)
}

// IssueResetKey stores a reset key on an activated account.
func (r *accountRepository) IssueResetKey(ctx context.Context, email, key string, at time.Time) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET reset_key = ?, reset_date = ?, last_modified_date = ?
		WHERE email = ? AND activated = 1
		RETURNING id
	`
	return r.updateReturning(ctx, domain.ErrNoSuchActivatedAccount, query,
		key, formatTime(at), formatTime(at), domain.NormalizeEmail(email),
	)
}

// CompleteReset replaces the password when the key is current.
func (r *accountRepository) CompleteReset(ctx context.Context, key string, notBefore time.Time, passwordHash string, at time.Time) (*domain.Account, error) {
	if key == "" {
		return nil, domain.ErrExpiredOrUnknownResetKey
	}

	query := `
		UPDATE accounts
		SET password_hash = ?, reset_key = NULL, reset_date = NULL, last_modified_date = ?
		WHERE reset_key = ? AND reset_date >= ?
		RETURNING id
	`
	return r.updateReturning(ctx, domain.ErrExpiredOrUnknownResetKey, query,
		passwordHash, formatTime(at), key, formatTime(notBefore),
	)
}

// ListUnactivatedBefore returns pending accounts created before cutoff.
func (r *accountRepository) ListUnactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT ` + accountColumns + `
		FROM accounts a
		WHERE a.activated = 0 AND a.created_date < ?
		ORDER BY a.created_date
		LIMIT ?
	`

	return r.queryAccounts(ctx, query, formatTime(cutoff), limit)
}

// List returns accounts with pagination.
func (r *accountRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.Account], error) {
	var total int64
	countQuery := `SELECT COUNT(*) FROM accounts WHERE login <> ?`
	if err := r.db.QueryRowContext(ctx, countQuery, domain.AnonymousUser).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT ` + accountColumns + `
		FROM accounts a
		WHERE a.login <> ?
		ORDER BY a.id
		LIMIT ? OFFSET ?
	`

	accounts, err := r.queryAccounts(ctx, query, domain.AnonymousUser, limit, opts.Offset)
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
	rows, err := r.db.QueryContext(ctx, query, args...)
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

// Ensure accountRepository implements repository.AccountRepository.
var _ repository.AccountRepository = (*accountRepository)(nil)
