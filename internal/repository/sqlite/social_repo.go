package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// socialConnectionRepository implements repository.SocialConnectionRepository for SQLite.
type socialConnectionRepository struct {
	db *DB
}

// NewSocialConnectionRepository creates a new SQLite social connection repository.
func NewSocialConnectionRepository(db *DB) repository.SocialConnectionRepository {
	return &socialConnectionRepository{db: db}
}

const socialColumns = `
	id, login, provider_id, provider_user_id, rank, display_name, profile_url, image_url,
	access_token, secret, refresh_token, expire_time
`

func scanConnection(row rowScanner) (*domain.SocialConnection, error) {
	conn := &domain.SocialConnection{}
	var expireTime sql.NullString

	err := row.Scan(
		&conn.ID,
		&conn.Login,
		&conn.ProviderID,
		&conn.ProviderUserID,
		&conn.Rank,
		&conn.DisplayName,
		&conn.ProfileURL,
		&conn.ImageURL,
		&conn.AccessToken,
		&conn.Secret,
		&conn.RefreshToken,
		&expireTime,
	)
	if err != nil {
		return nil, err
	}

	conn.ExpireTime = scanNullTime(expireTime)
	return conn, nil
}

// Add inserts the connection after the highest existing rank.
func (r *socialConnectionRepository) Add(ctx context.Context, conn *domain.SocialConnection) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var rank int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(rank), 0) + 1 FROM social_connections WHERE login = ? AND provider_id = ?`,
			conn.Login, conn.ProviderID,
		).Scan(&rank)
		if err != nil {
			return fmt.Errorf("failed to compute connection rank: %w", err)
		}

		query := `
			INSERT INTO social_connections (
				login, provider_id, provider_user_id, rank, display_name, profile_url, image_url,
				access_token, secret, refresh_token, expire_time
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		result, err := tx.ExecContext(ctx, query,
			conn.Login,
			conn.ProviderID,
			conn.ProviderUserID,
			rank,
			conn.DisplayName,
			conn.ProfileURL,
			conn.ImageURL,
			conn.AccessToken,
			conn.Secret,
			conn.RefreshToken,
			nullTime(conn.ExpireTime),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.NewDomainError(domain.ErrConnectionAlreadyExists, "", conn.ProviderID+":"+conn.ProviderUserID)
			}
			return fmt.Errorf("failed to add social connection: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}

		conn.ID = id
		conn.Rank = rank
		return nil
	})
}

// Update rewrites profile and token fields of an existing connection.
func (r *socialConnectionRepository) Update(ctx context.Context, conn *domain.SocialConnection) error {
	query := `
		UPDATE social_connections
		SET display_name = ?, profile_url = ?, image_url = ?,
		    access_token = ?, secret = ?, refresh_token = ?, expire_time = ?
		WHERE login = ? AND provider_id = ? AND provider_user_id = ?
		RETURNING id, rank
	`

	err := r.db.QueryRowContext(ctx, query,
		conn.DisplayName,
		conn.ProfileURL,
		conn.ImageURL,
		conn.AccessToken,
		conn.Secret,
		conn.RefreshToken,
		nullTime(conn.ExpireTime),
		conn.Login,
		conn.ProviderID,
		conn.ProviderUserID,
	).Scan(&conn.ID, &conn.Rank)
	if err != nil {
		if isNoRows(err) {
			return domain.ErrConnectionNotFound
		}
		return fmt.Errorf("failed to update social connection: %w", err)
	}

	return nil
}

// Get retrieves the connection for one identity.
func (r *socialConnectionRepository) Get(ctx context.Context, login, providerID, providerUserID string) (*domain.SocialConnection, error) {
	query := `SELECT ` + socialColumns + `
		FROM social_connections
		WHERE login = ? AND provider_id = ? AND provider_user_id = ?
	`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, login, providerID, providerUserID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get social connection: %w", err)
	}
	return conn, nil
}

// FindByLogin returns all connections ordered by provider, then rank.
func (r *socialConnectionRepository) FindByLogin(ctx context.Context, login string) ([]*domain.SocialConnection, error) {
	query := `SELECT ` + socialColumns + `
		FROM social_connections
		WHERE login = ?
		ORDER BY provider_id, rank
	`
	return r.query(ctx, query, login)
}

// FindByLoginAndProvider returns the login's connections to one provider.
func (r *socialConnectionRepository) FindByLoginAndProvider(ctx context.Context, login, providerID string) ([]*domain.SocialConnection, error) {
	query := `SELECT ` + socialColumns + `
		FROM social_connections
		WHERE login = ? AND provider_id = ?
		ORDER BY rank
	`
	return r.query(ctx, query, login, providerID)
}

// Primary returns the lowest-ranked connection for a provider.
func (r *socialConnectionRepository) Primary(ctx context.Context, login, providerID string) (*domain.SocialConnection, error) {
	query := `SELECT ` + socialColumns + `
		FROM social_connections
		WHERE login = ? AND provider_id = ?
		ORDER BY rank
		LIMIT 1
	`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, login, providerID))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get primary connection: %w", err)
	}
	return conn, nil
}

// Remove deletes one connection.
func (r *socialConnectionRepository) Remove(ctx context.Context, login, providerID, providerUserID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM social_connections WHERE login = ? AND provider_id = ? AND provider_user_id = ?`,
		login, providerID, providerUserID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove social connection: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// RemoveByProvider deletes every connection of the login for a provider.
func (r *socialConnectionRepository) RemoveByProvider(ctx context.Context, login, providerID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM social_connections WHERE login = ? AND provider_id = ?`,
		login, providerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to remove social connections: %w", err)
	}
	return result.RowsAffected()
}

// DeleteByLogin deletes every connection of the login.
func (r *socialConnectionRepository) DeleteByLogin(ctx context.Context, login string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM social_connections WHERE login = ?`, login)
	if err != nil {
		return 0, fmt.Errorf("failed to delete social connections: %w", err)
	}
	return result.RowsAffected()
}

func (r *socialConnectionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.SocialConnection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list social connections: %w", err)
	}
	defer rows.Close()

	var conns []*domain.SocialConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan social connection: %w", err)
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating social connections: %w", err)
	}

	return conns, nil
}

var _ repository.SocialConnectionRepository = (*socialConnectionRepository)(nil)
