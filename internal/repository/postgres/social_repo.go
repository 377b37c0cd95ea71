package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// socialConnectionRepository implements repository.SocialConnectionRepository.
type socialConnectionRepository struct {
	db *DB
}

// NewSocialConnectionRepository creates a new PostgreSQL social connection repository.
func NewSocialConnectionRepository(db *DB) repository.SocialConnectionRepository {
	return &socialConnectionRepository{db: db}
}

const socialColumns = `
	id, login, provider_id, provider_user_id, rank, display_name, profile_url, image_url,
	access_token, secret, refresh_token, expire_time
`

func scanConnection(row pgx.Row) (*domain.SocialConnection, error) {
	conn := &domain.SocialConnection{}

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
		&conn.ExpireTime,
	)
	if err != nil {
		return nil, err
	}

	if conn.ExpireTime != nil {
		t := conn.ExpireTime.UTC()
		conn.ExpireTime = &t
	}
	return conn, nil
}

// Add inserts the connection after the highest existing rank.
// The advisory lock serializes rank assignment per login and provider.
func (r *socialConnectionRepository) Add(ctx context.Context, conn *domain.SocialConnection) error {
	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`, conn.Login, conn.ProviderID)
		if err != nil {
			return fmt.Errorf("failed to lock connection rank: %w", err)
		}

		query := `
			INSERT INTO social_connections (
				login, provider_id, provider_user_id, rank, display_name, profile_url, image_url,
				access_token, secret, refresh_token, expire_time
			)
			SELECT $1::varchar, $2::varchar, $3::varchar, COALESCE(MAX(rank), 0) + 1,
			       $4::varchar, $5::varchar, $6::varchar, $7::text, $8::text, $9::text, $10::timestamptz
			FROM social_connections
			WHERE login = $1 AND provider_id = $2
			RETURNING id, rank
		`
		err = tx.QueryRow(ctx, query,
			conn.Login,
			conn.ProviderID,
			conn.ProviderUserID,
			conn.DisplayName,
			conn.ProfileURL,
			conn.ImageURL,
			conn.AccessToken,
			conn.Secret,
			conn.RefreshToken,
			conn.ExpireTime,
		).Scan(&conn.ID, &conn.Rank)
		if err != nil {
			if _, ok := constraintViolated(err); ok {
				return domain.NewDomainError(domain.ErrConnectionAlreadyExists, "", conn.ProviderID+":"+conn.ProviderUserID)
			}
			return fmt.Errorf("failed to add social connection: %w", err)
		}
		return nil
	})
}

// Update rewrites profile and token fields of an existing connection.
func (r *socialConnectionRepository) Update(ctx context.Context, conn *domain.SocialConnection) error {
	query := `
		UPDATE social_connections
		SET display_name = $1, profile_url = $2, image_url = $3,
		    access_token = $4, secret = $5, refresh_token = $6, expire_time = $7
		WHERE login = $8 AND provider_id = $9 AND provider_user_id = $10
		RETURNING id, rank
	`

	err := r.db.Pool.QueryRow(ctx, query,
		conn.DisplayName,
		conn.ProfileURL,
		conn.ImageURL,
		conn.AccessToken,
		conn.Secret,
		conn.RefreshToken,
		conn.ExpireTime,
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
		WHERE login = $1 AND provider_id = $2 AND provider_user_id = $3
	`
	return r.one(ctx, query, login, providerID, providerUserID)
}

// FindByLogin returns all connections ordered by provider, then rank.
func (r *socialConnectionRepository) FindByLogin(ctx context.Context, login string) ([]*domain.SocialConnection, error) {
	query := `SELECT ` + socialColumns + `
		FROM social_connections
		WHERE login = $1
		ORDER BY provider_id, rank
	`
	return r.query(ctx, query, login)
}

// FindByLoginAndProvider returns the login's connections to one provider.
func (r *socialConnectionRepository) FindByLoginAndProvider(ctx context.Context, login, providerID string) ([]*domain.SocialConnection, error) {
	query := `SELECT ` + socialColumns + `
		FROM social_connections
		WHERE login = $1 AND provider_id = $2
		ORDER BY rank
	`
	return r.query(ctx, query, login, providerID)
}

// Primary returns the lowest-ranked connection for a provider.
func (r *socialConnectionRepository) Primary(ctx context.Context, login, providerID string) (*domain.SocialConnection, error) {
	query := `SELECT ` + socialColumns + `
		FROM social_connections
		WHERE login = $1 AND provider_id = $2
		ORDER BY rank
		LIMIT 1
	`
	return r.one(ctx, query, login, providerID)
}

// Remove deletes one connection.
func (r *socialConnectionRepository) Remove(ctx context.Context, login, providerID, providerUserID string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM social_connections WHERE login = $1 AND provider_id = $2 AND provider_user_id = $3`,
		login, providerID, providerUserID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove social connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// RemoveByProvider deletes every connection of the login for a provider.
func (r *socialConnectionRepository) RemoveByProvider(ctx context.Context, login, providerID string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM social_connections WHERE login = $1 AND provider_id = $2`,
		login, providerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to remove social connections: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByLogin deletes every connection of the login.
func (r *socialConnectionRepository) DeleteByLogin(ctx context.Context, login string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM social_connections WHERE login = $1`, login)
	if err != nil {
		return 0, fmt.Errorf("failed to delete social connections: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *socialConnectionRepository) one(ctx context.Context, query string, args ...any) (*domain.SocialConnection, error) {
	conn, err := scanConnection(r.db.Pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrConnectionNotFound
		}
		return nil, fmt.Errorf("failed to get social connection: %w", err)
	}
	return conn, nil
}

func (r *socialConnectionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.SocialConnection, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
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
