package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/blog-accounts/internal/repository"
)

// authorityRepository implements repository.AuthorityRepository.
type authorityRepository struct {
	db *DB
}

// NewAuthorityRepository creates a new PostgreSQL authority repository.
func NewAuthorityRepository(db *DB) repository.AuthorityRepository {
	return &authorityRepository{db: db}
}

// List returns every authority name, sorted.
func (r *authorityRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT name FROM authorities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorities: %w", err)
	}

	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan authorities: %w", err)
	}
	return names, nil
}

var _ repository.AuthorityRepository = (*authorityRepository)(nil)
