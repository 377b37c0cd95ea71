package sqlite

import (
	"context"
	"fmt"

	"github.com/prn-tf/blog-accounts/internal/repository"
)

// authorityRepository implements repository.AuthorityRepository for SQLite.
type authorityRepository struct {
	db *DB
}

// NewAuthorityRepository creates a new SQLite authority repository.
func NewAuthorityRepository(db *DB) repository.AuthorityRepository {
	return &authorityRepository{db: db}
}

// List returns every authority name, sorted.
func (r *authorityRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM authorities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorities: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan authority: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating authorities: %w", err)
	}

	return names, nil
}

var _ repository.AuthorityRepository = (*authorityRepository)(nil)
