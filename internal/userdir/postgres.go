package userdir

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads the users table maintained by the surrounding
// system. The auth core treats it as read-only.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory returns a Directory backed by the given pool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// UserExists reports whether an active user row exists for id.
func (d *PostgresDirectory) UserExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND status = 'active')`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("userdir: exists %s: %w", id, err)
	}
	return exists, nil
}

// GetRole returns the role for id, or RoleMember when the row has none.
// A missing user yields an empty role and no error; callers gate on UserExists.
func (d *PostgresDirectory) GetRole(ctx context.Context, id string) (Role, error) {
	var role string
	err := d.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, id).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("userdir: role %s: %w", id, err)
	}
	if role == "" {
		return RoleMember, nil
	}
	return Role(role), nil
}
