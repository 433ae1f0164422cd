package userdir

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// PostgresCredentialChecker verifies username/password pairs against the
// users table's bcrypt hashes. Resolution and comparison are separate calls
// so the auth core can consult lockout state in between; a locked account
// never reaches Compare.
type PostgresCredentialChecker struct {
	pool *pgxpool.Pool
}

// NewPostgresCredentialChecker returns a checker backed by the given pool.
func NewPostgresCredentialChecker(pool *pgxpool.Pool) *PostgresCredentialChecker {
	return &PostgresCredentialChecker{pool: pool}
}

// Resolve maps username to its user id. An unknown or inactive username
// resolves to ""; it still pays one bcrypt comparison against a dummy hash
// so its timing stays close to a wrong-password attempt.
func (c *PostgresCredentialChecker) Resolve(ctx context.Context, username string) (string, error) {
	var id string
	err := c.pool.QueryRow(ctx,
		`SELECT id FROM users WHERE username = $1 AND status = 'active'`, username,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, dummyPassword)
			return "", nil
		}
		return "", fmt.Errorf("userdir: resolve %s: %w", username, err)
	}
	return id, nil
}

// Compare verifies password against userID's stored bcrypt hash. A user that
// disappeared between Resolve and Compare reads as a wrong password.
func (c *PostgresCredentialChecker) Compare(ctx context.Context, userID, password string) (bool, error) {
	var hash string
	err := c.pool.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE id = $1 AND status = 'active'`, userID,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("userdir: credentials %s: %w", userID, err)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

var (
	// dummyHash is a bcrypt hash of an unguessable value, compared against
	// when the username does not resolve.
	dummyHash     = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")
	dummyPassword = []byte("credential-timing-pad")
)
