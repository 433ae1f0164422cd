package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"auth-session-core/internal/lockout/domain"
)

// PostgresRepository stores one lockout row per user. All writes are single
// statements, so per-user atomicity comes from the row lock alone.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a lockout repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const lockoutColumns = `user_id, failed_count, window_start, locked_until, lockout_count, updated_at`

// Get returns the user's record, or nil if the user has no row yet.
func (r *PostgresRepository) Get(ctx context.Context, userID string) (*domain.Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+lockoutColumns+` FROM lockout_records WHERE user_id = $1`, userID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lockout: get: %w", err)
	}
	return rec, nil
}

// IncrementFailure is a single upsert so concurrent failures serialize on the
// row: insert a fresh window of count 1, or bump the existing count, or
// restart the window when it began before windowCutoff.
func (r *PostgresRepository) IncrementFailure(ctx context.Context, userID string, at, windowCutoff time.Time) (*domain.Record, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO lockout_records (user_id, failed_count, window_start, locked_until, lockout_count, updated_at)
		VALUES ($1, 1, $2, NULL, 0, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			failed_count = CASE WHEN lockout_records.window_start <= $3 THEN 1
			                    ELSE lockout_records.failed_count + 1 END,
			window_start = CASE WHEN lockout_records.window_start <= $3 THEN $2
			                    ELSE lockout_records.window_start END,
			updated_at = $2
		RETURNING `+lockoutColumns,
		userID, at, windowCutoff)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("lockout: increment: %w", err)
	}
	return rec, nil
}

// SetLocked locks the user until lockedUntil and charges one lifetime
// lockout. The WHERE clause makes the transition conditional: a row already
// holding a live lock is left alone and false is returned.
func (r *PostgresRepository) SetLocked(ctx context.Context, userID string, lockedUntil, at time.Time) (bool, error) {
	ct, err := r.pool.Exec(ctx, `
		UPDATE lockout_records
		SET locked_until = $2, lockout_count = lockout_count + 1, failed_count = 0, updated_at = $3
		WHERE user_id = $1 AND (locked_until IS NULL OR locked_until <= $3)`,
		userID, lockedUntil, at)
	if err != nil {
		return false, fmt.Errorf("lockout: set locked: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// Unlock lifts the lock and resets the window, keeping the lifetime lockout
// count for escalation.
func (r *PostgresRepository) Unlock(ctx context.Context, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE lockout_records
		SET locked_until = NULL, failed_count = 0, window_start = $2, updated_at = $2
		WHERE user_id = $1`,
		userID, at)
	if err != nil {
		return fmt.Errorf("lockout: unlock: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*domain.Record, error) {
	var rec domain.Record
	if err := row.Scan(
		&rec.UserID, &rec.FailedCount, &rec.WindowStart,
		&rec.LockedUntil, &rec.LockoutCount, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}
