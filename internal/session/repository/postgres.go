package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"auth-session-core/internal/session/domain"
)

// PostgresRepository persists sessions in Postgres. Per-key atomicity comes
// from row-level statements; it never takes table-wide locks.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a session repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const sessionColumns = `id, user_id, platform, browser, raw_agent, ip_address,
	issued_at, expires_at, last_activity, active, access_jti, refresh_token_hash, anti_forgery_hash`

// Create persists the session. The session must have ID set (= refresh jti).
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.UserID, s.Device.Platform, s.Device.Browser, s.Device.RawAgent, s.IPAddress,
		s.IssuedAt, s.ExpiresAt, s.LastActivity, s.Active, s.AccessJTI, s.RefreshTokenHash, s.AntiForgeryHash,
	)
	if err != nil {
		return fmt.Errorf("session: insert: %w", err)
	}
	return nil
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	return r.getWhere(ctx, "id = $1", id)
}

// GetByAccessJTI returns the session holding the given access token jti, or nil.
func (r *PostgresRepository) GetByAccessJTI(ctx context.Context, jti string) (*domain.Session, error) {
	return r.getWhere(ctx, "access_jti = $1", jti)
}

func (r *PostgresRepository) getWhere(ctx context.Context, where string, arg any) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE `+where, arg)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: get: %w", err)
	}
	return s, nil
}

// ListActiveByUser returns the user's active sessions ordered by last
// activity, oldest first, so the head is the eviction candidate.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND active
		ORDER BY last_activity ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("session: list active: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("session: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkInactive flips the session's active flag; no-op for missing rows.
func (r *PostgresRepository) MarkInactive(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("session: mark inactive: %w", err)
	}
	return nil
}

// UpdateLastActivity touches the session's last-activity timestamp.
func (r *PostgresRepository) UpdateLastActivity(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_activity = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("session: touch: %w", err)
	}
	return nil
}

// Rekey atomically rebinds the session row to the rotated token pair.
func (r *PostgresRepository) Rekey(ctx context.Context, oldID, newID, newAccessJTI, newRefreshHash string, newExpiresAt, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET id = $2, access_jti = $3, refresh_token_hash = $4, expires_at = $5, last_activity = $6
		WHERE id = $1 AND active`,
		oldID, newID, newAccessJTI, newRefreshHash, newExpiresAt, at,
	)
	if err != nil {
		return fmt.Errorf("session: rekey: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session: rekey: no live session %s", oldID)
	}
	return nil
}

// DeleteExpiredBefore batch-deletes expired sessions. The ctid subquery keeps
// each statement bounded so the sweep never holds long row locks.
func (r *PostgresRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sessions
		WHERE ctid IN (
			SELECT ctid FROM sessions WHERE expires_at < $1 LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("session: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.Device.Platform, &s.Device.Browser, &s.Device.RawAgent, &s.IPAddress,
		&s.IssuedAt, &s.ExpiresAt, &s.LastActivity, &s.Active, &s.AccessJTI, &s.RefreshTokenHash, &s.AntiForgeryHash,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
