package repository

import (
	"context"
	"time"

	"auth-session-core/internal/session/domain"
)

// Repository is the persistence contract for sessions. Lookups return
// (nil, nil) for missing rows; errors are reserved for store failures.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	GetByAccessJTI(ctx context.Context, jti string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	MarkInactive(ctx context.Context, id string) error
	UpdateLastActivity(ctx context.Context, id string, at time.Time) error
	// Rekey rebinds the session to a rotated token pair: new id (refresh jti),
	// access jti, refresh hash, and expiry, touching last activity.
	Rekey(ctx context.Context, oldID, newID, newAccessJTI, newRefreshHash string, newExpiresAt, at time.Time) error
	// DeleteExpiredBefore batch-deletes up to limit sessions whose expiry
	// precedes cutoff. Live request paths never see these rows.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}
