// Package token issues, verifies, rotates, and revokes the signed bearer
// tokens of the auth core. Signing lives in internal/security; this package
// adds lifetimes and the revocation set.
package token

import (
	"context"
	"fmt"
	"time"

	"auth-session-core/internal/autherr"
	"auth-session-core/internal/clock"
	"auth-session-core/internal/security"
	"auth-session-core/internal/token/revocation"
)

// Pair is a freshly issued access/refresh token pair. The refresh jti is the
// session id for the session the pair belongs to.
type Pair struct {
	AccessToken      string
	AccessJTI        string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshJTI       string
	RefreshExpiresAt time.Time
}

// Service issues and verifies tokens and owns the revocation set.
type Service struct {
	provider    *security.TokenProvider
	revocations revocation.Store
	clk         clock.Clock
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

// NewService returns a token Service. accessTTL should be much shorter than
// refreshTTL (minutes vs. days); both are policy, supplied by config.
func NewService(provider *security.TokenProvider, revocations revocation.Store, clk clock.Clock, accessTTL, refreshTTL time.Duration) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		provider:    provider,
		revocations: revocations,
		clk:         clk,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
	}
}

// Issue generates a fresh access/refresh pair for subject with the given role.
// No session is created here; that is the caller's responsibility.
func (s *Service) Issue(ctx context.Context, subject, role string) (*Pair, error) {
	access, accessJTI, accessExp, err := s.provider.Issue(subject, role, security.TokenTypeAccess, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, refreshJTI, refreshExp, err := s.provider.Issue(subject, role, security.TokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		AccessJTI:        accessJTI,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshJTI:       refreshJTI,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Verify validates signature and expiry and consults the revocation set.
// Returns autherr.ErrTokenExpired, ErrTokenInvalid, or ErrTokenRevoked.
func (s *Service) Verify(ctx context.Context, raw string) (*security.Claims, error) {
	claims, err := s.provider.Parse(raw)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return nil, fmt.Errorf("%w: revocation check: %v", autherr.ErrInternal, err)
	}
	if revoked {
		return nil, autherr.ErrTokenRevoked
	}
	return claims, nil
}

// Rotate verifies oldRefresh, revokes its jti, and issues a new pair bound to
// the same subject and role. Rotating an already-revoked token fails with
// ErrTokenRevoked, which is how refresh-token replay is detected. The old
// claims are returned so the caller can rebind its session record.
func (s *Service) Rotate(ctx context.Context, oldRefresh string) (*Pair, *security.Claims, error) {
	claims, err := s.Verify(ctx, oldRefresh)
	if err != nil {
		return nil, nil, err
	}
	if claims.Type != security.TokenTypeRefresh {
		return nil, nil, autherr.ErrTokenInvalid
	}
	if err := s.Revoke(ctx, claims.JTI, claims.ExpiresAt); err != nil {
		return nil, nil, err
	}
	pair, err := s.Issue(ctx, claims.Subject, claims.Role)
	if err != nil {
		return nil, nil, err
	}
	return pair, claims, nil
}

// Inspect parses raw without consulting the revocation set. Used to attribute
// a replayed token to its subject after Verify has already rejected it; never
// a substitute for Verify on a request path.
func (s *Service) Inspect(raw string) (*security.Claims, error) {
	return s.provider.Parse(raw)
}

// Revoke adds jti to the revocation set until expiresAt; idempotent. The TTL
// matches the token's remaining lifetime so the set stays bounded.
func (s *Service) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.clk.Now())
	if err := s.revocations.Revoke(ctx, jti, ttl); err != nil {
		return fmt.Errorf("%w: revoke %s: %v", autherr.ErrInternal, jti, err)
	}
	return nil
}

// AccessTTL reports the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }
