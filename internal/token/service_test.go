package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"auth-session-core/internal/autherr"
	"auth-session-core/internal/clock"
	"auth-session-core/internal/security"
	"auth-session-core/internal/token/revocation"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	provider, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	return NewService(provider, revocation.NewMemory(clock.System{}), clock.System{}, 15*time.Minute, 24*time.Hour)
}

func TestIssue_FreshPair(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	pair, err := svc.Issue(ctx, "user-1", "member")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessJTI == pair.RefreshJTI {
		t.Error("access and refresh must carry distinct jtis")
	}
	if !pair.AccessExpiresAt.Before(pair.RefreshExpiresAt) {
		t.Error("access expiry must precede refresh expiry")
	}

	claims, err := svc.Verify(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Verify access: %v", err)
	}
	if claims.Subject != "user-1" || claims.Type != security.TokenTypeAccess {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestVerify_RevokedAlwaysRejected(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	pair, _ := svc.Issue(ctx, "user-1", "member")
	if err := svc.Revoke(ctx, pair.AccessJTI, pair.AccessExpiresAt); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	// Repeated revocation is fine.
	if err := svc.Revoke(ctx, pair.AccessJTI, pair.AccessExpiresAt); err != nil {
		t.Fatalf("Revoke again: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.Verify(ctx, pair.AccessToken); !errors.Is(err, autherr.ErrTokenRevoked) {
			t.Fatalf("Verify #%d: got %v, want ErrTokenRevoked", i, err)
		}
	}
	// The refresh token is untouched.
	if _, err := svc.Verify(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
}

func TestRotate_InvalidatesPredecessor(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	pair, _ := svc.Issue(ctx, "user-1", "admin")
	next, old, err := svc.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if old.JTI != pair.RefreshJTI {
		t.Errorf("old claims jti = %q, want %q", old.JTI, pair.RefreshJTI)
	}
	if next.RefreshJTI == pair.RefreshJTI {
		t.Error("rotation must mint a new refresh jti")
	}
	claims, err := svc.Verify(ctx, next.RefreshToken)
	if err != nil {
		t.Fatalf("Verify rotated refresh: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "admin" {
		t.Errorf("rotation must preserve subject and role, got %+v", claims)
	}

	// Replaying the consumed refresh token is the attack this detects.
	if _, _, err := svc.Rotate(ctx, pair.RefreshToken); !errors.Is(err, autherr.ErrTokenRevoked) {
		t.Fatalf("replayed Rotate: got %v, want ErrTokenRevoked", err)
	}
}

func TestRotate_RejectsAccessToken(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	pair, _ := svc.Issue(ctx, "user-1", "member")
	if _, _, err := svc.Rotate(ctx, pair.AccessToken); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Fatalf("Rotate with access token: got %v, want ErrTokenInvalid", err)
	}
}

func TestVerify_ExpiredBeatsRevoked(t *testing.T) {
	ctx := context.Background()
	provider, _ := security.NewTestTokenProvider()
	svc := NewService(provider, revocation.NewMemory(clock.System{}), clock.System{}, -time.Minute, 24*time.Hour)

	pair, err := svc.Issue(ctx, "user-1", "member")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Verify(ctx, pair.AccessToken); !errors.Is(err, autherr.ErrTokenExpired) {
		t.Fatalf("Verify: got %v, want ErrTokenExpired", err)
	}
}
