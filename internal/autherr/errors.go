// Package autherr defines the shared error taxonomy for the auth core.
// Every kind except ErrInternal is an expected, client-meaningful outcome;
// callers branch on them with errors.Is and must not treat them as faults.
package autherr

import "errors"

var (
	// ErrTokenExpired is returned when a token's expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned when a token's signature or structure is invalid.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenRevoked is returned when a token's jti is in the revocation set.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrSessionNotFound is returned when no session exists for a token's jti.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a session is past expiry or inactive.
	ErrSessionExpired = errors.New("session expired")
	// ErrAccountLocked is returned for attempts against a locked account,
	// before any credential comparison takes place.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimitExceeded is returned when a rate-limit window is exhausted.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrUserNotFound is returned when the subject is unknown to the user directory.
	ErrUserNotFound = errors.New("user not found")
	// ErrValidation is returned for malformed caller input.
	ErrValidation = errors.New("validation failed")
	// ErrInternal wraps store or clock failures. It is logged at high severity
	// and surfaced to callers without internal detail.
	ErrInternal = errors.New("internal failure")
)

// Expected reports whether err is one of the client-meaningful kinds, as
// opposed to an internal fault.
func Expected(err error) bool {
	for _, kind := range []error{
		ErrTokenExpired, ErrTokenInvalid, ErrTokenRevoked,
		ErrSessionNotFound, ErrSessionExpired, ErrAccountLocked,
		ErrRateLimitExceeded, ErrUserNotFound, ErrValidation,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
