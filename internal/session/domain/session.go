// Package domain defines the session record: one logical authenticated
// device/browser relationship, bound 1:1 to a live refresh-token jti.
package domain

import "time"

// Session is owned and written exclusively by the session manager.
// ID equals the current refresh token's jti and changes on rotation.
type Session struct {
	ID               string
	UserID           string
	Device           Device
	IPAddress        string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	LastActivity     time.Time
	Active           bool
	AccessJTI        string // current access token jti, for request-path lookup
	RefreshTokenHash string // keyed hash of the current refresh token
	AntiForgeryHash  string // keyed hash of the session's anti-forgery token
}

// Expired reports whether the session is past expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session is usable at now.
func (s *Session) Live(now time.Time) bool {
	return s.Active && !s.Expired(now)
}
