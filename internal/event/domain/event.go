// Package domain defines the append-only security event and alert records.
package domain

import "time"

// Type identifies the kind of security-relevant occurrence.
type Type string

const (
	TypeLoginSuccess       Type = "login_success"
	TypeLoginFailure       Type = "login_failure"
	TypeAccountLocked      Type = "account_locked"
	TypeAccountUnlocked    Type = "account_unlocked"
	TypeTokenRevoked       Type = "token_revoked"
	TypeTokenReplay        Type = "token_replay"
	TypeSessionCreated     Type = "session_created"
	TypeSessionEvicted     Type = "session_evicted"
	TypeSessionInvalidated Type = "session_invalidated"
	TypeRateLimitExceeded  Type = "rate_limit_exceeded"
	TypeSuspiciousActivity Type = "suspicious_activity"
	TypeAdminAction        Type = "admin_action"
	TypePasswordChange     Type = "password_change"
	TypeInternalFailure    Type = "internal_failure"
)

// Severity orders events for alerting. Higher values are more urgent.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// rank makes severities comparable for alert thresholds.
var rank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return rank[s] >= rank[min]
}

// severityByType is the deterministic severity mapping. Every event of a given
// type carries the same severity; it is never caller-supplied.
var severityByType = map[Type]Severity{
	TypeLoginSuccess:       SeverityInfo,
	TypeLoginFailure:       SeverityWarning,
	TypeAccountLocked:      SeverityHigh,
	TypeAccountUnlocked:    SeverityInfo,
	TypeTokenRevoked:       SeverityHigh,
	TypeTokenReplay:        SeverityCritical,
	TypeSessionCreated:     SeverityInfo,
	TypeSessionEvicted:     SeverityInfo,
	TypeSessionInvalidated: SeverityInfo,
	TypeRateLimitExceeded:  SeverityWarning,
	TypeSuspiciousActivity: SeverityHigh,
	TypeAdminAction:        SeverityInfo,
	TypePasswordChange:     SeverityInfo,
	TypeInternalFailure:    SeverityHigh,
}

// SeverityFor returns the severity for typ; unknown types default to warning.
func SeverityFor(typ Type) Severity {
	if s, ok := severityByType[typ]; ok {
		return s
	}
	return SeverityWarning
}

// Context carries the who/where of an event. Metadata is the small open
// extension map for fields with no fixed column.
type Context struct {
	UserID    string
	IP        string
	RequestID string
	Metadata  map[string]string
}

// SecurityEvent is one append-only record. Events are never mutated or
// deleted by callers; retention sweeps are outside this subsystem.
type SecurityEvent struct {
	ID        string
	Type      Type
	Action    string
	Success   bool
	UserID    string
	IP        string
	RequestID string
	Metadata  map[string]string
	Severity  Severity
	CreatedAt time.Time
}

// Alert is derived from an event whose severity crosses the alerting
// threshold.
type Alert struct {
	ID        string
	EventID   string
	Type      Type
	Severity  Severity
	Message   string
	CreatedAt time.Time
}

// Filter narrows event and alert queries. Zero fields are ignored.
type Filter struct {
	UserID string
	Type   Type
	From   time.Time
	To     time.Time
	Limit  int
}
