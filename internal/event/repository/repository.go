package repository

import (
	"context"

	"auth-session-core/internal/event/domain"
)

// Repository is the append-only persistence contract for security events and
// alerts. There is deliberately no update or delete.
type Repository interface {
	CreateEvent(ctx context.Context, e *domain.SecurityEvent) error
	CreateAlert(ctx context.Context, a *domain.Alert) error
	ListEvents(ctx context.Context, f domain.Filter) ([]*domain.SecurityEvent, error)
	ListAlerts(ctx context.Context, f domain.Filter) ([]*domain.Alert, error)
}
