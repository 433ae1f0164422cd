// Package event is the append-only structured security event sink. Every
// other component of the auth core writes through it.
package event

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"auth-session-core/internal/clock"
	"auth-session-core/internal/event/domain"
	"auth-session-core/internal/event/repository"
)

// AlertThreshold is the severity at or above which Record derives an alert.
const AlertThreshold = domain.SeverityHigh

// Recorder writes security events. Record is best-effort: persistence
// failures are logged and never propagate to the code path that tried to
// record, so auditing cannot take down authentication.
type Recorder struct {
	repo repository.Repository
	clk  clock.Clock
	log  *zap.Logger
}

// NewRecorder returns a Recorder persisting through repo. log may be nil.
func NewRecorder(repo repository.Repository, clk clock.Clock, log *zap.Logger) *Recorder {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{repo: repo, clk: clk, log: log}
}

// Record appends one event with the deterministic severity for typ, and
// derives an alert when that severity crosses AlertThreshold. The event is
// returned even when persistence failed.
func (r *Recorder) Record(ctx context.Context, typ domain.Type, action string, success bool, evctx domain.Context) *domain.SecurityEvent {
	e := &domain.SecurityEvent{
		ID:        uuid.New().String(),
		Type:      typ,
		Action:    action,
		Success:   success,
		UserID:    evctx.UserID,
		IP:        evctx.IP,
		RequestID: evctx.RequestID,
		Metadata:  evctx.Metadata,
		Severity:  domain.SeverityFor(typ),
		CreatedAt: r.clk.Now(),
	}
	if err := r.repo.CreateEvent(ctx, e); err != nil {
		r.log.Error("security event not persisted",
			zap.String("event_type", string(typ)),
			zap.String("action", action),
			zap.Error(err))
		return e
	}
	if e.Severity.AtLeast(AlertThreshold) {
		if _, err := r.CreateAlert(ctx, e, ""); err != nil {
			r.log.Error("security alert not persisted",
				zap.String("event_id", e.ID),
				zap.Error(err))
		}
	}
	return e
}

// CreateAlert derives an alert from a recorded event. severity overrides the
// event's own severity when non-empty.
func (r *Recorder) CreateAlert(ctx context.Context, e *domain.SecurityEvent, severity domain.Severity) (*domain.Alert, error) {
	if severity == "" {
		severity = e.Severity
	}
	a := &domain.Alert{
		ID:        uuid.New().String(),
		EventID:   e.ID,
		Type:      e.Type,
		Severity:  severity,
		Message:   fmt.Sprintf("%s: %s (user=%s ip=%s)", e.Type, e.Action, e.UserID, e.IP),
		CreatedAt: r.clk.Now(),
	}
	if err := r.repo.CreateAlert(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// QueryEvents returns events matching f, newest first.
func (r *Recorder) QueryEvents(ctx context.Context, f domain.Filter) ([]*domain.SecurityEvent, error) {
	return r.repo.ListEvents(ctx, f)
}

// QueryAlerts returns alerts matching f, newest first.
func (r *Recorder) QueryAlerts(ctx context.Context, f domain.Filter) ([]*domain.Alert, error) {
	return r.repo.ListAlerts(ctx, f)
}

// RecordInternalFailure is the single place store or clock faults become
// events. It never fails.
func (r *Recorder) RecordInternalFailure(ctx context.Context, action string, err error, evctx domain.Context) {
	if evctx.Metadata == nil {
		evctx.Metadata = map[string]string{}
	}
	evctx.Metadata["error"] = err.Error()
	r.Record(ctx, domain.TypeInternalFailure, action, false, evctx)
}
