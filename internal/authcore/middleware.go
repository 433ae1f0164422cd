package authcore

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"auth-session-core/internal/autherr"
)

// Outcome is what an observed operation reports back: the classification
// label, the error (nil on success), and the elapsed time. The wrapper hands
// it to the caller as an ordinary return value; nothing on the request object
// is patched or overridden.
type Outcome struct {
	Operation string
	Label     string
	Err       error
	Duration  time.Duration
}

// Observer wraps core operations with tracing, metrics, and logging.
type Observer struct {
	log     *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewObserver returns an Observer. Any of the arguments may be nil; the
// corresponding signal is skipped.
func NewObserver(log *zap.Logger, metrics *Metrics, tp trace.TracerProvider) *Observer {
	if log == nil {
		log = zap.NewNop()
	}
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Observer{
		log:     log,
		metrics: metrics,
		tracer:  tp.Tracer("authcore"),
	}
}

// Observe runs fn inside a span, times it, and reports the outcome to
// metrics and the log. The operation's error passes through unchanged.
func (o *Observer) Observe(ctx context.Context, operation string, fn func(ctx context.Context) error) Outcome {
	ctx, span := o.tracer.Start(ctx, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	label := outcomeLabel(err)
	span.SetAttributes(attribute.String("auth.outcome", label))
	if err != nil && !autherr.Expected(err) {
		span.SetStatus(codes.Error, err.Error())
	}
	o.metrics.observe(operation, label, elapsed.Seconds())

	if err == nil {
		o.log.Debug("auth operation",
			zap.String("operation", operation),
			zap.Duration("elapsed", elapsed))
	} else if autherr.Expected(err) {
		o.log.Info("auth operation rejected",
			zap.String("operation", operation),
			zap.String("outcome", label),
			zap.Duration("elapsed", elapsed))
	} else {
		o.log.Error("auth operation failed",
			zap.String("operation", operation),
			zap.Error(err),
			zap.Duration("elapsed", elapsed))
	}
	return Outcome{Operation: operation, Label: label, Err: err, Duration: elapsed}
}

// outcomeLabel maps an operation error to its metric label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, autherr.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, autherr.ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, autherr.ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, autherr.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, autherr.ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, autherr.ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, autherr.ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, autherr.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, autherr.ErrValidation):
		return "validation"
	default:
		return "internal"
	}
}
