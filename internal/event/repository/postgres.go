package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"auth-session-core/internal/event/domain"
)

const defaultListLimit = 100

// PostgresRepository persists security events and alerts in Postgres.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an event repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// CreateEvent appends one security event row.
func (r *PostgresRepository) CreateEvent(ctx context.Context, e *domain.SecurityEvent) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("event: marshal metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO security_events (id, event_type, action, success, user_id, ip_address, request_id, metadata, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Type), e.Action, e.Success, e.UserID, e.IP, e.RequestID, meta, string(e.Severity), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("event: insert: %w", err)
	}
	return nil
}

// CreateAlert appends one alert row.
func (r *PostgresRepository) CreateAlert(ctx context.Context, a *domain.Alert) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_alerts (id, event_id, event_type, severity, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.EventID, string(a.Type), string(a.Severity), a.Message, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("alert: insert: %w", err)
	}
	return nil
}

// ListEvents returns events matching f, newest first.
func (r *PostgresRepository) ListEvents(ctx context.Context, f domain.Filter) ([]*domain.SecurityEvent, error) {
	query := `SELECT id, event_type, action, success, user_id, ip_address, request_id, metadata, severity, created_at
		FROM security_events`
	where, args := filterClauses(f)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limitOrDefault(f.Limit))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("event: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.SecurityEvent
	for rows.Next() {
		var (
			e    domain.SecurityEvent
			typ  string
			sev  string
			meta []byte
		)
		if err := rows.Scan(&e.ID, &typ, &e.Action, &e.Success, &e.UserID, &e.IP, &e.RequestID, &meta, &sev, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("event: scan: %w", err)
		}
		e.Type = domain.Type(typ)
		e.Severity = domain.Severity(sev)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("event: unmarshal metadata: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListAlerts returns alerts matching f, newest first. The UserID filter is
// ignored; alerts are not user-scoped.
func (r *PostgresRepository) ListAlerts(ctx context.Context, f domain.Filter) ([]*domain.Alert, error) {
	query := `SELECT id, event_id, event_type, severity, message, created_at FROM security_alerts`
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limitOrDefault(f.Limit))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("alert: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Alert
	for rows.Next() {
		var (
			a   domain.Alert
			typ string
			sev string
		)
		if err := rows.Scan(&a.ID, &a.EventID, &typ, &sev, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("alert: scan: %w", err)
		}
		a.Type = domain.Type(typ)
		a.Severity = domain.Severity(sev)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func filterClauses(f domain.Filter) (where []string, args []any) {
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	return where, args
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
