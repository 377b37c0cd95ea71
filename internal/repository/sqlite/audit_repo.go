package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// auditEventRepository implements repository.AuditEventRepository for SQLite.
type auditEventRepository struct {
	db *DB
}

// NewAuditEventRepository creates a new SQLite audit event repository.
func NewAuditEventRepository(db *DB) repository.AuditEventRepository {
	return &auditEventRepository{db: db}
}

// Create persists the event and its data entries.
func (r *auditEventRepository) Create(ctx context.Context, event *domain.AuditEvent) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO audit_events (principal, event_type, event_date) VALUES (?, ?, ?)`,
			event.Principal, event.Type, formatTime(event.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("failed to create audit event: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
		}

		for name, value := range event.Data {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO audit_event_data (event_id, name, value) VALUES (?, ?, ?)`,
				id, name, value,
			)
			if err != nil {
				return fmt.Errorf("failed to store audit data %s: %w", name, err)
			}
		}

		event.ID = id
		return nil
	})
}

// GetByID retrieves an event by ID.
func (r *auditEventRepository) GetByID(ctx context.Context, id int64) (*domain.AuditEvent, error) {
	event := &domain.AuditEvent{}
	var timestamp string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, principal, event_type, event_date FROM audit_events WHERE id = ?`, id,
	).Scan(&event.ID, &event.Principal, &event.Type, &timestamp)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAuditEventNotFound
		}
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	event.Timestamp = parseTime(timestamp)

	if err := r.attachData(ctx, []*domain.AuditEvent{event}); err != nil {
		return nil, err
	}
	return event, nil
}

// List returns events newest first.
func (r *auditEventRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.AuditEvent], error) {
	return r.list(ctx, "", nil, opts)
}

// ListBetween returns events with from <= timestamp < to, newest first.
func (r *auditEventRepository) ListBetween(ctx context.Context, from, to time.Time, opts repository.ListOptions) (*repository.ListResult[domain.AuditEvent], error) {
	return r.list(ctx, `WHERE event_date >= ? AND event_date < ?`, []any{formatTime(from), formatTime(to)}, opts)
}

func (r *auditEventRepository) list(ctx context.Context, where string, args []any, opts repository.ListOptions) (*repository.ListResult[domain.AuditEvent], error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT id, principal, event_type, event_date FROM audit_events ` + where + `
		ORDER BY event_date DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		event := &domain.AuditEvent{}
		var timestamp string
		if err := rows.Scan(&event.ID, &event.Principal, &event.Type, &timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.Timestamp = parseTime(timestamp)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	rows.Close()

	if err := r.attachData(ctx, events); err != nil {
		return nil, err
	}

	return &repository.ListResult[domain.AuditEvent]{
		Items:  events,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// attachData loads the data entries of events in one query.
func (r *auditEventRepository) attachData(ctx context.Context, events []*domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	byID := make(map[int64]*domain.AuditEvent, len(events))
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events))
	for _, e := range events {
		byID[e.ID] = e
		placeholders = append(placeholders, "?")
		args = append(args, e.ID)
	}

	query := `SELECT event_id, name, value FROM audit_event_data WHERE event_id IN (` + strings.Join(placeholders, ",") + `)`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to load audit data: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id          int64
			name, value string
		)
		if err := rows.Scan(&id, &name, &value); err != nil {
			return fmt.Errorf("failed to scan audit data: %w", err)
		}
		e := byID[id]
		if e.Data == nil {
			e.Data = make(map[string]string)
		}
		e.Data[name] = value
	}

	return rows.Err()
}

var _ repository.AuditEventRepository = (*auditEventRepository)(nil)
