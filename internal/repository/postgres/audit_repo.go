package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// auditEventRepository implements repository.AuditEventRepository.
type auditEventRepository struct {
	db *DB
}

// NewAuditEventRepository creates a new PostgreSQL audit event repository.
func NewAuditEventRepository(db *DB) repository.AuditEventRepository {
	return &auditEventRepository{db: db}
}

// Create persists the event and its data entries.
func (r *auditEventRepository) Create(ctx context.Context, event *domain.AuditEvent) error {
	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO audit_events (principal, event_type, event_date) VALUES ($1, $2, $3) RETURNING id`,
			event.Principal, event.Type, event.Timestamp,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to create audit event: %w", err)
		}

		if len(event.Data) > 0 {
			batch := &pgx.Batch{}
			for name, value := range event.Data {
				batch.Queue(`INSERT INTO audit_event_data (event_id, name, value) VALUES ($1, $2, $3)`, id, name, value)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to store audit data: %w", err)
			}
		}

		event.ID = id
		return nil
	})
}

// GetByID retrieves an event by ID.
func (r *auditEventRepository) GetByID(ctx context.Context, id int64) (*domain.AuditEvent, error) {
	event := &domain.AuditEvent{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, principal, event_type, event_date FROM audit_events WHERE id = $1`, id,
	).Scan(&event.ID, &event.Principal, &event.Type, &event.Timestamp)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrAuditEventNotFound
		}
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	event.Timestamp = event.Timestamp.UTC()

	if err := r.attachData(ctx, []*domain.AuditEvent{event}); err != nil {
		return nil, err
	}
	return event, nil
}

// List returns events newest first.
func (r *auditEventRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.AuditEvent], error) {
	return r.list(ctx, time.Time{}, time.Time{}, opts)
}

// ListBetween returns events with from <= timestamp < to, newest first.
func (r *auditEventRepository) ListBetween(ctx context.Context, from, to time.Time, opts repository.ListOptions) (*repository.ListResult[domain.AuditEvent], error) {
	return r.list(ctx, from, to, opts)
}

// list treats zero bounds as open.
func (r *auditEventRepository) list(ctx context.Context, from, to time.Time, opts repository.ListOptions) (*repository.ListResult[domain.AuditEvent], error) {
	const where = `WHERE ($1::timestamptz IS NULL OR event_date >= $1) AND ($2::timestamptz IS NULL OR event_date < $2)`

	lower, upper := optionalTime(from), optionalTime(to)

	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events `+where, lower, upper).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	var lim any
	if opts.Limit > 0 {
		lim = opts.Limit
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, principal, event_type, event_date FROM audit_events `+where+`
		ORDER BY event_date DESC, id DESC
		LIMIT $3 OFFSET $4
	`, lower, upper, lim, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.AuditEvent, error) {
		e := &domain.AuditEvent{}
		if err := row.Scan(&e.ID, &e.Principal, &e.Type, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit events: %w", err)
	}

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

func (r *auditEventRepository) attachData(ctx context.Context, events []*domain.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	byID := make(map[int64]*domain.AuditEvent, len(events))
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	rows, err := r.db.Pool.Query(ctx,
		`SELECT event_id, name, value FROM audit_event_data WHERE event_id = ANY($1)`, ids,
	)
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

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ repository.AuditEventRepository = (*auditEventRepository)(nil)
