package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// AuditRecorder persists security audit events.
type AuditRecorder interface {
	Record(ctx context.Context, event *domain.AuditEvent) error
}

// AuditService stores and queries audit events.
type AuditService struct {
	repo   repository.AuditEventRepository
	clock  Clock
	logger zerolog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo repository.AuditEventRepository, clock Clock, logger zerolog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		clock:  clock,
		logger: logger.With().Str("service", "audit").Logger(),
	}
}

// Record stores event unless it is an authorization failure or belongs to
// the anonymous user. A zero timestamp is set to now.
func (s *AuditService) Record(ctx context.Context, event *domain.AuditEvent) error {
	if !event.Persistable() {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now().UTC()
	}

	if err := s.repo.Create(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("principal", event.Principal).Str("type", event.Type).Msg("failed to record audit event")
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return nil
}

// List returns a page of events, newest first.
func (s *AuditService) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.AuditEvent], error) {
	result, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return result, nil
}

// ListBetween returns events with from <= timestamp < to, newest first.
func (s *AuditService) ListBetween(ctx context.Context, from, to time.Time, opts repository.ListOptions) (*repository.ListResult[domain.AuditEvent], error) {
	result, err := s.repo.ListBetween(ctx, from, to, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return result, nil
}

// Get returns the event with id.
func (s *AuditService) Get(ctx context.Context, id int64) (*domain.AuditEvent, bool, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrAuditEventNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return event, true, nil
}

var _ AuditRecorder = (*AuditService)(nil)
