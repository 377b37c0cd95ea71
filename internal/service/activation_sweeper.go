package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/lock"
	"github.com/prn-tf/blog-accounts/internal/metrics"
	"github.com/prn-tf/blog-accounts/internal/repository"
)

// CandidateSource lists accounts still pending activation.
type CandidateSource interface {
	ListUnactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error)
}

// CandidateSourceFunc adapts a function to CandidateSource.
type CandidateSourceFunc func(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error)

// ListUnactivatedBefore implements CandidateSource.
func (f CandidateSourceFunc) ListUnactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Account, error) {
	return f(ctx, cutoff, limit)
}

// ActivationSweeper deletes registrations that were never activated.
type ActivationSweeper struct {
	candidates CandidateSource
	store      repository.AccountStore
	locker     lock.Locker
	clock      Clock
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	config     SweepConfig

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// SweepConfig contains sweep configuration.
type SweepConfig struct {
	// Interval is how often the sweep runs.
	Interval time.Duration

	// ActivationWindow is how long an account may stay unactivated.
	ActivationWindow time.Duration

	// BatchSize is the maximum number of accounts removed per run.
	BatchSize int

	// FirstRunAt is the local wall-clock time (HH:MM) of the first run.
	// Empty runs immediately on start.
	FirstRunAt string
}

// DefaultSweepConfig returns the daily three-day sweep.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:         24 * time.Hour,
		ActivationWindow: 72 * time.Hour,
		BatchSize:        500,
		FirstRunAt:       "01:00",
	}
}

// NewActivationSweeper creates a new sweeper. A nil candidates source
// reads candidates from store.
func NewActivationSweeper(
	candidates CandidateSource,
	store repository.AccountStore,
	locker lock.Locker,
	clock Clock,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config SweepConfig,
) *ActivationSweeper {
	if candidates == nil {
		candidates = store
	}
	return &ActivationSweeper{
		candidates: candidates,
		store:      store,
		locker:     locker,
		clock:      clock,
		metrics:    m,
		logger:     logger.With().Str("service", "activation_sweeper").Logger(),
		config:     config,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start begins the sweep scheduler.
func (s *ActivationSweeper) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	delay := firstRunDelay(s.clock.Now(), s.config.FirstRunAt)

	s.logger.Info().
		Dur("interval", s.config.Interval).
		Dur("activation_window", s.config.ActivationWindow).
		Int("batch_size", s.config.BatchSize).
		Dur("first_run_in", delay).
		Msg("Starting activation sweeper")

	go s.runLoop(delay)
}

// Stop stops the sweep scheduler and waits for a running sweep.
func (s *ActivationSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	<-s.doneChan

	s.logger.Info().Msg("Activation sweeper stopped")
}

// runLoop waits for the first run, then sweeps every interval.
func (s *ActivationSweeper) runLoop(delay time.Duration) {
	defer close(s.doneChan)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		s.RunOnce(context.Background())
	case <-s.stopChan:
		return
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

// firstRunDelay returns the time until the next local HH:MM after now.
func firstRunDelay(now time.Time, at string) time.Duration {
	if at == "" {
		return 0
	}
	t, err := time.Parse("15:04", at)
	if err != nil {
		return 0
	}

	local := now.Local()
	next := time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, local.Location())
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(local)
}

// SweepResult contains the result of a sweep run.
type SweepResult struct {
	// Candidates is the number of pending accounts past the window.
	Candidates int

	// Deleted is the number of accounts removed.
	Deleted int

	// Errors is the number of errors encountered.
	Errors int

	// Skipped is true when another instance held the sweep lock.
	Skipped bool

	// Duration is how long the run took.
	Duration time.Duration
}

// RunOnce executes a single sweep. It can be called manually or by the scheduler.
func (s *ActivationSweeper) RunOnce(ctx context.Context) SweepResult {
	start := time.Now()
	result := SweepResult{}

	s.logger.Debug().Msg("Starting activation sweep")

	// Only one instance sweeps at a time.
	lockKey := lock.Keys.AccountSweep()
	lockTTL := s.config.Interval / 2
	if lockTTL < 5*time.Minute {
		lockTTL = 5 * time.Minute
	}

	acquired, err := s.locker.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to acquire sweep lock")
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}
	if !acquired {
		s.logger.Debug().Msg("Sweep lock held by another process, skipping run")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if _, err := s.locker.Release(ctx, lockKey); err != nil {
			s.logger.Error().Err(err).Msg("Failed to release sweep lock")
		}
	}()

	cutoff := s.clock.Now().Add(-s.config.ActivationWindow)
	candidates, err := s.candidates.ListUnactivatedBefore(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list unactivated accounts")
		result.Errors++
		result.Duration = time.Since(start)
		return result
	}
	result.Candidates = len(candidates)

	for _, account := range candidates {
		// The delete is guarded on the stored activation flag, so an
		// account activated after the candidate list was read survives.
		deleted, err := s.store.DeleteUnactivated(ctx, account.Login)
		if err != nil {
			s.logger.Error().Err(err).Str("login", account.Login).Msg("Failed to delete unactivated account")
			result.Errors++
			continue
		}
		if !deleted {
			continue
		}

		s.logger.Debug().
			Str("login", account.Login).
			Time("created", account.CreatedDate).
			Msg("Deleting not activated user")
		result.Deleted++
	}

	result.Duration = time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordSweepRun(result.Duration, result.Deleted)
	}

	s.logger.Info().
		Int("candidates", result.Candidates).
		Int("deleted", result.Deleted).
		Int("errors", result.Errors).
		Dur("duration", result.Duration).
		Msg("Activation sweep completed")

	return result
}
