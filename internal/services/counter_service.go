package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orbitcart/gatekeeper/internal/models"
	"github.com/orbitcart/gatekeeper/pkg/logger"
)

// FailedAttemptRepository defines the interface for failure counter operations
type FailedAttemptRepository interface {
	Increment(ctx context.Context, email string) (int, error)
	Get(ctx context.Context, email string) (*models.FailedAttemptCounter, error)
	Clear(ctx context.Context, email string) error
	DeleteDecayed(ctx context.Context, cutoff time.Time) (int64, error)
}

// FailureCounterService tracks consecutive credential failures per email
type FailureCounterService struct {
	repo        FailedAttemptRepository
	decayWindow time.Duration
	logger      *slog.Logger
}

// NewFailureCounterService creates a new FailureCounterService
func NewFailureCounterService(repo FailedAttemptRepository, decayWindow time.Duration, log *slog.Logger) *FailureCounterService {
	return &FailureCounterService{
		repo:        repo,
		decayWindow: decayWindow,
		logger:      log,
	}
}

// RecordFailure increments the counter and returns the new count
func (s *FailureCounterService) RecordFailure(ctx context.Context, email string) (int, error) {
	count, err := s.repo.Increment(ctx, email)
	if err != nil {
		s.logger.Error("failed to increment failure counter",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		return 0, fmt.Errorf("failed to record failure: %w", err)
	}
	return count, nil
}

// EffectiveFailures returns the current count, treating a counter older than
// the decay window as zero. Store errors read as zero so a flaky store does
// not soft-lock accounts.
func (s *FailureCounterService) EffectiveFailures(ctx context.Context, email string) int {
	counter, err := s.repo.Get(ctx, email)
	if err != nil {
		s.logger.Error("failed to read failure counter",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		return 0
	}
	if counter == nil {
		return 0
	}
	return counter.EffectiveCount(time.Now(), s.decayWindow)
}

// Clear resets the counter after a confirmed success or verified challenge
func (s *FailureCounterService) Clear(ctx context.Context, email string) error {
	if err := s.repo.Clear(ctx, email); err != nil {
		s.logger.Error("failed to clear failure counter",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to clear failures: %w", err)
	}
	return nil
}
