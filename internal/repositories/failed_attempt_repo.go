package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// FailedAttemptRepository handles the per-email failure counter table
type FailedAttemptRepository struct {
	db *database.DB
}

// NewFailedAttemptRepository creates a new FailedAttemptRepository
func NewFailedAttemptRepository(db *database.DB) *FailedAttemptRepository {
	return &FailedAttemptRepository{db: db}
}

// Increment bumps the counter for an email and returns the new count.
// The upsert is a single atomic statement so two concurrent failures for the
// same email cannot lose an increment.
func (r *FailedAttemptRepository) Increment(ctx context.Context, email string) (int, error) {
	query := `
		INSERT INTO failed_attempt_counters (email, attempt_count, last_attempt_at)
		VALUES ($1, 1, NOW())
		ON CONFLICT (email) DO UPDATE SET
			attempt_count = failed_attempt_counters.attempt_count + 1,
			last_attempt_at = NOW()
		RETURNING attempt_count
	`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, email).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment failure counter: %w", err)
	}
	return count, nil
}

// Get returns the counter for an email, or nil when none exists.
func (r *FailedAttemptRepository) Get(ctx context.Context, email string) (*models.FailedAttemptCounter, error) {
	query := `
		SELECT email, attempt_count, last_attempt_at
		FROM failed_attempt_counters
		WHERE email = $1
	`

	var counter models.FailedAttemptCounter
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&counter.Email, &counter.AttemptCount, &counter.LastAttemptAt,
	)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get failure counter: %w", err)
	}
	return &counter, nil
}

// Clear removes the counter for an email. Clearing a missing counter is a
// no-op.
func (r *FailedAttemptRepository) Clear(ctx context.Context, email string) error {
	query := `DELETE FROM failed_attempt_counters WHERE email = $1`
	if _, err := r.db.Pool.Exec(ctx, query, email); err != nil {
		return fmt.Errorf("failed to clear failure counter: %w", err)
	}
	return nil
}

// DeleteDecayed removes counters whose last failure predates the cutoff.
func (r *FailedAttemptRepository) DeleteDecayed(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM failed_attempt_counters WHERE last_attempt_at < $1`
	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete decayed counters: %w", err)
	}
	return result.RowsAffected(), nil
}
