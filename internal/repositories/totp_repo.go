package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// TOTPRepository handles authenticator enrollments
type TOTPRepository struct {
	db *database.DB
}

// NewTOTPRepository creates a new TOTPRepository
func NewTOTPRepository(db *database.DB) *TOTPRepository {
	return &TOTPRepository{db: db}
}

// Upsert stores an account's encrypted authenticator secret, replacing any
// previous enrollment.
func (r *TOTPRepository) Upsert(ctx context.Context, enrollment *models.TOTPEnrollment) error {
	query := `
		INSERT INTO totp_enrollments (email, secret_encrypted, nonce)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET
			secret_encrypted = EXCLUDED.secret_encrypted,
			nonce = EXCLUDED.nonce,
			enrolled_at = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query, enrollment.Email, enrollment.SecretEncrypted, enrollment.Nonce)
	if err != nil {
		return fmt.Errorf("failed to upsert totp enrollment: %w", err)
	}
	return nil
}

// Get returns the enrollment for an email, or nil when not enrolled.
func (r *TOTPRepository) Get(ctx context.Context, email string) (*models.TOTPEnrollment, error) {
	query := `
		SELECT email, secret_encrypted, nonce, enrolled_at
		FROM totp_enrollments
		WHERE email = $1
	`

	var e models.TOTPEnrollment
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&e.Email, &e.SecretEncrypted, &e.Nonce, &e.EnrolledAt,
	)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get totp enrollment: %w", err)
	}
	return &e, nil
}

// Delete removes an enrollment; missing enrollments are a no-op.
func (r *TOTPRepository) Delete(ctx context.Context, email string) error {
	query := `DELETE FROM totp_enrollments WHERE email = $1`
	if _, err := r.db.Pool.Exec(ctx, query, email); err != nil {
		return fmt.Errorf("failed to delete totp enrollment: %w", err)
	}
	return nil
}
