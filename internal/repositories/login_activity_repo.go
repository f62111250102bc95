package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// LoginActivityRepository handles the append-only audit trail and the
// bounded known-device set
type LoginActivityRepository struct {
	db *database.DB
}

// NewLoginActivityRepository creates a new LoginActivityRepository
func NewLoginActivityRepository(db *database.DB) *LoginActivityRepository {
	return &LoginActivityRepository{db: db}
}

// Record appends one audit row. Rows are never updated afterwards.
func (r *LoginActivityRepository) Record(ctx context.Context, activity *models.LoginActivity) error {
	query := `
		INSERT INTO login_activity (email, ip_address, user_agent, browser_family, os_family, device_class, country_code, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		activity.Email,
		activity.IPAddress,
		activity.UserAgent,
		activity.BrowserFamily,
		activity.OSFamily,
		activity.DeviceClass,
		activity.CountryCode,
		activity.Status,
		activity.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("failed to record login activity: %w", err)
	}
	return nil
}

// List returns activity rows newest first, optionally filtered by email.
func (r *LoginActivityRepository) List(ctx context.Context, email string, limit, offset int) ([]*models.LoginActivity, error) {
	query := `
		SELECT id, email, ip_address, user_agent, browser_family, os_family, device_class, country_code, status, failure_reason, created_at
		FROM login_activity
		WHERE ($1 = '' OR email = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, email, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list login activity: %w", err)
	}
	defer rows.Close()

	activities := make([]*models.LoginActivity, 0)
	for rows.Next() {
		var a models.LoginActivity
		err := rows.Scan(
			&a.ID, &a.Email, &a.IPAddress, &a.UserAgent,
			&a.BrowserFamily, &a.OSFamily, &a.DeviceClass, &a.CountryCode,
			&a.Status, &a.FailureReason, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login activity: %w", err)
		}
		activities = append(activities, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login activity: %w", err)
	}
	return activities, nil
}

// HasSuccessfulLogin reports whether the email has ever logged in
// successfully. Used by the novelty check: brand-new accounts are not
// challenged for an unseen device.
func (r *LoginActivityRepository) HasSuccessfulLogin(ctx context.Context, email string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM login_activity WHERE email = $1 AND status = $2
		)
	`

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, email, models.ActivityStatusSuccess).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check login history: %w", err)
	}
	return exists, nil
}

// IsKnownDevice reports whether the fingerprint key is in the account's
// device set.
func (r *LoginActivityRepository) IsKnownDevice(ctx context.Context, email, fingerprintKey string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM known_devices WHERE email = $1 AND fingerprint_key = $2
		)
	`

	var known bool
	if err := r.db.Pool.QueryRow(ctx, query, email, fingerprintKey).Scan(&known); err != nil {
		return false, fmt.Errorf("failed to check known devices: %w", err)
	}
	return known, nil
}

// RememberDevice upserts the fingerprint into the account's device set and
// evicts the least recently seen entries beyond the limit. Kept bounded so
// novelty checks never scan the unbounded activity log.
func (r *LoginActivityRepository) RememberDevice(ctx context.Context, email, fingerprintKey string, limit int) error {
	upsert := `
		INSERT INTO known_devices (email, fingerprint_key, first_seen_at, last_seen_at, login_count)
		VALUES ($1, $2, NOW(), NOW(), 1)
		ON CONFLICT (email, fingerprint_key) DO UPDATE SET
			last_seen_at = NOW(),
			login_count = known_devices.login_count + 1
	`

	evict := `
		DELETE FROM known_devices
		WHERE email = $1 AND fingerprint_key NOT IN (
			SELECT fingerprint_key FROM known_devices
			WHERE email = $1
			ORDER BY last_seen_at DESC
			LIMIT $2
		)
	`

	if _, err := r.db.Pool.Exec(ctx, upsert, email, fingerprintKey); err != nil {
		return fmt.Errorf("failed to remember device: %w", err)
	}
	if _, err := r.db.Pool.Exec(ctx, evict, email, limit); err != nil {
		return fmt.Errorf("failed to evict old devices: %w", err)
	}
	return nil
}

// ListKnownDevices returns the account's device set, most recent first.
func (r *LoginActivityRepository) ListKnownDevices(ctx context.Context, email string) ([]*models.KnownDevice, error) {
	query := `
		SELECT email, fingerprint_key, first_seen_at, last_seen_at, login_count
		FROM known_devices
		WHERE email = $1
		ORDER BY last_seen_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list known devices: %w", err)
	}
	defer rows.Close()

	devices := make([]*models.KnownDevice, 0)
	for rows.Next() {
		var d models.KnownDevice
		if err := rows.Scan(&d.Email, &d.FingerprintKey, &d.FirstSeenAt, &d.LastSeenAt, &d.LoginCount); err != nil {
			return nil, fmt.Errorf("failed to scan known device: %w", err)
		}
		devices = append(devices, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating known devices: %w", err)
	}
	return devices, nil
}

// DeleteOlderThan trims audit rows beyond the retention period.
func (r *LoginActivityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM login_activity WHERE created_at < $1`
	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old login activity: %w", err)
	}
	return result.RowsAffected(), nil
}
