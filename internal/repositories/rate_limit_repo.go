package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// RateLimitRepository handles rate limit settings and per-(ip, endpoint)
// fixed windows
type RateLimitRepository struct {
	db *database.DB
}

// NewRateLimitRepository creates a new RateLimitRepository
func NewRateLimitRepository(db *database.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// GetSetting returns the setting for an endpoint, or nil when none exists.
func (r *RateLimitRepository) GetSetting(ctx context.Context, endpoint string) (*models.RateLimitSetting, error) {
	query := `
		SELECT endpoint, max_requests, window_seconds, is_enabled, updated_at
		FROM rate_limit_settings
		WHERE endpoint = $1
	`

	var setting models.RateLimitSetting
	err := r.db.Pool.QueryRow(ctx, query, endpoint).Scan(
		&setting.Endpoint, &setting.MaxRequests, &setting.WindowSeconds,
		&setting.IsEnabled, &setting.UpdatedAt,
	)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rate limit setting: %w", err)
	}
	return &setting, nil
}

// UpsertSetting creates or updates the setting for an endpoint.
func (r *RateLimitRepository) UpsertSetting(ctx context.Context, setting *models.RateLimitSetting) error {
	query := `
		INSERT INTO rate_limit_settings (endpoint, max_requests, window_seconds, is_enabled)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint) DO UPDATE SET
			max_requests = EXCLUDED.max_requests,
			window_seconds = EXCLUDED.window_seconds,
			is_enabled = EXCLUDED.is_enabled,
			updated_at = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query,
		setting.Endpoint, setting.MaxRequests, setting.WindowSeconds, setting.IsEnabled,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert rate limit setting: %w", err)
	}
	return nil
}

// ListSettings returns all settings, wildcard first.
func (r *RateLimitRepository) ListSettings(ctx context.Context) ([]*models.RateLimitSetting, error) {
	query := `
		SELECT endpoint, max_requests, window_seconds, is_enabled, updated_at
		FROM rate_limit_settings
		ORDER BY endpoint
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate limit settings: %w", err)
	}
	defer rows.Close()

	settings := make([]*models.RateLimitSetting, 0)
	for rows.Next() {
		var setting models.RateLimitSetting
		err := rows.Scan(
			&setting.Endpoint, &setting.MaxRequests, &setting.WindowSeconds,
			&setting.IsEnabled, &setting.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rate limit setting: %w", err)
		}
		settings = append(settings, &setting)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rate limit settings: %w", err)
	}
	return settings, nil
}

// GetWindow returns the current window for (ip, endpoint), or nil when none
// exists. Callers decide whether the window has expired.
func (r *RateLimitRepository) GetWindow(ctx context.Context, ip, endpoint string) (*models.RateWindow, error) {
	query := `
		SELECT ip_address, endpoint, window_start, request_count
		FROM rate_windows
		WHERE ip_address = $1 AND endpoint = $2
	`

	var window models.RateWindow
	err := r.db.Pool.QueryRow(ctx, query, ip, endpoint).Scan(
		&window.IPAddress, &window.Endpoint, &window.WindowStart, &window.RequestCount,
	)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rate window: %w", err)
	}
	return &window, nil
}

// RecordRequest counts a request against the (ip, endpoint) window. The
// upsert is conditional in one statement: a live window increments, an
// expired one restarts at 1. Returns the resulting window.
func (r *RateLimitRepository) RecordRequest(ctx context.Context, ip, endpoint string, windowStartCutoff time.Time) (*models.RateWindow, error) {
	query := `
		INSERT INTO rate_windows (ip_address, endpoint, window_start, request_count)
		VALUES ($1, $2, NOW(), 1)
		ON CONFLICT (ip_address, endpoint) DO UPDATE SET
			request_count = CASE
				WHEN rate_windows.window_start >= $3 THEN rate_windows.request_count + 1
				ELSE 1
			END,
			window_start = CASE
				WHEN rate_windows.window_start >= $3 THEN rate_windows.window_start
				ELSE NOW()
			END
		RETURNING ip_address, endpoint, window_start, request_count
	`

	var window models.RateWindow
	err := r.db.Pool.QueryRow(ctx, query, ip, endpoint, windowStartCutoff).Scan(
		&window.IPAddress, &window.Endpoint, &window.WindowStart, &window.RequestCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record request: %w", err)
	}
	return &window, nil
}

// DeleteStaleWindows removes windows that started before the cutoff.
func (r *RateLimitRepository) DeleteStaleWindows(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM rate_windows WHERE window_start < $1`
	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale rate windows: %w", err)
	}
	return result.RowsAffected(), nil
}
