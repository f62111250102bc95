package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// SettingsRepository handles dynamic integer policy settings. Values are
// read per evaluation so changes apply without a restart.
type SettingsRepository struct {
	db *database.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetInt returns the value for a key, or the fallback when no row exists.
func (r *SettingsRepository) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	query := `SELECT value FROM security_settings WHERE key = $1`

	var value int
	err := r.db.Pool.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return fallback, nil
		}
		return fallback, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetInt creates or updates a setting.
func (r *SettingsRepository) SetInt(ctx context.Context, key string, value int) error {
	query := `
		INSERT INTO security_settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`

	if _, err := r.db.Pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// List returns all settings.
func (r *SettingsRepository) List(ctx context.Context) ([]*models.SecuritySetting, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT key, value FROM security_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings := make([]*models.SecuritySetting, 0)
	for rows.Next() {
		var s models.SecuritySetting
		if err := rows.Scan(&s.Key, &s.Value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return settings, nil
}
