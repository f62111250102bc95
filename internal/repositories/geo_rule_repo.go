package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// GeoRuleRepository handles per-country allow/block rules
type GeoRuleRepository struct {
	db *database.DB
}

// NewGeoRuleRepository creates a new GeoRuleRepository
func NewGeoRuleRepository(db *database.DB) *GeoRuleRepository {
	return &GeoRuleRepository{db: db}
}

// Get returns the rule for a country code, or nil when none exists.
func (r *GeoRuleRepository) Get(ctx context.Context, countryCode string) (*models.GeoRule, error) {
	query := `
		SELECT country_code, is_blocked, reason, updated_at
		FROM geo_rules
		WHERE country_code = $1
	`

	var rule models.GeoRule
	err := r.db.Pool.QueryRow(ctx, query, countryCode).Scan(
		&rule.CountryCode, &rule.IsBlocked, &rule.Reason, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get geo rule: %w", err)
	}
	return &rule, nil
}

// Upsert creates or updates the rule for a country.
func (r *GeoRuleRepository) Upsert(ctx context.Context, rule *models.GeoRule) error {
	query := `
		INSERT INTO geo_rules (country_code, is_blocked, reason)
		VALUES ($1, $2, $3)
		ON CONFLICT (country_code) DO UPDATE SET
			is_blocked = EXCLUDED.is_blocked,
			reason = EXCLUDED.reason,
			updated_at = NOW()
	`

	if _, err := r.db.Pool.Exec(ctx, query, rule.CountryCode, rule.IsBlocked, rule.Reason); err != nil {
		return fmt.Errorf("failed to upsert geo rule: %w", err)
	}
	return nil
}

// Delete removes the rule for a country; missing rules are a no-op.
func (r *GeoRuleRepository) Delete(ctx context.Context, countryCode string) error {
	query := `DELETE FROM geo_rules WHERE country_code = $1`
	if _, err := r.db.Pool.Exec(ctx, query, countryCode); err != nil {
		return fmt.Errorf("failed to delete geo rule: %w", err)
	}
	return nil
}

// List returns all rules ordered by country code.
func (r *GeoRuleRepository) List(ctx context.Context) ([]*models.GeoRule, error) {
	query := `
		SELECT country_code, is_blocked, reason, updated_at
		FROM geo_rules
		ORDER BY country_code
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list geo rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*models.GeoRule, 0)
	for rows.Next() {
		var rule models.GeoRule
		if err := rows.Scan(&rule.CountryCode, &rule.IsBlocked, &rule.Reason, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan geo rule: %w", err)
		}
		rules = append(rules, &rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating geo rules: %w", err)
	}
	return rules, nil
}
