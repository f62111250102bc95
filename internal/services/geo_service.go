package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/orbitcart/gatekeeper/internal/models"
)

// GeoRuleRepository defines the interface for geo rule database operations
type GeoRuleRepository interface {
	Get(ctx context.Context, countryCode string) (*models.GeoRule, error)
	Upsert(ctx context.Context, rule *models.GeoRule) error
	Delete(ctx context.Context, countryCode string) error
	List(ctx context.Context) ([]*models.GeoRule, error)
}

// GeoPolicyService evaluates per-country allow/block rules
type GeoPolicyService struct {
	repo   GeoRuleRepository
	logger *slog.Logger
}

// NewGeoPolicyService creates a new GeoPolicyService
func NewGeoPolicyService(repo GeoRuleRepository, log *slog.Logger) *GeoPolicyService {
	return &GeoPolicyService{
		repo:   repo,
		logger: log,
	}
}

// IsCountryBlocked checks the rule for a country. An unknown or empty
// country code is never blocked, and store errors fail open.
func (s *GeoPolicyService) IsCountryBlocked(ctx context.Context, countryCode string) (bool, error) {
	code := normalizeCountryCode(countryCode)
	if code == "" {
		return false, nil
	}

	rule, err := s.repo.Get(ctx, code)
	if err != nil {
		s.logger.Error("geo rule lookup failed",
			slog.String("country_code", code),
			slog.Any("error", err))
		return false, nil
	}
	if rule == nil {
		return false, nil
	}

	return rule.IsBlocked, nil
}

// SetRule creates or updates the rule for a country
func (s *GeoPolicyService) SetRule(ctx context.Context, countryCode string, blocked bool, reason string) (*models.GeoRule, error) {
	code := normalizeCountryCode(countryCode)
	if len(code) != 2 {
		return nil, fmt.Errorf("%w: country code must be ISO 3166-1 alpha-2", models.ErrBadRequest)
	}

	rule := &models.GeoRule{
		CountryCode: code,
		IsBlocked:   blocked,
		Reason:      reason,
	}
	if err := s.repo.Upsert(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to save geo rule: %w", err)
	}

	s.logger.Info("geo rule updated",
		slog.String("country_code", code),
		slog.Bool("blocked", blocked))

	return rule, nil
}

// DeleteRule removes the rule for a country
func (s *GeoPolicyService) DeleteRule(ctx context.Context, countryCode string) error {
	code := normalizeCountryCode(countryCode)
	if len(code) != 2 {
		return fmt.Errorf("%w: country code must be ISO 3166-1 alpha-2", models.ErrBadRequest)
	}
	if err := s.repo.Delete(ctx, code); err != nil {
		return fmt.Errorf("failed to delete geo rule: %w", err)
	}
	return nil
}

// ListRules returns all configured rules
func (s *GeoPolicyService) ListRules(ctx context.Context) ([]*models.GeoRule, error) {
	return s.repo.List(ctx)
}

func normalizeCountryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
