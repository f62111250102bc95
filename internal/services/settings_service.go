package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orbitcart/gatekeeper/internal/models"
)

// SettingsRepository defines the interface for policy setting operations
type SettingsRepository interface {
	GetInt(ctx context.Context, key string, fallback int) (int, error)
	SetInt(ctx context.Context, key string, value int) error
	List(ctx context.Context) ([]*models.SecuritySetting, error)
}

// PolicyThresholds are the effective failure-count tiers for one evaluation
type PolicyThresholds struct {
	ChallengeThreshold int
	BlockThreshold     int
	ChallengeRetryCap  int
}

// SettingsService reads and updates database-backed policy knobs. Values are
// read per evaluation so changes apply without a restart.
type SettingsService struct {
	repo     SettingsRepository
	defaults PolicyThresholds
	logger   *slog.Logger
}

// NewSettingsService creates a new SettingsService
func NewSettingsService(repo SettingsRepository, defaults PolicyThresholds, log *slog.Logger) *SettingsService {
	return &SettingsService{
		repo:     repo,
		defaults: defaults,
		logger:   log,
	}
}

// Thresholds returns the current tiers. A missing or unreadable row falls
// back to the deployment default for that key.
func (s *SettingsService) Thresholds(ctx context.Context) PolicyThresholds {
	out := s.defaults

	if v, err := s.repo.GetInt(ctx, models.SettingChallengeThreshold, s.defaults.ChallengeThreshold); err == nil {
		out.ChallengeThreshold = v
	} else {
		s.logger.Error("failed to read challenge threshold", slog.Any("error", err))
	}

	if v, err := s.repo.GetInt(ctx, models.SettingBlockThreshold, s.defaults.BlockThreshold); err == nil {
		out.BlockThreshold = v
	} else {
		s.logger.Error("failed to read block threshold", slog.Any("error", err))
	}

	if v, err := s.repo.GetInt(ctx, models.SettingChallengeRetryCap, s.defaults.ChallengeRetryCap); err == nil {
		out.ChallengeRetryCap = v
	} else {
		s.logger.Error("failed to read challenge retry cap", slog.Any("error", err))
	}

	// A misconfigured pair would make the challenge tier unreachable.
	if out.BlockThreshold <= out.ChallengeThreshold {
		s.logger.Warn("block threshold not above challenge threshold, using defaults",
			slog.Int("challenge_threshold", out.ChallengeThreshold),
			slog.Int("block_threshold", out.BlockThreshold))
		return s.defaults
	}

	return out
}

// Set validates and writes a single setting
func (s *SettingsService) Set(ctx context.Context, key string, value int) error {
	switch key {
	case models.SettingChallengeThreshold, models.SettingBlockThreshold, models.SettingChallengeRetryCap:
	default:
		return fmt.Errorf("%w: unknown setting %q", models.ErrBadRequest, key)
	}
	if value <= 0 {
		return fmt.Errorf("%w: setting value must be positive", models.ErrBadRequest)
	}

	if err := s.repo.SetInt(ctx, key, value); err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}

	s.logger.Info("policy setting updated",
		slog.String("key", key),
		slog.Int("value", value))

	return nil
}

// List returns all stored settings
func (s *SettingsService) List(ctx context.Context) ([]*models.SecuritySetting, error) {
	return s.repo.List(ctx)
}
