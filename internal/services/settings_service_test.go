package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orbitcart/gatekeeper/internal/models"
	"github.com/orbitcart/gatekeeper/internal/services"
)

func defaultThresholds() services.PolicyThresholds {
	return services.PolicyThresholds{
		ChallengeThreshold: 5,
		BlockThreshold:     10,
		ChallengeRetryCap:  5,
	}
}

func TestSettingsServiceThresholds_ReadsStoredValues(t *testing.T) {
	repo := &MockSettingsRepository{}
	repo.GetIntFunc = func(ctx context.Context, key string, fallback int) (int, error) {
		switch key {
		case models.SettingChallengeThreshold:
			return 3, nil
		case models.SettingBlockThreshold:
			return 8, nil
		case models.SettingChallengeRetryCap:
			return 2, nil
		}
		return fallback, nil
	}
	service := services.NewSettingsService(repo, defaultThresholds(), testLogger())

	got := service.Thresholds(context.Background())

	assert.Equal(t, 3, got.ChallengeThreshold)
	assert.Equal(t, 8, got.BlockThreshold)
	assert.Equal(t, 2, got.ChallengeRetryCap)
}

func TestSettingsServiceThresholds_FallsBackOnMisconfiguredPair(t *testing.T) {
	repo := &MockSettingsRepository{}
	repo.GetIntFunc = func(ctx context.Context, key string, fallback int) (int, error) {
		// Block tier at or below the challenge tier would make challenges
		// unreachable.
		return 5, nil
	}
	service := services.NewSettingsService(repo, defaultThresholds(), testLogger())

	got := service.Thresholds(context.Background())

	assert.Equal(t, defaultThresholds(), got)
}

func TestSettingsServiceSet_RejectsUnknownKey(t *testing.T) {
	service := services.NewSettingsService(&MockSettingsRepository{}, defaultThresholds(), testLogger())

	err := service.Set(context.Background(), "no_such_setting", 3)

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestSettingsServiceSet_RejectsNonPositiveValue(t *testing.T) {
	service := services.NewSettingsService(&MockSettingsRepository{}, defaultThresholds(), testLogger())

	err := service.Set(context.Background(), models.SettingBlockThreshold, 0)

	assert.ErrorIs(t, err, models.ErrBadRequest)
}
