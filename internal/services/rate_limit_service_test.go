package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitcart/gatekeeper/internal/models"
	"github.com/orbitcart/gatekeeper/internal/services"
)

func TestRateLimitServiceCheck_NoSettingAllows(t *testing.T) {
	repo := &MockRateLimitRepository{}
	service := services.NewRateLimitService(repo, testLogger())

	result, err := service.Check(context.Background(), "203.0.113.7", "login")

	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRateLimitServiceCheck_FallsBackToWildcard(t *testing.T) {
	repo := &MockRateLimitRepository{}
	var asked []string
	repo.GetSettingFunc = func(ctx context.Context, endpoint string) (*models.RateLimitSetting, error) {
		asked = append(asked, endpoint)
		if endpoint == models.WildcardEndpoint {
			return &models.RateLimitSetting{Endpoint: endpoint, MaxRequests: 10, WindowSeconds: 60, IsEnabled: true}, nil
		}
		return nil, nil
	}
	service := services.NewRateLimitService(repo, testLogger())

	result, err := service.Check(context.Background(), "203.0.113.7", "login")

	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 9, result.Remaining)
	assert.Equal(t, []string{"login", models.WildcardEndpoint}, asked)
}

func TestRateLimitServiceCheck_DisabledSettingAllows(t *testing.T) {
	repo := &MockRateLimitRepository{}
	repo.GetSettingFunc = func(ctx context.Context, endpoint string) (*models.RateLimitSetting, error) {
		return &models.RateLimitSetting{Endpoint: endpoint, MaxRequests: 1, WindowSeconds: 60, IsEnabled: false}, nil
	}
	service := services.NewRateLimitService(repo, testLogger())

	result, err := service.Check(context.Background(), "203.0.113.7", "login")

	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRateLimitServiceCheck_DeniesAtLimit(t *testing.T) {
	repo := &MockRateLimitRepository{}
	windowStart := time.Now().Add(-30 * time.Second)
	repo.GetSettingFunc = func(ctx context.Context, endpoint string) (*models.RateLimitSetting, error) {
		return &models.RateLimitSetting{Endpoint: endpoint, MaxRequests: 5, WindowSeconds: 60, IsEnabled: true}, nil
	}
	repo.GetWindowFunc = func(ctx context.Context, ip, endpoint string) (*models.RateWindow, error) {
		return &models.RateWindow{IPAddress: ip, Endpoint: endpoint, WindowStart: windowStart, RequestCount: 5}, nil
	}
	service := services.NewRateLimitService(repo, testLogger())

	result, err := service.Check(context.Background(), "203.0.113.7", "login")

	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, windowStart.Add(time.Minute).Unix(), result.ResetAt.Unix())
}

func TestRateLimitServiceCheck_FailsOpenOnStoreError(t *testing.T) {
	repo := &MockRateLimitRepository{}
	repo.GetSettingFunc = func(ctx context.Context, endpoint string) (*models.RateLimitSetting, error) {
		return nil, assert.AnError
	}
	service := services.NewRateLimitService(repo, testLogger())

	result, err := service.Check(context.Background(), "203.0.113.7", "login")

	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestRateLimitServiceRecord_UsesWindowCutoff(t *testing.T) {
	repo := &MockRateLimitRepository{}
	repo.GetSettingFunc = func(ctx context.Context, endpoint string) (*models.RateLimitSetting, error) {
		return &models.RateLimitSetting{Endpoint: endpoint, MaxRequests: 5, WindowSeconds: 60, IsEnabled: true}, nil
	}
	var cutoff time.Time
	repo.RecordRequestFunc = func(ctx context.Context, ip, endpoint string, windowStartCutoff time.Time) (*models.RateWindow, error) {
		cutoff = windowStartCutoff
		return &models.RateWindow{IPAddress: ip, Endpoint: endpoint, WindowStart: time.Now(), RequestCount: 1}, nil
	}
	service := services.NewRateLimitService(repo, testLogger())

	err := service.Record(context.Background(), "203.0.113.7", "login")

	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(-time.Minute), cutoff, 2*time.Second)
}

func TestRateLimitServiceUpsertSetting_RejectsInvalid(t *testing.T) {
	service := services.NewRateLimitService(&MockRateLimitRepository{}, testLogger())

	err := service.UpsertSetting(context.Background(), &models.RateLimitSetting{Endpoint: "login", MaxRequests: 0, WindowSeconds: 60})

	assert.ErrorIs(t, err, models.ErrBadRequest)
}
