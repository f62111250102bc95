package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orbitcart/gatekeeper/internal/models"
)

// RateLimitRepository defines the interface for rate limiting database operations
type RateLimitRepository interface {
	GetSetting(ctx context.Context, endpoint string) (*models.RateLimitSetting, error)
	UpsertSetting(ctx context.Context, setting *models.RateLimitSetting) error
	ListSettings(ctx context.Context) ([]*models.RateLimitSetting, error)
	GetWindow(ctx context.Context, ip, endpoint string) (*models.RateWindow, error)
	RecordRequest(ctx context.Context, ip, endpoint string, windowStartCutoff time.Time) (*models.RateWindow, error)
	DeleteStaleWindows(ctx context.Context, cutoff time.Time) (int64, error)
}

// RateLimitService implements fixed-window request limiting keyed by
// (ip, endpoint). Limits are rows in the settings table; the wildcard row
// applies to endpoints without a dedicated setting.
type RateLimitService struct {
	repo   RateLimitRepository
	logger *slog.Logger
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(repo RateLimitRepository, log *slog.Logger) *RateLimitService {
	return &RateLimitService{
		repo:   repo,
		logger: log,
	}
}

// settingFor resolves the effective setting for an endpoint, falling back to
// the wildcard row. A nil return means no limiting is configured.
func (s *RateLimitService) settingFor(ctx context.Context, endpoint string) (*models.RateLimitSetting, error) {
	setting, err := s.repo.GetSetting(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if setting == nil && endpoint != models.WildcardEndpoint {
		setting, err = s.repo.GetSetting(ctx, models.WildcardEndpoint)
		if err != nil {
			return nil, err
		}
	}
	if setting == nil || !setting.IsEnabled || setting.MaxRequests <= 0 {
		return nil, nil
	}
	return setting, nil
}

// Check reports whether another request from ip against endpoint fits the
// current window. It does not consume budget; call Record for that.
// Store errors fail open.
func (s *RateLimitService) Check(ctx context.Context, ip, endpoint string) (*models.RateLimitResult, error) {
	now := time.Now()

	setting, err := s.settingFor(ctx, endpoint)
	if err != nil {
		s.logger.Error("rate limit setting lookup failed",
			slog.String("endpoint", endpoint),
			slog.Any("error", err))
		return &models.RateLimitResult{Allowed: true}, nil
	}
	if setting == nil {
		return &models.RateLimitResult{Allowed: true}, nil
	}

	window, err := s.repo.GetWindow(ctx, ip, endpoint)
	if err != nil {
		s.logger.Error("rate window lookup failed",
			slog.String("ip_address", ip),
			slog.String("endpoint", endpoint),
			slog.Any("error", err))
		return &models.RateLimitResult{Allowed: true}, nil
	}

	// An absent or expired window counts as zero requests.
	count := 0
	resetAt := now.Add(setting.Window())
	if window != nil && now.Sub(window.WindowStart) < setting.Window() {
		count = window.RequestCount
		resetAt = window.WindowStart.Add(setting.Window())
	}

	if count >= setting.MaxRequests {
		s.logger.Warn("rate limit exceeded",
			slog.String("ip_address", ip),
			slog.String("endpoint", endpoint),
			slog.Int("request_count", count),
			slog.Int("max_requests", setting.MaxRequests))
		return &models.RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   resetAt,
		}, nil
	}

	return &models.RateLimitResult{
		Allowed:   true,
		Remaining: setting.MaxRequests - count - 1,
		ResetAt:   resetAt,
	}, nil
}

// Record consumes one unit of budget, starting a fresh window when the
// previous one has expired. Check and Record are separate calls, so a burst
// arriving between them can overshoot the limit by a few requests. That is
// an accepted trade for keeping the common path to two cheap queries.
func (s *RateLimitService) Record(ctx context.Context, ip, endpoint string) error {
	setting, err := s.settingFor(ctx, endpoint)
	if err != nil || setting == nil {
		return err
	}

	cutoff := time.Now().Add(-setting.Window())
	if _, err := s.repo.RecordRequest(ctx, ip, endpoint, cutoff); err != nil {
		s.logger.Error("failed to record request",
			slog.String("ip_address", ip),
			slog.String("endpoint", endpoint),
			slog.Any("error", err))
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

// UpsertSetting validates and saves a limiter setting
func (s *RateLimitService) UpsertSetting(ctx context.Context, setting *models.RateLimitSetting) error {
	if setting.Endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", models.ErrBadRequest)
	}
	if setting.MaxRequests <= 0 || setting.WindowSeconds <= 0 {
		return fmt.Errorf("%w: max_requests and window_seconds must be positive", models.ErrBadRequest)
	}
	if err := s.repo.UpsertSetting(ctx, setting); err != nil {
		return fmt.Errorf("failed to save rate limit setting: %w", err)
	}

	s.logger.Info("rate limit setting updated",
		slog.String("endpoint", setting.Endpoint),
		slog.Int("max_requests", setting.MaxRequests),
		slog.Int("window_seconds", setting.WindowSeconds))

	return nil
}

// ListSettings returns all limiter settings
func (s *RateLimitService) ListSettings(ctx context.Context) ([]*models.RateLimitSetting, error) {
	return s.repo.ListSettings(ctx)
}
