package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orbitcart/gatekeeper/internal/device"
	"github.com/orbitcart/gatekeeper/internal/metrics"
	"github.com/orbitcart/gatekeeper/internal/models"
	"github.com/orbitcart/gatekeeper/pkg/logger"
)

// LoginActivityRepository defines the interface for activity and known
// device database operations
type LoginActivityRepository interface {
	Record(ctx context.Context, activity *models.LoginActivity) error
	List(ctx context.Context, email string, limit, offset int) ([]*models.LoginActivity, error)
	HasSuccessfulLogin(ctx context.Context, email string) (bool, error)
	IsKnownDevice(ctx context.Context, email, fingerprintKey string) (bool, error)
	RememberDevice(ctx context.Context, email, fingerprintKey string, limit int) error
	ListKnownDevices(ctx context.Context, email string) ([]*models.KnownDevice, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// DecisionConfig holds configuration for the decision engine
type DecisionConfig struct {
	// LoginEndpoint is the limiter key used for login evaluations
	LoginEndpoint    string
	KnownDeviceLimit int
}

// DecisionService evaluates login attempts against every protection layer
// and produces a single verdict. Layers are checked cheapest-first and the
// first hit short-circuits the rest.
type DecisionService struct {
	blockList    *BlockListService
	geo          *GeoPolicyService
	rateLimit    *RateLimitService
	counters     *FailureCounterService
	settings     *SettingsService
	challenges   *ChallengeService
	activityRepo LoginActivityRepository
	audit        *logger.AuditLogger
	metrics      *metrics.Metrics
	config       DecisionConfig
	logger       *slog.Logger
}

// NewDecisionService creates a new DecisionService
func NewDecisionService(
	blockList *BlockListService,
	geo *GeoPolicyService,
	rateLimit *RateLimitService,
	counters *FailureCounterService,
	settings *SettingsService,
	challenges *ChallengeService,
	activityRepo LoginActivityRepository,
	audit *logger.AuditLogger,
	m *metrics.Metrics,
	config DecisionConfig,
	log *slog.Logger,
) *DecisionService {
	return &DecisionService{
		blockList:    blockList,
		geo:          geo,
		rateLimit:    rateLimit,
		counters:     counters,
		settings:     settings,
		challenges:   challenges,
		activityRepo: activityRepo,
		audit:        audit,
		metrics:      m,
		config:       config,
		logger:       log,
	}
}

// Evaluate runs one login attempt through the protection layers in order:
// block list, geo policy, rate limiter, failure thresholds, device novelty.
// It writes the audit row for block and challenge verdicts; the row for an
// allowed attempt is written by ReportOutcome once the credential check
// lands.
func (s *DecisionService) Evaluate(ctx context.Context, attempt models.LoginAttempt) (*models.Decision, error) {
	start := time.Now()
	if s.metrics != nil {
		defer s.metrics.ObserveEvaluate(start)
	}

	fingerprint := device.Extract(attempt.UserAgent)

	// 1. Block list: either an IP or an email match blocks.
	// A fail-closed store error surfaces here as blocked=true.
	blocked, _ := s.blockList.IsBlocked(ctx, attempt.IPAddress, attempt.Email)
	if blocked {
		return s.block(ctx, attempt, fingerprint, models.ReasonIdentityBlocked, nil), nil
	}

	// 2. Geo policy. A geo block short-circuits before the limiter, so the
	// attempt consumes no rate budget.
	geoBlocked, err := s.geo.IsCountryBlocked(ctx, attempt.CountryCode)
	if err != nil {
		return nil, err
	}
	if geoBlocked {
		return s.block(ctx, attempt, fingerprint, models.ReasonCountryBlocked, nil), nil
	}

	// 3. Rate limiter.
	rate, err := s.rateLimit.Check(ctx, attempt.IPAddress, s.config.LoginEndpoint)
	if err != nil {
		return nil, err
	}
	if !rate.Allowed {
		resetAt := rate.ResetAt
		return s.block(ctx, attempt, fingerprint, models.ReasonRateLimited, &resetAt), nil
	}
	if err := s.rateLimit.Record(ctx, attempt.IPAddress, s.config.LoginEndpoint); err != nil {
		s.logger.Error("failed to consume rate budget", slog.Any("error", err))
	}

	// The remaining layers are identity-scoped.
	if attempt.Email == "" {
		return s.allow(attempt), nil
	}

	// 4. Failure thresholds, block tier first.
	thresholds := s.settings.Thresholds(ctx)
	failures := s.counters.EffectiveFailures(ctx, attempt.Email)
	if failures >= thresholds.BlockThreshold {
		return s.block(ctx, attempt, fingerprint, models.ReasonFailureThreshold, nil), nil
	}
	if failures >= thresholds.ChallengeThreshold {
		return s.challenge(ctx, attempt, fingerprint, models.ReasonFailureThreshold)
	}

	// 5. Device novelty. Only meaningful once the account has a history;
	// a first-ever login is never challenged for novelty.
	novel, err := s.isNovelDevice(ctx, attempt.Email, fingerprint)
	if err != nil {
		s.logger.Error("device novelty check failed", slog.Any("error", err))
	} else if novel {
		return s.challenge(ctx, attempt, fingerprint, models.ReasonNewDevice)
	}

	return s.allow(attempt), nil
}

func (s *DecisionService) isNovelDevice(ctx context.Context, email string, fingerprint models.Fingerprint) (bool, error) {
	hasHistory, err := s.activityRepo.HasSuccessfulLogin(ctx, email)
	if err != nil {
		return false, err
	}
	if !hasHistory {
		return false, nil
	}

	known, err := s.activityRepo.IsKnownDevice(ctx, email, fingerprint.Key())
	if err != nil {
		return false, err
	}
	return !known, nil
}

func (s *DecisionService) allow(attempt models.LoginAttempt) *models.Decision {
	s.audit.LogDecision(logger.AuditEvent{
		EventType: "login_evaluated",
		Email:     attempt.Email,
		IPAddress: attempt.IPAddress,
		Verdict:   string(models.VerdictAllow),
	})
	if s.metrics != nil {
		s.metrics.IncrementDecision(string(models.VerdictAllow), "")
	}
	return &models.Decision{Verdict: models.VerdictAllow}
}

func (s *DecisionService) block(ctx context.Context, attempt models.LoginAttempt, fingerprint models.Fingerprint, reason string, retryAfter *time.Time) *models.Decision {
	s.recordActivity(ctx, attempt, fingerprint, models.ActivityStatusBlocked, &reason)

	s.audit.LogDecision(logger.AuditEvent{
		EventType:     "login_evaluated",
		Email:         attempt.Email,
		IPAddress:     attempt.IPAddress,
		Verdict:       string(models.VerdictBlock),
		FailureReason: reason,
	})
	if s.metrics != nil {
		s.metrics.IncrementDecision(string(models.VerdictBlock), reason)
	}

	return &models.Decision{
		Verdict:    models.VerdictBlock,
		Reason:     reason,
		RetryAfter: retryAfter,
	}
}

func (s *DecisionService) challenge(ctx context.Context, attempt models.LoginAttempt, fingerprint models.Fingerprint, reason string) (*models.Decision, error) {
	issued, err := s.challenges.Issue(ctx, attempt.Email, reason)
	if err != nil {
		// A challenge that cannot be issued must not silently become an
		// allow.
		return nil, fmt.Errorf("failed to issue challenge: %w", err)
	}

	s.recordActivity(ctx, attempt, fingerprint, models.ActivityStatusChallenged, &reason)

	s.audit.LogDecision(logger.AuditEvent{
		EventType:     "login_evaluated",
		Email:         attempt.Email,
		IPAddress:     attempt.IPAddress,
		Verdict:       string(models.VerdictChallenge),
		FailureReason: reason,
	})
	if s.metrics != nil {
		s.metrics.IncrementDecision(string(models.VerdictChallenge), reason)
	}

	return &models.Decision{
		Verdict:        models.VerdictChallenge,
		Reason:         reason,
		ChallengeToken: issued.Token,
	}, nil
}

// ReportOutcome records what the credential check decided for an attempt
// that was allowed through. Success clears the failure counter and marks
// the device as known; failure charges the counter.
func (s *DecisionService) ReportOutcome(ctx context.Context, attempt models.LoginAttempt, success bool, failureReason *string) error {
	fingerprint := device.Extract(attempt.UserAgent)

	status := models.ActivityStatusFailed
	if success {
		status = models.ActivityStatusSuccess
	}
	s.recordActivity(ctx, attempt, fingerprint, status, failureReason)

	if attempt.Email == "" {
		return nil
	}

	if success {
		if err := s.counters.Clear(ctx, attempt.Email); err != nil {
			return err
		}
		if err := s.activityRepo.RememberDevice(ctx, attempt.Email, fingerprint.Key(), s.config.KnownDeviceLimit); err != nil {
			s.logger.Error("failed to remember device",
				slog.String("email", logger.SanitizedEmail(attempt.Email)),
				slog.Any("error", err))
		}
		return nil
	}

	if _, err := s.counters.RecordFailure(ctx, attempt.Email); err != nil {
		return err
	}
	return nil
}

// ListActivity returns audit rows for an email, newest first
func (s *DecisionService) ListActivity(ctx context.Context, email string, limit, offset int) ([]*models.LoginActivity, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.activityRepo.List(ctx, email, limit, offset)
}

// ListKnownDevices returns the bounded known device set for an email
func (s *DecisionService) ListKnownDevices(ctx context.Context, email string) ([]*models.KnownDevice, error) {
	return s.activityRepo.ListKnownDevices(ctx, email)
}

func (s *DecisionService) recordActivity(ctx context.Context, attempt models.LoginAttempt, fingerprint models.Fingerprint, status string, failureReason *string) {
	activity := &models.LoginActivity{
		Email:         attempt.Email,
		IPAddress:     attempt.IPAddress,
		UserAgent:     attempt.UserAgent,
		BrowserFamily: fingerprint.BrowserFamily,
		OSFamily:      fingerprint.OSFamily,
		DeviceClass:   fingerprint.DeviceClass,
		CountryCode:   attempt.CountryCode,
		Status:        status,
		FailureReason: failureReason,
	}
	if err := s.activityRepo.Record(ctx, activity); err != nil {
		// The verdict still stands when the audit write fails; losing the
		// row is better than failing the login path.
		s.logger.Error("failed to record login activity",
			slog.String("status", status),
			slog.Any("error", err))
	}
}
