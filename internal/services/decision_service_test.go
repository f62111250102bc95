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

type decisionFixture struct {
	blockRepo    *MockBlockListRepository
	geoRepo      *MockGeoRuleRepository
	rateRepo     *MockRateLimitRepository
	counterRepo  *MockFailedAttemptRepository
	settingsRepo *MockSettingsRepository
	activityRepo *MockLoginActivityRepository
	email        *MockEmailService
	service      *services.DecisionService
}

func newDecisionFixture(t *testing.T) *decisionFixture {
	t.Helper()
	log := testLogger()
	audit := testAudit(t)

	f := &decisionFixture{
		blockRepo:    &MockBlockListRepository{},
		geoRepo:      &MockGeoRuleRepository{},
		rateRepo:     &MockRateLimitRepository{},
		counterRepo:  &MockFailedAttemptRepository{},
		settingsRepo: &MockSettingsRepository{},
		activityRepo: &MockLoginActivityRepository{},
		email:        &MockEmailService{},
	}

	blockList := services.NewBlockListService(f.blockRepo, services.BlockListConfig{}, log)
	geo := services.NewGeoPolicyService(f.geoRepo, log)
	rateLimit := services.NewRateLimitService(f.rateRepo, log)
	counters := services.NewFailureCounterService(f.counterRepo, 24*time.Hour, log)
	settings := services.NewSettingsService(f.settingsRepo, services.PolicyThresholds{
		ChallengeThreshold: 5,
		BlockThreshold:     10,
		ChallengeRetryCap:  5,
	}, log)
	challenges := services.NewChallengeService(
		&MockChallengeRepository{}, &MockRecoveryCodeRepository{}, &MockTOTPRepository{},
		&MockTxRunner{}, counters, blockList, settings, f.email, nil, nil, audit, nil,
		services.ChallengeConfig{Expiry: 10 * time.Minute, EscalationBlock: time.Hour}, log)

	f.service = services.NewDecisionService(
		blockList, geo, rateLimit, counters, settings, challenges, f.activityRepo,
		audit, nil,
		services.DecisionConfig{LoginEndpoint: "login", KnownDeviceLimit: 5}, log)

	return f
}

func testAttempt() models.LoginAttempt {
	return models.LoginAttempt{
		Email:       "user@example.com",
		IPAddress:   "203.0.113.7",
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		CountryCode: "US",
	}
}

func TestDecisionServiceEvaluate_AllowsCleanAttempt(t *testing.T) {
	f := newDecisionFixture(t)

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictAllow, decision.Verdict)
	assert.Empty(t, decision.Reason)
	// The audit row for an allowed attempt is written by ReportOutcome.
	assert.Empty(t, f.activityRepo.Recorded)
}

func TestDecisionServiceEvaluate_BlocksListedIdentity(t *testing.T) {
	f := newDecisionFixture(t)
	f.blockRepo.HasActiveBlockFunc = func(ctx context.Context, ip, email string) (bool, error) {
		return true, nil
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictBlock, decision.Verdict)
	assert.Equal(t, models.ReasonIdentityBlocked, decision.Reason)

	require.Len(t, f.activityRepo.Recorded, 1)
	assert.Equal(t, models.ActivityStatusBlocked, f.activityRepo.Recorded[0].Status)
}

func TestDecisionServiceEvaluate_GeoBlockConsumesNoRateBudget(t *testing.T) {
	f := newDecisionFixture(t)
	f.geoRepo.GetFunc = func(ctx context.Context, countryCode string) (*models.GeoRule, error) {
		return &models.GeoRule{CountryCode: countryCode, IsBlocked: true}, nil
	}
	recorded := false
	f.rateRepo.RecordRequestFunc = func(ctx context.Context, ip, endpoint string, cutoff time.Time) (*models.RateWindow, error) {
		recorded = true
		return nil, nil
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictBlock, decision.Verdict)
	assert.Equal(t, models.ReasonCountryBlocked, decision.Reason)
	assert.False(t, recorded, "a geo-blocked attempt must not consume rate budget")
}

func TestDecisionServiceEvaluate_BlocksWhenRateLimited(t *testing.T) {
	f := newDecisionFixture(t)
	f.rateRepo.GetSettingFunc = func(ctx context.Context, endpoint string) (*models.RateLimitSetting, error) {
		return &models.RateLimitSetting{Endpoint: endpoint, MaxRequests: 3, WindowSeconds: 60, IsEnabled: true}, nil
	}
	f.rateRepo.GetWindowFunc = func(ctx context.Context, ip, endpoint string) (*models.RateWindow, error) {
		return &models.RateWindow{IPAddress: ip, Endpoint: endpoint, WindowStart: time.Now().Add(-10 * time.Second), RequestCount: 3}, nil
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictBlock, decision.Verdict)
	assert.Equal(t, models.ReasonRateLimited, decision.Reason)
	require.NotNil(t, decision.RetryAfter)
	assert.True(t, decision.RetryAfter.After(time.Now()))
}

func TestDecisionServiceEvaluate_ExpiredWindowReadsAsZero(t *testing.T) {
	f := newDecisionFixture(t)
	f.rateRepo.GetSettingFunc = func(ctx context.Context, endpoint string) (*models.RateLimitSetting, error) {
		return &models.RateLimitSetting{Endpoint: endpoint, MaxRequests: 3, WindowSeconds: 60, IsEnabled: true}, nil
	}
	f.rateRepo.GetWindowFunc = func(ctx context.Context, ip, endpoint string) (*models.RateWindow, error) {
		return &models.RateWindow{IPAddress: ip, Endpoint: endpoint, WindowStart: time.Now().Add(-5 * time.Minute), RequestCount: 100}, nil
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictAllow, decision.Verdict)
}

func TestDecisionServiceEvaluate_ChallengesAtChallengeThreshold(t *testing.T) {
	f := newDecisionFixture(t)
	f.counterRepo.GetFunc = func(ctx context.Context, email string) (*models.FailedAttemptCounter, error) {
		return &models.FailedAttemptCounter{Email: email, AttemptCount: 5, LastAttemptAt: time.Now()}, nil
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictChallenge, decision.Verdict)
	assert.Equal(t, models.ReasonFailureThreshold, decision.Reason)
	assert.NotEmpty(t, decision.ChallengeToken)
	assert.Len(t, f.email.SentCodes, 1)

	require.Len(t, f.activityRepo.Recorded, 1)
	assert.Equal(t, models.ActivityStatusChallenged, f.activityRepo.Recorded[0].Status)
}

func TestDecisionServiceEvaluate_BlocksAtBlockThreshold(t *testing.T) {
	f := newDecisionFixture(t)
	f.counterRepo.GetFunc = func(ctx context.Context, email string) (*models.FailedAttemptCounter, error) {
		return &models.FailedAttemptCounter{Email: email, AttemptCount: 10, LastAttemptAt: time.Now()}, nil
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictBlock, decision.Verdict)
	assert.Equal(t, models.ReasonFailureThreshold, decision.Reason)
	assert.Empty(t, f.email.SentCodes)
}

func TestDecisionServiceEvaluate_DecayedFailuresReadAsZero(t *testing.T) {
	f := newDecisionFixture(t)
	f.counterRepo.GetFunc = func(ctx context.Context, email string) (*models.FailedAttemptCounter, error) {
		return &models.FailedAttemptCounter{Email: email, AttemptCount: 10, LastAttemptAt: time.Now().Add(-25 * time.Hour)}, nil
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictAllow, decision.Verdict)
}

func TestDecisionServiceEvaluate_ChallengesNewDevice(t *testing.T) {
	f := newDecisionFixture(t)
	f.activityRepo.HasSuccessfulLoginFunc = func(ctx context.Context, email string) (bool, error) {
		return true, nil
	}
	f.activityRepo.IsKnownDeviceFunc = func(ctx context.Context, email, fingerprintKey string) (bool, error) {
		return false, nil
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictChallenge, decision.Verdict)
	assert.Equal(t, models.ReasonNewDevice, decision.Reason)
	assert.NotEmpty(t, decision.ChallengeToken)
}

func TestDecisionServiceEvaluate_FirstLoginNeverNoveltyChallenged(t *testing.T) {
	f := newDecisionFixture(t)
	f.activityRepo.HasSuccessfulLoginFunc = func(ctx context.Context, email string) (bool, error) {
		return false, nil
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictAllow, decision.Verdict)
}

func TestDecisionServiceEvaluate_KnownDeviceAllowed(t *testing.T) {
	f := newDecisionFixture(t)
	f.activityRepo.HasSuccessfulLoginFunc = func(ctx context.Context, email string) (bool, error) {
		return true, nil
	}
	f.activityRepo.IsKnownDeviceFunc = func(ctx context.Context, email, fingerprintKey string) (bool, error) {
		assert.Equal(t, "chrome/windows/desktop", fingerprintKey)
		return true, nil
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictAllow, decision.Verdict)
}

func TestDecisionServiceEvaluate_BlockListFailsOpenByDefault(t *testing.T) {
	f := newDecisionFixture(t)
	f.blockRepo.HasActiveBlockFunc = func(ctx context.Context, ip, email string) (bool, error) {
		return false, assert.AnError
	}

	decision, err := f.service.Evaluate(context.Background(), testAttempt())

	require.NoError(t, err)
	assert.Equal(t, models.VerdictAllow, decision.Verdict)
}

func TestDecisionServiceReportOutcome_SuccessClearsCounterAndRemembersDevice(t *testing.T) {
	f := newDecisionFixture(t)

	cleared := false
	f.counterRepo.ClearFunc = func(ctx context.Context, email string) error {
		cleared = true
		return nil
	}
	var rememberedKey string
	f.activityRepo.RememberDeviceFunc = func(ctx context.Context, email, fingerprintKey string, limit int) error {
		rememberedKey = fingerprintKey
		assert.Equal(t, 5, limit)
		return nil
	}
	var recorded *models.LoginActivity
	f.activityRepo.RecordFunc = func(ctx context.Context, activity *models.LoginActivity) error {
		recorded = activity
		return nil
	}

	err := f.service.ReportOutcome(context.Background(), testAttempt(), true, nil)

	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Equal(t, "chrome/windows/desktop", rememberedKey)
	require.NotNil(t, recorded)
	assert.Equal(t, models.ActivityStatusSuccess, recorded.Status)
	assert.Equal(t, "chrome", recorded.BrowserFamily)
}

func TestDecisionServiceReportOutcome_FailureChargesCounter(t *testing.T) {
	f := newDecisionFixture(t)

	incremented := false
	f.counterRepo.IncrementFunc = func(ctx context.Context, email string) (int, error) {
		incremented = true
		return 1, nil
	}

	reason := "invalid credentials"
	err := f.service.ReportOutcome(context.Background(), testAttempt(), false, &reason)

	require.NoError(t, err)
	assert.True(t, incremented)
	require.Len(t, f.activityRepo.Recorded, 1)
	assert.Equal(t, models.ActivityStatusFailed, f.activityRepo.Recorded[0].Status)
	require.NotNil(t, f.activityRepo.Recorded[0].FailureReason)
	assert.Equal(t, reason, *f.activityRepo.Recorded[0].FailureReason)
}
