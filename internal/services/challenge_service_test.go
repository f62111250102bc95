package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitcart/gatekeeper/internal/models"
	"github.com/orbitcart/gatekeeper/internal/services"
	pkgauth "github.com/orbitcart/gatekeeper/pkg/auth"
)

type challengeFixture struct {
	challengeRepo *MockChallengeRepository
	recoveryRepo  *MockRecoveryCodeRepository
	totpRepo      *MockTOTPRepository
	counterRepo   *MockFailedAttemptRepository
	blockRepo     *MockBlockListRepository
	email         *MockEmailService
	service       *services.ChallengeService
}

func newChallengeFixture(t *testing.T) *challengeFixture {
	t.Helper()
	log := testLogger()

	f := &challengeFixture{
		challengeRepo: &MockChallengeRepository{},
		recoveryRepo:  &MockRecoveryCodeRepository{},
		totpRepo:      &MockTOTPRepository{},
		counterRepo:   &MockFailedAttemptRepository{},
		blockRepo:     &MockBlockListRepository{},
		email:         &MockEmailService{},
	}

	counters := services.NewFailureCounterService(f.counterRepo, 24*time.Hour, log)
	blockList := services.NewBlockListService(f.blockRepo, services.BlockListConfig{}, log)
	settings := services.NewSettingsService(&MockSettingsRepository{}, services.PolicyThresholds{
		ChallengeThreshold: 5,
		BlockThreshold:     10,
		ChallengeRetryCap:  5,
	}, log)

	f.service = services.NewChallengeService(
		f.challengeRepo, f.recoveryRepo, f.totpRepo, &MockTxRunner{},
		counters, blockList, settings, f.email, nil, nil, testAudit(t), nil,
		services.ChallengeConfig{Expiry: 10 * time.Minute, EscalationBlock: time.Hour}, log)

	return f
}

func pendingChallenge(code string) *models.VerificationChallenge {
	return &models.VerificationChallenge{
		ID:        uuid.New(),
		Token:     "tok-abc",
		Email:     "user@example.com",
		Reason:    models.ReasonFailureThreshold,
		CodeHash:  pkgauth.HashCode(code),
		Status:    models.ChallengeStatusPending,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
}

func TestChallengeServiceIssue_DeliversCodeAndSupersedes(t *testing.T) {
	f := newChallengeFixture(t)

	superseded := false
	f.challengeRepo.CreateSupersedingFunc = func(ctx context.Context, ch *models.VerificationChallenge) (*models.VerificationChallenge, error) {
		superseded = true
		assert.Equal(t, models.ChallengeStatusPending, ch.Status)
		assert.NotEmpty(t, ch.Token)
		assert.NotEmpty(t, ch.CodeHash)
		return ch, nil
	}

	challenge, err := f.service.Issue(context.Background(), "user@example.com", models.ReasonNewDevice)

	require.NoError(t, err)
	assert.True(t, superseded)
	assert.True(t, challenge.ExpiresAt.After(time.Now()))
	require.Len(t, f.email.SentCodes, 1)
	assert.Len(t, f.email.SentCodes[0], 6)
}

func TestChallengeServiceIssue_SurvivesDeliveryFailure(t *testing.T) {
	f := newChallengeFixture(t)
	f.email.SendChallengeCodeFunc = func(ctx context.Context, email, code string, expiresAt time.Time) error {
		return assert.AnError
	}

	challenge, err := f.service.Issue(context.Background(), "user@example.com", models.ReasonNewDevice)

	// Recovery codes and TOTP still work, so a failed send does not fail
	// the issue.
	require.NoError(t, err)
	assert.NotNil(t, challenge)
}

func TestChallengeServiceResolve_VerifiesCorrectCode(t *testing.T) {
	f := newChallengeFixture(t)
	f.challengeRepo.GetByTokenFunc = func(ctx context.Context, token string) (*models.VerificationChallenge, error) {
		return pendingChallenge("123456"), nil
	}

	markedVerified := false
	f.challengeRepo.MarkVerifiedFunc = func(ctx context.Context, id uuid.UUID) error {
		markedVerified = true
		return nil
	}
	cleared := false
	f.counterRepo.ClearFunc = func(ctx context.Context, email string) error {
		cleared = true
		assert.Equal(t, "user@example.com", email)
		return nil
	}

	resolution, err := f.service.Resolve(context.Background(), "tok-abc", models.ProofTypeCode, "123456")

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionVerified, resolution)
	assert.True(t, markedVerified)
	assert.True(t, cleared)
}

func TestChallengeServiceResolve_RejectsWrongCode(t *testing.T) {
	f := newChallengeFixture(t)
	f.challengeRepo.GetByTokenFunc = func(ctx context.Context, token string) (*models.VerificationChallenge, error) {
		return pendingChallenge("123456"), nil
	}
	f.challengeRepo.IncrementAttemptsFunc = func(ctx context.Context, id uuid.UUID) (int, error) {
		return 1, nil
	}

	resolution, err := f.service.Resolve(context.Background(), "tok-abc", models.ProofTypeCode, "654321")

	assert.ErrorIs(t, err, models.ErrInvalidProof)
	assert.Equal(t, models.ResolutionFailed, resolution)
}

func TestChallengeServiceResolve_EscalatesOnExhaustedRetries(t *testing.T) {
	f := newChallengeFixture(t)
	f.challengeRepo.GetByTokenFunc = func(ctx context.Context, token string) (*models.VerificationChallenge, error) {
		return pendingChallenge("123456"), nil
	}
	f.challengeRepo.IncrementAttemptsFunc = func(ctx context.Context, id uuid.UUID) (int, error) {
		return 5, nil
	}

	var terminalStatus string
	f.challengeRepo.MarkTerminalFunc = func(ctx context.Context, id uuid.UUID, status string) error {
		terminalStatus = status
		return nil
	}
	var escalated *models.BlockTarget
	var escalatedBy string
	f.blockRepo.UpsertFunc = func(ctx context.Context, target models.BlockTarget, reason, createdBy string, permanent bool, until *time.Time) (*models.BlockEntry, error) {
		escalated = &target
		escalatedBy = createdBy
		assert.False(t, permanent)
		require.NotNil(t, until)
		assert.True(t, until.After(time.Now()))
		return &models.BlockEntry{ID: uuid.New()}, nil
	}

	resolution, err := f.service.Resolve(context.Background(), "tok-abc", models.ProofTypeCode, "000000")

	assert.ErrorIs(t, err, models.ErrRetryExhausted)
	assert.Equal(t, models.ResolutionFailed, resolution)
	assert.Equal(t, models.ChallengeStatusFailed, terminalStatus)
	require.NotNil(t, escalated)
	assert.Equal(t, "user@example.com", escalated.Email)
	assert.Empty(t, escalated.IPAddress)
	assert.Equal(t, models.BlockOriginEscalation, escalatedBy)
}

func TestChallengeServiceResolve_ExpiredChallenge(t *testing.T) {
	f := newChallengeFixture(t)
	f.challengeRepo.GetByTokenFunc = func(ctx context.Context, token string) (*models.VerificationChallenge, error) {
		ch := pendingChallenge("123456")
		ch.ExpiresAt = time.Now().Add(-time.Minute)
		return ch, nil
	}

	var terminalStatus string
	f.challengeRepo.MarkTerminalFunc = func(ctx context.Context, id uuid.UUID, status string) error {
		terminalStatus = status
		return nil
	}

	resolution, err := f.service.Resolve(context.Background(), "tok-abc", models.ProofTypeCode, "123456")

	assert.ErrorIs(t, err, models.ErrChallengeExpired)
	assert.Equal(t, models.ResolutionExpired, resolution)
	assert.Equal(t, models.ChallengeStatusExpired, terminalStatus)
}

func TestChallengeServiceResolve_AlreadyResolved(t *testing.T) {
	f := newChallengeFixture(t)
	f.challengeRepo.GetByTokenFunc = func(ctx context.Context, token string) (*models.VerificationChallenge, error) {
		ch := pendingChallenge("123456")
		ch.Status = models.ChallengeStatusVerified
		return ch, nil
	}

	_, err := f.service.Resolve(context.Background(), "tok-abc", models.ProofTypeCode, "123456")

	assert.ErrorIs(t, err, models.ErrChallengeResolved)
}

func TestChallengeServiceResolve_UnknownToken(t *testing.T) {
	f := newChallengeFixture(t)

	_, err := f.service.Resolve(context.Background(), "missing", models.ProofTypeCode, "123456")

	assert.ErrorIs(t, err, models.ErrChallengeNotFound)
}

func TestChallengeServiceResolve_ConsumesRecoveryCode(t *testing.T) {
	f := newChallengeFixture(t)
	f.challengeRepo.GetByTokenFunc = func(ctx context.Context, token string) (*models.VerificationChallenge, error) {
		return pendingChallenge("123456"), nil
	}

	hash, err := pkgauth.HashRecoveryCode("ABCDE-FGHJK")
	require.NoError(t, err)
	codeID := uuid.New()
	f.recoveryRepo.ListUnusedFunc = func(ctx context.Context, email string) ([]*models.RecoveryCode, error) {
		return []*models.RecoveryCode{{ID: codeID, Email: email, CodeHash: hash}}, nil
	}

	consumed := false
	f.recoveryRepo.ConsumeTxFunc = func(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
		consumed = true
		assert.Equal(t, codeID, id)
		return nil
	}
	verifiedInTx := false
	f.challengeRepo.MarkVerifiedTxFunc = func(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
		verifiedInTx = true
		return nil
	}

	resolution, err := f.service.Resolve(context.Background(), "tok-abc", models.ProofTypeRecoveryCode, "ABCDE-FGHJK")

	require.NoError(t, err)
	assert.Equal(t, models.ResolutionVerified, resolution)
	assert.True(t, consumed)
	assert.True(t, verifiedInTx)
}

func TestChallengeServiceResolve_RejectsUnknownRecoveryCode(t *testing.T) {
	f := newChallengeFixture(t)
	f.challengeRepo.GetByTokenFunc = func(ctx context.Context, token string) (*models.VerificationChallenge, error) {
		return pendingChallenge("123456"), nil
	}
	f.challengeRepo.IncrementAttemptsFunc = func(ctx context.Context, id uuid.UUID) (int, error) {
		return 1, nil
	}

	resolution, err := f.service.Resolve(context.Background(), "tok-abc", models.ProofTypeRecoveryCode, "WRONG-CODES")

	assert.ErrorIs(t, err, models.ErrInvalidProof)
	assert.Equal(t, models.ResolutionFailed, resolution)
}

func TestChallengeServiceResolve_TOTPWithoutEnrollment(t *testing.T) {
	f := newChallengeFixture(t)
	f.challengeRepo.GetByTokenFunc = func(ctx context.Context, token string) (*models.VerificationChallenge, error) {
		return pendingChallenge("123456"), nil
	}

	_, err := f.service.Resolve(context.Background(), "tok-abc", models.ProofTypeTOTP, "000000")

	assert.ErrorIs(t, err, models.ErrTOTPNotEnrolled)
}

func TestChallengeServiceResolve_UnknownProofType(t *testing.T) {
	f := newChallengeFixture(t)
	f.challengeRepo.GetByTokenFunc = func(ctx context.Context, token string) (*models.VerificationChallenge, error) {
		return pendingChallenge("123456"), nil
	}

	_, err := f.service.Resolve(context.Background(), "tok-abc", "sms", "123456")

	assert.ErrorIs(t, err, models.ErrBadRequest)
}
