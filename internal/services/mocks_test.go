package services_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/orbitcart/gatekeeper/internal/models"
	"github.com/orbitcart/gatekeeper/pkg/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func testAudit(t *testing.T) *logger.AuditLogger {
	t.Helper()
	return logger.NewAuditLogger(testLogger())
}

// MockBlockListRepository implements BlockListRepository for testing
type MockBlockListRepository struct {
	HasActiveBlockFunc func(ctx context.Context, ip, email string) (bool, error)
	UpsertFunc         func(ctx context.Context, target models.BlockTarget, reason, createdBy string, permanent bool, until *time.Time) (*models.BlockEntry, error)
	DeleteFunc         func(ctx context.Context, id uuid.UUID) error
	ListFunc           func(ctx context.Context, limit, offset int) ([]*models.BlockEntry, error)
	DeleteExpiredFunc  func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockBlockListRepository) HasActiveBlock(ctx context.Context, ip, email string) (bool, error) {
	if m.HasActiveBlockFunc != nil {
		return m.HasActiveBlockFunc(ctx, ip, email)
	}
	return false, nil
}

func (m *MockBlockListRepository) Upsert(ctx context.Context, target models.BlockTarget, reason, createdBy string, permanent bool, until *time.Time) (*models.BlockEntry, error) {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, target, reason, createdBy, permanent, until)
	}
	return &models.BlockEntry{ID: uuid.New(), Reason: reason, CreatedBy: createdBy, IsPermanent: permanent, BlockedUntil: until}, nil
}

func (m *MockBlockListRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockBlockListRepository) List(ctx context.Context, limit, offset int) ([]*models.BlockEntry, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.BlockEntry{}, nil
}

func (m *MockBlockListRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockGeoRuleRepository implements GeoRuleRepository for testing
type MockGeoRuleRepository struct {
	GetFunc    func(ctx context.Context, countryCode string) (*models.GeoRule, error)
	UpsertFunc func(ctx context.Context, rule *models.GeoRule) error
	DeleteFunc func(ctx context.Context, countryCode string) error
	ListFunc   func(ctx context.Context) ([]*models.GeoRule, error)
}

func (m *MockGeoRuleRepository) Get(ctx context.Context, countryCode string) (*models.GeoRule, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, countryCode)
	}
	return nil, nil
}

func (m *MockGeoRuleRepository) Upsert(ctx context.Context, rule *models.GeoRule) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, rule)
	}
	return nil
}

func (m *MockGeoRuleRepository) Delete(ctx context.Context, countryCode string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, countryCode)
	}
	return nil
}

func (m *MockGeoRuleRepository) List(ctx context.Context) ([]*models.GeoRule, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return []*models.GeoRule{}, nil
}

// MockRateLimitRepository implements RateLimitRepository for testing
type MockRateLimitRepository struct {
	GetSettingFunc         func(ctx context.Context, endpoint string) (*models.RateLimitSetting, error)
	UpsertSettingFunc      func(ctx context.Context, setting *models.RateLimitSetting) error
	ListSettingsFunc       func(ctx context.Context) ([]*models.RateLimitSetting, error)
	GetWindowFunc          func(ctx context.Context, ip, endpoint string) (*models.RateWindow, error)
	RecordRequestFunc      func(ctx context.Context, ip, endpoint string, windowStartCutoff time.Time) (*models.RateWindow, error)
	DeleteStaleWindowsFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockRateLimitRepository) GetSetting(ctx context.Context, endpoint string) (*models.RateLimitSetting, error) {
	if m.GetSettingFunc != nil {
		return m.GetSettingFunc(ctx, endpoint)
	}
	return nil, nil
}

func (m *MockRateLimitRepository) UpsertSetting(ctx context.Context, setting *models.RateLimitSetting) error {
	if m.UpsertSettingFunc != nil {
		return m.UpsertSettingFunc(ctx, setting)
	}
	return nil
}

func (m *MockRateLimitRepository) ListSettings(ctx context.Context) ([]*models.RateLimitSetting, error) {
	if m.ListSettingsFunc != nil {
		return m.ListSettingsFunc(ctx)
	}
	return []*models.RateLimitSetting{}, nil
}

func (m *MockRateLimitRepository) GetWindow(ctx context.Context, ip, endpoint string) (*models.RateWindow, error) {
	if m.GetWindowFunc != nil {
		return m.GetWindowFunc(ctx, ip, endpoint)
	}
	return nil, nil
}

func (m *MockRateLimitRepository) RecordRequest(ctx context.Context, ip, endpoint string, windowStartCutoff time.Time) (*models.RateWindow, error) {
	if m.RecordRequestFunc != nil {
		return m.RecordRequestFunc(ctx, ip, endpoint, windowStartCutoff)
	}
	return &models.RateWindow{IPAddress: ip, Endpoint: endpoint, WindowStart: time.Now(), RequestCount: 1}, nil
}

func (m *MockRateLimitRepository) DeleteStaleWindows(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteStaleWindowsFunc != nil {
		return m.DeleteStaleWindowsFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockFailedAttemptRepository implements FailedAttemptRepository for testing
type MockFailedAttemptRepository struct {
	IncrementFunc     func(ctx context.Context, email string) (int, error)
	GetFunc           func(ctx context.Context, email string) (*models.FailedAttemptCounter, error)
	ClearFunc         func(ctx context.Context, email string) error
	DeleteDecayedFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockFailedAttemptRepository) Increment(ctx context.Context, email string) (int, error) {
	if m.IncrementFunc != nil {
		return m.IncrementFunc(ctx, email)
	}
	return 1, nil
}

func (m *MockFailedAttemptRepository) Get(ctx context.Context, email string) (*models.FailedAttemptCounter, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, email)
	}
	return nil, nil
}

func (m *MockFailedAttemptRepository) Clear(ctx context.Context, email string) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, email)
	}
	return nil
}

func (m *MockFailedAttemptRepository) DeleteDecayed(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteDecayedFunc != nil {
		return m.DeleteDecayedFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockSettingsRepository implements SettingsRepository for testing
type MockSettingsRepository struct {
	GetIntFunc func(ctx context.Context, key string, fallback int) (int, error)
	SetIntFunc func(ctx context.Context, key string, value int) error
	ListFunc   func(ctx context.Context) ([]*models.SecuritySetting, error)
}

func (m *MockSettingsRepository) GetInt(ctx context.Context, key string, fallback int) (int, error) {
	if m.GetIntFunc != nil {
		return m.GetIntFunc(ctx, key, fallback)
	}
	return fallback, nil
}

func (m *MockSettingsRepository) SetInt(ctx context.Context, key string, value int) error {
	if m.SetIntFunc != nil {
		return m.SetIntFunc(ctx, key, value)
	}
	return nil
}

func (m *MockSettingsRepository) List(ctx context.Context) ([]*models.SecuritySetting, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return []*models.SecuritySetting{}, nil
}

// MockChallengeRepository implements ChallengeRepository for testing
type MockChallengeRepository struct {
	CreateSupersedingFunc func(ctx context.Context, challenge *models.VerificationChallenge) (*models.VerificationChallenge, error)
	GetByTokenFunc        func(ctx context.Context, token string) (*models.VerificationChallenge, error)
	MarkVerifiedFunc      func(ctx context.Context, id uuid.UUID) error
	MarkVerifiedTxFunc    func(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	IncrementAttemptsFunc func(ctx context.Context, id uuid.UUID) (int, error)
	MarkTerminalFunc      func(ctx context.Context, id uuid.UUID, status string) error
	ExpirePendingFunc     func(ctx context.Context) (int64, error)
	DeleteOlderThanFunc   func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockChallengeRepository) CreateSuperseding(ctx context.Context, challenge *models.VerificationChallenge) (*models.VerificationChallenge, error) {
	if m.CreateSupersedingFunc != nil {
		return m.CreateSupersedingFunc(ctx, challenge)
	}
	return challenge, nil
}

func (m *MockChallengeRepository) GetByToken(ctx context.Context, token string) (*models.VerificationChallenge, error) {
	if m.GetByTokenFunc != nil {
		return m.GetByTokenFunc(ctx, token)
	}
	return nil, models.ErrChallengeNotFound
}

func (m *MockChallengeRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	if m.MarkVerifiedFunc != nil {
		return m.MarkVerifiedFunc(ctx, id)
	}
	return nil
}

func (m *MockChallengeRepository) MarkVerifiedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if m.MarkVerifiedTxFunc != nil {
		return m.MarkVerifiedTxFunc(ctx, tx, id)
	}
	return nil
}

func (m *MockChallengeRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	if m.IncrementAttemptsFunc != nil {
		return m.IncrementAttemptsFunc(ctx, id)
	}
	return 1, nil
}

func (m *MockChallengeRepository) MarkTerminal(ctx context.Context, id uuid.UUID, status string) error {
	if m.MarkTerminalFunc != nil {
		return m.MarkTerminalFunc(ctx, id, status)
	}
	return nil
}

func (m *MockChallengeRepository) ExpirePending(ctx context.Context) (int64, error) {
	if m.ExpirePendingFunc != nil {
		return m.ExpirePendingFunc(ctx)
	}
	return 0, nil
}

func (m *MockChallengeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFunc != nil {
		return m.DeleteOlderThanFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockRecoveryCodeRepository implements RecoveryCodeRepository for testing
type MockRecoveryCodeRepository struct {
	ReplaceBatchFunc func(ctx context.Context, userID, email string, codeHashes []string) error
	ListUnusedFunc   func(ctx context.Context, email string) ([]*models.RecoveryCode, error)
	ConsumeTxFunc    func(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	CountUnusedFunc  func(ctx context.Context, email string) (int, error)
}

func (m *MockRecoveryCodeRepository) ReplaceBatch(ctx context.Context, userID, email string, codeHashes []string) error {
	if m.ReplaceBatchFunc != nil {
		return m.ReplaceBatchFunc(ctx, userID, email, codeHashes)
	}
	return nil
}

func (m *MockRecoveryCodeRepository) ListUnused(ctx context.Context, email string) ([]*models.RecoveryCode, error) {
	if m.ListUnusedFunc != nil {
		return m.ListUnusedFunc(ctx, email)
	}
	return []*models.RecoveryCode{}, nil
}

func (m *MockRecoveryCodeRepository) ConsumeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	if m.ConsumeTxFunc != nil {
		return m.ConsumeTxFunc(ctx, tx, id)
	}
	return nil
}

func (m *MockRecoveryCodeRepository) CountUnused(ctx context.Context, email string) (int, error) {
	if m.CountUnusedFunc != nil {
		return m.CountUnusedFunc(ctx, email)
	}
	return 0, nil
}

// MockTOTPRepository implements TOTPRepository for testing
type MockTOTPRepository struct {
	UpsertFunc func(ctx context.Context, enrollment *models.TOTPEnrollment) error
	GetFunc    func(ctx context.Context, email string) (*models.TOTPEnrollment, error)
	DeleteFunc func(ctx context.Context, email string) error
}

func (m *MockTOTPRepository) Upsert(ctx context.Context, enrollment *models.TOTPEnrollment) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, enrollment)
	}
	return nil
}

func (m *MockTOTPRepository) Get(ctx context.Context, email string) (*models.TOTPEnrollment, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, email)
	}
	return nil, nil
}

func (m *MockTOTPRepository) Delete(ctx context.Context, email string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, email)
	}
	return nil
}

// MockLoginActivityRepository implements LoginActivityRepository for testing
type MockLoginActivityRepository struct {
	Recorded []*models.LoginActivity

	RecordFunc             func(ctx context.Context, activity *models.LoginActivity) error
	ListFunc               func(ctx context.Context, email string, limit, offset int) ([]*models.LoginActivity, error)
	HasSuccessfulLoginFunc func(ctx context.Context, email string) (bool, error)
	IsKnownDeviceFunc      func(ctx context.Context, email, fingerprintKey string) (bool, error)
	RememberDeviceFunc     func(ctx context.Context, email, fingerprintKey string, limit int) error
	ListKnownDevicesFunc   func(ctx context.Context, email string) ([]*models.KnownDevice, error)
	DeleteOlderThanFunc    func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockLoginActivityRepository) Record(ctx context.Context, activity *models.LoginActivity) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, activity)
	}
	m.Recorded = append(m.Recorded, activity)
	return nil
}

func (m *MockLoginActivityRepository) List(ctx context.Context, email string, limit, offset int) ([]*models.LoginActivity, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, email, limit, offset)
	}
	return m.Recorded, nil
}

func (m *MockLoginActivityRepository) HasSuccessfulLogin(ctx context.Context, email string) (bool, error) {
	if m.HasSuccessfulLoginFunc != nil {
		return m.HasSuccessfulLoginFunc(ctx, email)
	}
	return false, nil
}

func (m *MockLoginActivityRepository) IsKnownDevice(ctx context.Context, email, fingerprintKey string) (bool, error) {
	if m.IsKnownDeviceFunc != nil {
		return m.IsKnownDeviceFunc(ctx, email, fingerprintKey)
	}
	return false, nil
}

func (m *MockLoginActivityRepository) RememberDevice(ctx context.Context, email, fingerprintKey string, limit int) error {
	if m.RememberDeviceFunc != nil {
		return m.RememberDeviceFunc(ctx, email, fingerprintKey, limit)
	}
	return nil
}

func (m *MockLoginActivityRepository) ListKnownDevices(ctx context.Context, email string) ([]*models.KnownDevice, error) {
	if m.ListKnownDevicesFunc != nil {
		return m.ListKnownDevicesFunc(ctx, email)
	}
	return []*models.KnownDevice{}, nil
}

func (m *MockLoginActivityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFunc != nil {
		return m.DeleteOlderThanFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	SentCodes []string

	SendChallengeCodeFunc func(ctx context.Context, email, code string, expiresAt time.Time) error
}

func (m *MockEmailService) SendChallengeCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	if m.SendChallengeCodeFunc != nil {
		return m.SendChallengeCodeFunc(ctx, email, code, expiresAt)
	}
	m.SentCodes = append(m.SentCodes, code)
	return nil
}

// MockTxRunner implements TxRunner for testing. The callback runs with a nil
// transaction; mock repositories ignore it.
type MockTxRunner struct {
	WithTransactionFunc func(ctx context.Context, fn func(pgx.Tx) error) error
}

func (m *MockTxRunner) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(nil)
}
