package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/orbitcart/gatekeeper/internal/auth"
	"github.com/orbitcart/gatekeeper/internal/models"
	pkghttp "github.com/orbitcart/gatekeeper/pkg/http"
	"github.com/orbitcart/gatekeeper/pkg/logger"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAdminContext adds admin claims to request context for testing
// authenticated endpoints
func WithAdminContext(req *http.Request, subject string) *http.Request {
	claims := &models.AdminClaims{
		Subject: subject,
		Role:    models.RoleAdmin,
	}
	ctx := context.WithValue(req.Context(), auth.AdminContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// NewTestAuditLogger returns an audit logger writing to stdout
func NewTestAuditLogger() *logger.AuditLogger {
	return logger.NewAuditLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockDecisionService implements DecisionServiceInterface for testing
type MockDecisionService struct {
	EvaluateFunc      func(ctx context.Context, attempt models.LoginAttempt) (*models.Decision, error)
	ReportOutcomeFunc func(ctx context.Context, attempt models.LoginAttempt, success bool, failureReason *string) error
}

func (m *MockDecisionService) Evaluate(ctx context.Context, attempt models.LoginAttempt) (*models.Decision, error) {
	if m.EvaluateFunc == nil {
		return &models.Decision{Verdict: models.VerdictAllow}, nil
	}
	return m.EvaluateFunc(ctx, attempt)
}

func (m *MockDecisionService) ReportOutcome(ctx context.Context, attempt models.LoginAttempt, success bool, failureReason *string) error {
	if m.ReportOutcomeFunc == nil {
		return nil
	}
	return m.ReportOutcomeFunc(ctx, attempt, success, failureReason)
}

// MockChallengeResolver implements ChallengeServiceInterface for testing
type MockChallengeResolver struct {
	ResolveFunc func(ctx context.Context, token, proofType, proof string) (models.ChallengeResolution, error)
}

func (m *MockChallengeResolver) Resolve(ctx context.Context, token, proofType, proof string) (models.ChallengeResolution, error) {
	if m.ResolveFunc == nil {
		return "", models.ErrChallengeNotFound
	}
	return m.ResolveFunc(ctx, token, proofType, proof)
}

// MockBlockListAdmin implements BlockListServiceInterface for testing
type MockBlockListAdmin struct {
	BlockFunc   func(ctx context.Context, target models.BlockTarget, reason, createdBy string, permanent bool, until *time.Time) (*models.BlockEntry, error)
	UnblockFunc func(ctx context.Context, id uuid.UUID) error
	ListFunc    func(ctx context.Context, limit, offset int) ([]*models.BlockEntry, error)
}

func (m *MockBlockListAdmin) Block(ctx context.Context, target models.BlockTarget, reason, createdBy string, permanent bool, until *time.Time) (*models.BlockEntry, error) {
	if m.BlockFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.BlockFunc(ctx, target, reason, createdBy, permanent, until)
}

func (m *MockBlockListAdmin) Unblock(ctx context.Context, id uuid.UUID) error {
	if m.UnblockFunc == nil {
		return nil
	}
	return m.UnblockFunc(ctx, id)
}

func (m *MockBlockListAdmin) List(ctx context.Context, limit, offset int) ([]*models.BlockEntry, error) {
	if m.ListFunc == nil {
		return []*models.BlockEntry{}, nil
	}
	return m.ListFunc(ctx, limit, offset)
}

// MockGeoPolicyAdmin implements GeoPolicyServiceInterface for testing
type MockGeoPolicyAdmin struct {
	SetRuleFunc    func(ctx context.Context, countryCode string, blocked bool, reason string) (*models.GeoRule, error)
	DeleteRuleFunc func(ctx context.Context, countryCode string) error
	ListRulesFunc  func(ctx context.Context) ([]*models.GeoRule, error)
}

func (m *MockGeoPolicyAdmin) SetRule(ctx context.Context, countryCode string, blocked bool, reason string) (*models.GeoRule, error) {
	if m.SetRuleFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.SetRuleFunc(ctx, countryCode, blocked, reason)
}

func (m *MockGeoPolicyAdmin) DeleteRule(ctx context.Context, countryCode string) error {
	if m.DeleteRuleFunc == nil {
		return nil
	}
	return m.DeleteRuleFunc(ctx, countryCode)
}

func (m *MockGeoPolicyAdmin) ListRules(ctx context.Context) ([]*models.GeoRule, error) {
	if m.ListRulesFunc == nil {
		return []*models.GeoRule{}, nil
	}
	return m.ListRulesFunc(ctx)
}

// MockRateLimitAdmin implements RateLimitServiceInterface for testing
type MockRateLimitAdmin struct {
	UpsertSettingFunc func(ctx context.Context, setting *models.RateLimitSetting) error
	ListSettingsFunc  func(ctx context.Context) ([]*models.RateLimitSetting, error)
}

func (m *MockRateLimitAdmin) UpsertSetting(ctx context.Context, setting *models.RateLimitSetting) error {
	if m.UpsertSettingFunc == nil {
		return nil
	}
	return m.UpsertSettingFunc(ctx, setting)
}

func (m *MockRateLimitAdmin) ListSettings(ctx context.Context) ([]*models.RateLimitSetting, error) {
	if m.ListSettingsFunc == nil {
		return []*models.RateLimitSetting{}, nil
	}
	return m.ListSettingsFunc(ctx)
}

// MockSettingsAdmin implements SettingsServiceInterface for testing
type MockSettingsAdmin struct {
	SetFunc  func(ctx context.Context, key string, value int) error
	ListFunc func(ctx context.Context) ([]*models.SecuritySetting, error)
}

func (m *MockSettingsAdmin) Set(ctx context.Context, key string, value int) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value)
}

func (m *MockSettingsAdmin) List(ctx context.Context) ([]*models.SecuritySetting, error) {
	if m.ListFunc == nil {
		return []*models.SecuritySetting{}, nil
	}
	return m.ListFunc(ctx)
}

// MockMFAAdmin implements MFAServiceInterface for testing
type MockMFAAdmin struct {
	GenerateRecoveryCodesFunc func(ctx context.Context, userID, email string, count int) ([]string, error)
	UnusedRecoveryCodesFunc   func(ctx context.Context, email string) (int, error)
	EnrollTOTPFunc            func(ctx context.Context, email string) (string, string, error)
	DisenrollTOTPFunc         func(ctx context.Context, email string) error
}

func (m *MockMFAAdmin) GenerateRecoveryCodes(ctx context.Context, userID, email string, count int) ([]string, error) {
	if m.GenerateRecoveryCodesFunc == nil {
		return []string{}, nil
	}
	return m.GenerateRecoveryCodesFunc(ctx, userID, email, count)
}

func (m *MockMFAAdmin) UnusedRecoveryCodes(ctx context.Context, email string) (int, error) {
	if m.UnusedRecoveryCodesFunc == nil {
		return 0, nil
	}
	return m.UnusedRecoveryCodesFunc(ctx, email)
}

func (m *MockMFAAdmin) EnrollTOTP(ctx context.Context, email string) (string, string, error) {
	if m.EnrollTOTPFunc == nil {
		return "", "", models.ErrBadRequest
	}
	return m.EnrollTOTPFunc(ctx, email)
}

func (m *MockMFAAdmin) DisenrollTOTP(ctx context.Context, email string) error {
	if m.DisenrollTOTPFunc == nil {
		return nil
	}
	return m.DisenrollTOTPFunc(ctx, email)
}

// MockActivityReader implements ActivityReaderInterface for testing
type MockActivityReader struct {
	ListActivityFunc     func(ctx context.Context, email string, limit, offset int) ([]*models.LoginActivity, error)
	ListKnownDevicesFunc func(ctx context.Context, email string) ([]*models.KnownDevice, error)
}

func (m *MockActivityReader) ListActivity(ctx context.Context, email string, limit, offset int) ([]*models.LoginActivity, error) {
	if m.ListActivityFunc == nil {
		return []*models.LoginActivity{}, nil
	}
	return m.ListActivityFunc(ctx, email, limit, offset)
}

func (m *MockActivityReader) ListKnownDevices(ctx context.Context, email string) ([]*models.KnownDevice, error) {
	if m.ListKnownDevicesFunc == nil {
		return []*models.KnownDevice{}, nil
	}
	return m.ListKnownDevicesFunc(ctx, email)
}
