package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/orbitcart/gatekeeper/internal/handlers"
	"github.com/orbitcart/gatekeeper/internal/models"
)

func TestEvaluate_Allow(t *testing.T) {
	mockService := &handlers.MockDecisionService{
		EvaluateFunc: func(ctx context.Context, attempt models.LoginAttempt) (*models.Decision, error) {
			assert.Equal(t, "user@example.com", attempt.Email)
			assert.Equal(t, "203.0.113.7", attempt.IPAddress)
			return &models.Decision{Verdict: models.VerdictAllow}, nil
		},
	}

	handler := handlers.NewLoginHandler(mockService, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/logins/evaluate", handlers.EvaluateRequest{
		Email:     "User@Example.com",
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	})

	w := httptest.NewRecorder()
	handler.Evaluate(w, req)

	var resp handlers.EvaluateResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "allow", resp.Verdict)
	assert.Empty(t, resp.ChallengeToken)
}

func TestEvaluate_ChallengeReturnsToken(t *testing.T) {
	mockService := &handlers.MockDecisionService{
		EvaluateFunc: func(ctx context.Context, attempt models.LoginAttempt) (*models.Decision, error) {
			return &models.Decision{
				Verdict:        models.VerdictChallenge,
				Reason:         models.ReasonNewDevice,
				ChallengeToken: "challenge-token-123",
			}, nil
		},
	}

	handler := handlers.NewLoginHandler(mockService, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/logins/evaluate", handlers.EvaluateRequest{
		Email:     "user@example.com",
		IPAddress: "203.0.113.7",
	})

	w := httptest.NewRecorder()
	handler.Evaluate(w, req)

	var resp handlers.EvaluateResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "challenge", resp.Verdict)
	assert.Equal(t, "new_device", resp.Reason)
	assert.Equal(t, "challenge-token-123", resp.ChallengeToken)
}

func TestEvaluate_RateLimitedSetsRetryAfter(t *testing.T) {
	resetAt := time.Now().Add(45 * time.Second)
	mockService := &handlers.MockDecisionService{
		EvaluateFunc: func(ctx context.Context, attempt models.LoginAttempt) (*models.Decision, error) {
			return &models.Decision{
				Verdict:    models.VerdictBlock,
				Reason:     models.ReasonRateLimited,
				RetryAfter: &resetAt,
			}, nil
		},
	}

	handler := handlers.NewLoginHandler(mockService, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/logins/evaluate", handlers.EvaluateRequest{
		IPAddress: "203.0.113.7",
	})

	w := httptest.NewRecorder()
	handler.Evaluate(w, req)

	var resp handlers.EvaluateResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "block", resp.Verdict)
	assert.Equal(t, "rate_limited", resp.Reason)
	assert.NotEmpty(t, resp.RetryAfter)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestEvaluate_FallsBackToRequestMetadata(t *testing.T) {
	var seen models.LoginAttempt
	mockService := &handlers.MockDecisionService{
		EvaluateFunc: func(ctx context.Context, attempt models.LoginAttempt) (*models.Decision, error) {
			seen = attempt
			return &models.Decision{Verdict: models.VerdictAllow}, nil
		},
	}

	handler := handlers.NewLoginHandler(mockService, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/logins/evaluate", handlers.EvaluateRequest{
		Email: "user@example.com",
	})
	req.RemoteAddr = "198.51.100.4:55012"
	req.Header.Set("User-Agent", "test-agent/1.0")

	w := httptest.NewRecorder()
	handler.Evaluate(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "198.51.100.4", seen.IPAddress)
	assert.Equal(t, "test-agent/1.0", seen.UserAgent)
}

func TestEvaluate_InvalidCountryCode(t *testing.T) {
	handler := handlers.NewLoginHandler(&handlers.MockDecisionService{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/logins/evaluate", handlers.EvaluateRequest{
		Email:       "user@example.com",
		CountryCode: "USA",
	})

	w := httptest.NewRecorder()
	handler.Evaluate(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestEvaluate_ServiceError(t *testing.T) {
	mockService := &handlers.MockDecisionService{
		EvaluateFunc: func(ctx context.Context, attempt models.LoginAttempt) (*models.Decision, error) {
			return nil, models.ErrInternalServer
		},
	}

	handler := handlers.NewLoginHandler(mockService, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/logins/evaluate", handlers.EvaluateRequest{
		Email: "user@example.com",
	})

	w := httptest.NewRecorder()
	handler.Evaluate(w, req)

	handlers.AssertErrorResponse(t, w, 500, "internal_error")
}

func TestReportOutcome_Success(t *testing.T) {
	var reportedSuccess bool
	mockService := &handlers.MockDecisionService{
		ReportOutcomeFunc: func(ctx context.Context, attempt models.LoginAttempt, success bool, failureReason *string) error {
			reportedSuccess = success
			assert.Nil(t, failureReason)
			return nil
		},
	}

	success := true
	handler := handlers.NewLoginHandler(mockService, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/logins/outcome", handlers.OutcomeRequest{
		Email:     "user@example.com",
		IPAddress: "203.0.113.7",
		Success:   &success,
	})

	w := httptest.NewRecorder()
	handler.ReportOutcome(w, req)

	assert.Equal(t, 202, w.Code)
	assert.True(t, reportedSuccess)
}

func TestReportOutcome_FailureCarriesReason(t *testing.T) {
	var seenReason *string
	mockService := &handlers.MockDecisionService{
		ReportOutcomeFunc: func(ctx context.Context, attempt models.LoginAttempt, success bool, failureReason *string) error {
			seenReason = failureReason
			assert.False(t, success)
			return nil
		},
	}

	success := false
	handler := handlers.NewLoginHandler(mockService, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/logins/outcome", handlers.OutcomeRequest{
		Email:         "user@example.com",
		IPAddress:     "203.0.113.7",
		Success:       &success,
		FailureReason: "invalid_credentials",
	})

	w := httptest.NewRecorder()
	handler.ReportOutcome(w, req)

	assert.Equal(t, 202, w.Code)
	if assert.NotNil(t, seenReason) {
		assert.Equal(t, "invalid_credentials", *seenReason)
	}
}

func TestReportOutcome_MissingSuccess(t *testing.T) {
	handler := handlers.NewLoginHandler(&handlers.MockDecisionService{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/v1/logins/outcome", handlers.OutcomeRequest{
		Email: "user@example.com",
	})

	w := httptest.NewRecorder()
	handler.ReportOutcome(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}
