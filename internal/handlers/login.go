package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/orbitcart/gatekeeper/internal/models"
	pkghttp "github.com/orbitcart/gatekeeper/pkg/http"
)

// DecisionServiceInterface defines the interface for the decision engine
type DecisionServiceInterface interface {
	Evaluate(ctx context.Context, attempt models.LoginAttempt) (*models.Decision, error)
	ReportOutcome(ctx context.Context, attempt models.LoginAttempt, success bool, failureReason *string) error
}

// LoginHandler handles login evaluation and outcome reporting. The caller is
// the authentication system itself, which forwards the client's context.
type LoginHandler struct {
	service  DecisionServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewLoginHandler creates a new LoginHandler
func NewLoginHandler(service DecisionServiceInterface, ipConfig *pkghttp.IPConfig) *LoginHandler {
	return &LoginHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// EvaluateRequest represents the request body for a login evaluation
type EvaluateRequest struct {
	Email       string `json:"email" validate:"omitempty,email"`
	IPAddress   string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent   string `json:"user_agent" validate:"omitempty,max=1024"`
	CountryCode string `json:"country_code" validate:"omitempty,len=2"`
}

// EvaluateResponse represents the verdict returned for an evaluation
type EvaluateResponse struct {
	Verdict        string `json:"verdict"`
	Reason         string `json:"reason,omitempty"`
	ChallengeToken string `json:"challenge_token,omitempty"`
	RetryAfter     string `json:"retry_after,omitempty"`
}

// OutcomeRequest represents the request body for reporting a login outcome
type OutcomeRequest struct {
	Email         string `json:"email" validate:"omitempty,email"`
	IPAddress     string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent     string `json:"user_agent" validate:"omitempty,max=1024"`
	CountryCode   string `json:"country_code" validate:"omitempty,len=2"`
	Success       *bool  `json:"success" validate:"required"`
	FailureReason string `json:"failure_reason" validate:"omitempty,max=256"`
}

// attempt builds the LoginAttempt, falling back to request metadata when the
// caller did not forward the client's context explicitly.
func (h *LoginHandler) attempt(r *http.Request, email, ip, userAgent, countryCode string) models.LoginAttempt {
	if ip == "" {
		ip = pkghttp.ExtractClientIP(r, h.ipConfig)
	}
	if userAgent == "" {
		userAgent = r.Header.Get("User-Agent")
	}
	return models.LoginAttempt{
		Email:       strings.ToLower(strings.TrimSpace(email)),
		IPAddress:   ip,
		UserAgent:   userAgent,
		CountryCode: strings.ToUpper(strings.TrimSpace(countryCode)),
	}
}

// Evaluate handles POST /v1/logins/evaluate
func (h *LoginHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	attempt := h.attempt(r, req.Email, req.IPAddress, req.UserAgent, req.CountryCode)

	decision, err := h.service.Evaluate(r.Context(), attempt)
	if err != nil {
		pkghttp.WriteInternalError(w, "Evaluation failed")
		return
	}

	resp := EvaluateResponse{
		Verdict:        string(decision.Verdict),
		Reason:         decision.Reason,
		ChallengeToken: decision.ChallengeToken,
	}
	if decision.RetryAfter != nil {
		resp.RetryAfter = decision.RetryAfter.UTC().Format(time.RFC3339)
		seconds := int(time.Until(*decision.RetryAfter).Seconds())
		if seconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
		}
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// ReportOutcome handles POST /v1/logins/outcome
func (h *LoginHandler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	attempt := h.attempt(r, req.Email, req.IPAddress, req.UserAgent, req.CountryCode)

	var failureReason *string
	if req.FailureReason != "" {
		failureReason = &req.FailureReason
	}

	if err := h.service.ReportOutcome(r.Context(), attempt, *req.Success, failureReason); err != nil {
		pkghttp.WriteInternalError(w, "Failed to record outcome")
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
