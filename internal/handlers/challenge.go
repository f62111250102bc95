package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/orbitcart/gatekeeper/internal/models"
	pkghttp "github.com/orbitcart/gatekeeper/pkg/http"
)

// ChallengeServiceInterface defines the interface for challenge resolution
type ChallengeServiceInterface interface {
	Resolve(ctx context.Context, token, proofType, proof string) (models.ChallengeResolution, error)
}

// ChallengeHandler handles challenge resolution requests
type ChallengeHandler struct {
	service ChallengeServiceInterface
}

// NewChallengeHandler creates a new ChallengeHandler
func NewChallengeHandler(service ChallengeServiceInterface) *ChallengeHandler {
	return &ChallengeHandler{
		service: service,
	}
}

// ResolveRequest represents the request body for resolving a challenge
type ResolveRequest struct {
	Token     string `json:"token" validate:"required,max=128"`
	ProofType string `json:"proof_type" validate:"required,oneof=code recovery_code totp"`
	Proof     string `json:"proof" validate:"required,max=64"`
}

// ResolveResponse represents a successful resolution
type ResolveResponse struct {
	Resolution string `json:"resolution"`
}

// Resolve handles POST /v1/challenges/resolve
func (h *ChallengeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	resolution, err := h.service.Resolve(r.Context(), req.Token, req.ProofType, req.Proof)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrChallengeNotFound):
			pkghttp.WriteNotFound(w, "Challenge not found")
		case errors.Is(err, models.ErrChallengeExpired):
			pkghttp.WriteError(w, http.StatusGone, "challenge_expired", "Challenge has expired")
		case errors.Is(err, models.ErrChallengeResolved):
			pkghttp.WriteConflict(w, "Challenge already resolved")
		case errors.Is(err, models.ErrRetryExhausted):
			pkghttp.WriteForbidden(w, "Retry budget exhausted")
		case errors.Is(err, models.ErrInvalidProof):
			pkghttp.WriteUnauthorized(w, "Invalid proof")
		case errors.Is(err, models.ErrTOTPNotEnrolled):
			pkghttp.WriteBadRequest(w, "No authenticator enrolled for this account")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid proof type")
		default:
			pkghttp.WriteInternalError(w, "Resolution failed")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ResolveResponse{Resolution: string(resolution)})
}
