package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/orbitcart/gatekeeper/internal/auth"
	"github.com/orbitcart/gatekeeper/internal/models"
	"github.com/orbitcart/gatekeeper/internal/services"
	pkghttp "github.com/orbitcart/gatekeeper/pkg/http"
	"github.com/orbitcart/gatekeeper/pkg/logger"
)

// BlockListServiceInterface defines the admin operations on the block list
type BlockListServiceInterface interface {
	Block(ctx context.Context, target models.BlockTarget, reason, createdBy string, permanent bool, until *time.Time) (*models.BlockEntry, error)
	Unblock(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*models.BlockEntry, error)
}

// GeoPolicyServiceInterface defines the admin operations on geo rules
type GeoPolicyServiceInterface interface {
	SetRule(ctx context.Context, countryCode string, blocked bool, reason string) (*models.GeoRule, error)
	DeleteRule(ctx context.Context, countryCode string) error
	ListRules(ctx context.Context) ([]*models.GeoRule, error)
}

// RateLimitServiceInterface defines the admin operations on limiter settings
type RateLimitServiceInterface interface {
	UpsertSetting(ctx context.Context, setting *models.RateLimitSetting) error
	ListSettings(ctx context.Context) ([]*models.RateLimitSetting, error)
}

// SettingsServiceInterface defines the admin operations on policy settings
type SettingsServiceInterface interface {
	Set(ctx context.Context, key string, value int) error
	List(ctx context.Context) ([]*models.SecuritySetting, error)
}

// MFAServiceInterface defines the admin operations on alternate proofs
type MFAServiceInterface interface {
	GenerateRecoveryCodes(ctx context.Context, userID, email string, count int) ([]string, error)
	UnusedRecoveryCodes(ctx context.Context, email string) (int, error)
	EnrollTOTP(ctx context.Context, email string) (string, string, error)
	DisenrollTOTP(ctx context.Context, email string) error
}

// ActivityReaderInterface defines the admin read operations on login history
type ActivityReaderInterface interface {
	ListActivity(ctx context.Context, email string, limit, offset int) ([]*models.LoginActivity, error)
	ListKnownDevices(ctx context.Context, email string) ([]*models.KnownDevice, error)
}

// AdminHandler handles the authenticated policy management API
type AdminHandler struct {
	blockList BlockListServiceInterface
	geo       GeoPolicyServiceInterface
	rateLimit RateLimitServiceInterface
	settings  SettingsServiceInterface
	mfa       MFAServiceInterface
	activity  ActivityReaderInterface
	audit     *logger.AuditLogger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(
	blockList BlockListServiceInterface,
	geo GeoPolicyServiceInterface,
	rateLimit RateLimitServiceInterface,
	settings SettingsServiceInterface,
	mfa MFAServiceInterface,
	activity ActivityReaderInterface,
	audit *logger.AuditLogger,
) *AdminHandler {
	return &AdminHandler{
		blockList: blockList,
		geo:       geo,
		rateLimit: rateLimit,
		settings:  settings,
		mfa:       mfa,
		activity:  activity,
		audit:     audit,
	}
}

func (h *AdminHandler) actor(r *http.Request) string {
	if claims := auth.GetAdminFromContext(r); claims != nil {
		return claims.Subject
	}
	return "unknown"
}

// Request DTOs

// CreateBlockRequest represents the request body for creating a block entry
type CreateBlockRequest struct {
	IPAddress    string `json:"ip_address" validate:"omitempty,ip"`
	Email        string `json:"email" validate:"omitempty,email"`
	Reason       string `json:"reason" validate:"required,max=256"`
	Permanent    bool   `json:"permanent"`
	BlockedUntil string `json:"blocked_until" validate:"omitempty"`
}

// GeoRuleRequest represents the request body for a geo rule
type GeoRuleRequest struct {
	CountryCode string `json:"country_code" validate:"required,len=2"`
	Blocked     bool   `json:"blocked"`
	Reason      string `json:"reason" validate:"omitempty,max=256"`
}

// RateSettingRequest represents the request body for a limiter setting
type RateSettingRequest struct {
	Endpoint      string `json:"endpoint" validate:"required,max=64"`
	MaxRequests   int    `json:"max_requests" validate:"required,gte=1"`
	WindowSeconds int    `json:"window_seconds" validate:"required,gte=1"`
	IsEnabled     *bool  `json:"is_enabled" validate:"required"`
}

// SettingRequest represents the request body for a policy setting
type SettingRequest struct {
	Key   string `json:"key" validate:"required,max=64"`
	Value int    `json:"value" validate:"required,gte=1"`
}

// RecoveryCodesRequest represents the request body for generating recovery codes
type RecoveryCodesRequest struct {
	Email string `json:"email" validate:"required,email"`
	Count int    `json:"count" validate:"omitempty,gte=1,lte=20"`
}

// TOTPEnrollRequest represents the request body for enrolling an authenticator
type TOTPEnrollRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Block list

// CreateBlock handles POST /admin/blocks
func (h *AdminHandler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var req CreateBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var until *time.Time
	if req.BlockedUntil != "" {
		parsed, err := time.Parse(time.RFC3339, req.BlockedUntil)
		if err != nil {
			pkghttp.WriteBadRequest(w, "blocked_until must be RFC 3339")
			return
		}
		until = &parsed
	}

	target := models.BlockTarget{
		IPAddress: req.IPAddress,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
	}

	entry, err := h.blockList.Block(r.Context(), target, req.Reason, h.actor(r), req.Permanent, until)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		pkghttp.WriteInternalError(w, "Failed to create block entry")
		return
	}

	h.audit.LogAdminAction("block_created", h.actor(r), map[string]string{
		"block_id": entry.ID.String(),
		"reason":   req.Reason,
	})

	pkghttp.WriteJSON(w, http.StatusCreated, entry)
}

// DeleteBlock handles DELETE /admin/blocks/{id}
func (h *AdminHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid block ID")
		return
	}

	if err := h.blockList.Unblock(r.Context(), id); err != nil {
		pkghttp.WriteInternalError(w, "Failed to delete block entry")
		return
	}

	h.audit.LogAdminAction("block_deleted", h.actor(r), map[string]string{
		"block_id": id.String(),
	})

	w.WriteHeader(http.StatusNoContent)
}

// ListBlocks handles GET /admin/blocks
func (h *AdminHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)

	entries, err := h.blockList.List(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list block entries")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"blocks": entries})
}

// Geo rules

// SetGeoRule handles PUT /admin/geo-rules
func (h *AdminHandler) SetGeoRule(w http.ResponseWriter, r *http.Request) {
	var req GeoRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	rule, err := h.geo.SetRule(r.Context(), req.CountryCode, req.Blocked, req.Reason)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		pkghttp.WriteInternalError(w, "Failed to save geo rule")
		return
	}

	h.audit.LogAdminAction("geo_rule_set", h.actor(r), map[string]string{
		"country_code": rule.CountryCode,
		"blocked":      strconv.FormatBool(rule.IsBlocked),
	})

	pkghttp.WriteJSON(w, http.StatusOK, rule)
}

// DeleteGeoRule handles DELETE /admin/geo-rules/{code}
func (h *AdminHandler) DeleteGeoRule(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if err := h.geo.DeleteRule(r.Context(), code); err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		pkghttp.WriteInternalError(w, "Failed to delete geo rule")
		return
	}

	h.audit.LogAdminAction("geo_rule_deleted", h.actor(r), map[string]string{
		"country_code": strings.ToUpper(code),
	})

	w.WriteHeader(http.StatusNoContent)
}

// ListGeoRules handles GET /admin/geo-rules
func (h *AdminHandler) ListGeoRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.geo.ListRules(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list geo rules")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// Rate limit settings

// SetRateSetting handles PUT /admin/rate-settings
func (h *AdminHandler) SetRateSetting(w http.ResponseWriter, r *http.Request) {
	var req RateSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	setting := &models.RateLimitSetting{
		Endpoint:      req.Endpoint,
		MaxRequests:   req.MaxRequests,
		WindowSeconds: req.WindowSeconds,
		IsEnabled:     *req.IsEnabled,
	}
	if err := h.rateLimit.UpsertSetting(r.Context(), setting); err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		pkghttp.WriteInternalError(w, "Failed to save rate limit setting")
		return
	}

	h.audit.LogAdminAction("rate_setting_updated", h.actor(r), map[string]string{
		"endpoint":     req.Endpoint,
		"max_requests": strconv.Itoa(req.MaxRequests),
	})

	pkghttp.WriteJSON(w, http.StatusOK, setting)
}

// ListRateSettings handles GET /admin/rate-settings
func (h *AdminHandler) ListRateSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.rateLimit.ListSettings(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list rate limit settings")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// Policy settings

// SetSetting handles PUT /admin/settings
func (h *AdminHandler) SetSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.settings.Set(r.Context(), req.Key, req.Value); err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		pkghttp.WriteInternalError(w, "Failed to save setting")
		return
	}

	h.audit.LogAdminAction("setting_updated", h.actor(r), map[string]string{
		"key":   req.Key,
		"value": strconv.Itoa(req.Value),
	})

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"key": req.Key, "value": req.Value})
}

// ListSettings handles GET /admin/settings
func (h *AdminHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.List(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list settings")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

// Alternate proofs

// GenerateRecoveryCodes handles POST /admin/recovery-codes
func (h *AdminHandler) GenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	var req RecoveryCodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	codes, err := h.mfa.GenerateRecoveryCodes(r.Context(), h.actor(r), email, req.Count)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to generate recovery codes")
		return
	}

	// Plaintext codes appear in this response and nowhere else.
	pkghttp.WriteJSON(w, http.StatusCreated, map[string]any{"codes": codes})
}

// RecoveryCodeStatus handles GET /admin/recovery-codes/{email}
func (h *AdminHandler) RecoveryCodeStatus(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(chi.URLParam(r, "email"))

	remaining, err := h.mfa.UnusedRecoveryCodes(r.Context(), email)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to read recovery code status")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"unused": remaining})
}

// EnrollTOTP handles POST /admin/totp
func (h *AdminHandler) EnrollTOTP(w http.ResponseWriter, r *http.Request) {
	var req TOTPEnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	secret, qrDataURL, err := h.mfa.EnrollTOTP(r.Context(), email)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		pkghttp.WriteInternalError(w, "Failed to enroll authenticator")
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]any{
		"secret":  secret,
		"qr_code": qrDataURL,
	})
}

// DisenrollTOTP handles DELETE /admin/totp/{email}
func (h *AdminHandler) DisenrollTOTP(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(chi.URLParam(r, "email"))

	if err := h.mfa.DisenrollTOTP(r.Context(), email); err != nil {
		pkghttp.WriteInternalError(w, "Failed to remove authenticator enrollment")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Activity

// ListActivity handles GET /admin/activity
func (h *AdminHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(r.URL.Query().Get("email"))
	limit, offset := paginationParams(r)

	rows, err := h.activity.ListActivity(r.Context(), email, limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list activity")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"activity": rows})
}

// ListKnownDevices handles GET /admin/activity/{email}/devices
func (h *AdminHandler) ListKnownDevices(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(chi.URLParam(r, "email"))

	devices, err := h.activity.ListKnownDevices(r.Context(), email)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to list known devices")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

func paginationParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Compile-time checks that the concrete services satisfy the handler
// interfaces.
var (
	_ BlockListServiceInterface = (*services.BlockListService)(nil)
	_ GeoPolicyServiceInterface = (*services.GeoPolicyService)(nil)
	_ RateLimitServiceInterface = (*services.RateLimitService)(nil)
	_ SettingsServiceInterface  = (*services.SettingsService)(nil)
	_ MFAServiceInterface       = (*services.MFAService)(nil)
	_ ActivityReaderInterface   = (*services.DecisionService)(nil)
	_ DecisionServiceInterface  = (*services.DecisionService)(nil)
	_ ChallengeServiceInterface = (*services.ChallengeService)(nil)
)
