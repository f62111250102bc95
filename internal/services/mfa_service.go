package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orbitcart/gatekeeper/internal/auth"
	"github.com/orbitcart/gatekeeper/internal/models"
	pkgauth "github.com/orbitcart/gatekeeper/pkg/auth"
	"github.com/orbitcart/gatekeeper/pkg/logger"
)

// DefaultRecoveryCodeCount is the batch size issued per generation
const DefaultRecoveryCodeCount = 10

// MFAService manages the alternate challenge proofs: recovery code batches
// and TOTP enrollments.
type MFAService struct {
	recoveryRepo RecoveryCodeRepository
	totpRepo     TOTPRepository
	totpManager  *auth.TOTPManager
	audit        *logger.AuditLogger
	logger       *slog.Logger
}

// NewMFAService creates a new MFAService. totpManager may be nil when TOTP
// is not configured.
func NewMFAService(recoveryRepo RecoveryCodeRepository, totpRepo TOTPRepository, totpManager *auth.TOTPManager, audit *logger.AuditLogger, log *slog.Logger) *MFAService {
	return &MFAService{
		recoveryRepo: recoveryRepo,
		totpRepo:     totpRepo,
		totpManager:  totpManager,
		audit:        audit,
		logger:       log,
	}
}

// GenerateRecoveryCodes replaces the email's batch and returns the plaintext
// codes. The old batch is deleted in the same transaction as the insert, so
// old and new codes never validate concurrently. Plaintext is returned once
// and never stored.
func (s *MFAService) GenerateRecoveryCodes(ctx context.Context, userID, email string, count int) ([]string, error) {
	if count <= 0 {
		count = DefaultRecoveryCodeCount
	}

	codes := make([]string, count)
	hashes := make([]string, count)
	for i := 0; i < count; i++ {
		code, err := pkgauth.GenerateRecoveryCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		hash, err := pkgauth.HashRecoveryCode(code)
		if err != nil {
			return nil, fmt.Errorf("failed to hash recovery code: %w", err)
		}
		codes[i] = code
		hashes[i] = hash
	}

	if err := s.recoveryRepo.ReplaceBatch(ctx, userID, email, hashes); err != nil {
		s.logger.Error("failed to replace recovery code batch",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to store recovery codes: %w", err)
	}

	s.audit.LogAdminAction("recovery_codes_generated", userID, map[string]string{
		"email": logger.SanitizedEmail(email),
		"count": fmt.Sprintf("%d", count),
	})

	return codes, nil
}

// UnusedRecoveryCodes reports how many codes remain in the current batch
func (s *MFAService) UnusedRecoveryCodes(ctx context.Context, email string) (int, error) {
	return s.recoveryRepo.CountUnused(ctx, email)
}

// EnrollTOTP generates an authenticator secret for the email and stores it
// encrypted. Returns the secret and a QR data URL for the setup response.
func (s *MFAService) EnrollTOTP(ctx context.Context, email string) (string, string, error) {
	if s.totpManager == nil {
		return "", "", fmt.Errorf("%w: totp is not configured", models.ErrBadRequest)
	}

	encrypted, nonce, secret, qrDataURL, err := s.totpManager.GenerateSecretWithQR(email)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp enrollment: %w", err)
	}

	enrollment := &models.TOTPEnrollment{
		Email:           email,
		SecretEncrypted: encrypted,
		Nonce:           nonce,
		EnrolledAt:      time.Now(),
	}
	if err := s.totpRepo.Upsert(ctx, enrollment); err != nil {
		s.logger.Error("failed to store totp enrollment",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		return "", "", fmt.Errorf("failed to store totp enrollment: %w", err)
	}

	s.audit.LogAdminAction("totp_enrolled", "admin", map[string]string{
		"email": logger.SanitizedEmail(email),
	})

	return secret, qrDataURL, nil
}

// DisenrollTOTP removes the email's authenticator enrollment
func (s *MFAService) DisenrollTOTP(ctx context.Context, email string) error {
	if err := s.totpRepo.Delete(ctx, email); err != nil {
		return fmt.Errorf("failed to remove totp enrollment: %w", err)
	}

	s.audit.LogAdminAction("totp_disenrolled", "admin", map[string]string{
		"email": logger.SanitizedEmail(email),
	})

	return nil
}
