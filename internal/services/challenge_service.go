package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/orbitcart/gatekeeper/internal/auth"
	"github.com/orbitcart/gatekeeper/internal/metrics"
	"github.com/orbitcart/gatekeeper/internal/models"
	pkgauth "github.com/orbitcart/gatekeeper/pkg/auth"
	"github.com/orbitcart/gatekeeper/pkg/logger"
)

// ChallengeRepository defines the interface for challenge database operations
type ChallengeRepository interface {
	CreateSuperseding(ctx context.Context, challenge *models.VerificationChallenge) (*models.VerificationChallenge, error)
	GetByToken(ctx context.Context, token string) (*models.VerificationChallenge, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error
	MarkVerifiedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error)
	MarkTerminal(ctx context.Context, id uuid.UUID, status string) error
	ExpirePending(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// RecoveryCodeRepository defines the interface for recovery code operations
type RecoveryCodeRepository interface {
	ReplaceBatch(ctx context.Context, userID, email string, codeHashes []string) error
	ListUnused(ctx context.Context, email string) ([]*models.RecoveryCode, error)
	ConsumeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	CountUnused(ctx context.Context, email string) (int, error)
}

// TOTPRepository defines the interface for TOTP enrollment operations
type TOTPRepository interface {
	Upsert(ctx context.Context, enrollment *models.TOTPEnrollment) error
	Get(ctx context.Context, email string) (*models.TOTPEnrollment, error)
	Delete(ctx context.Context, email string) error
}

// TxRunner runs a function inside a database transaction
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// ChallengeConfig holds configuration for challenge lifecycle behavior
type ChallengeConfig struct {
	Expiry          time.Duration
	EscalationBlock time.Duration
}

// ChallengeService manages the step-up challenge lifecycle: issue, resolve
// with one of the accepted proof types, and escalate on exhausted retries.
type ChallengeService struct {
	challengeRepo ChallengeRepository
	recoveryRepo  RecoveryCodeRepository
	totpRepo      TOTPRepository
	tx            TxRunner
	counters      *FailureCounterService
	blockList     *BlockListService
	settings      *SettingsService
	emailService  EmailService
	totpManager   *auth.TOTPManager
	timing        *auth.TimingDelay
	audit         *logger.AuditLogger
	metrics       *metrics.Metrics
	config        ChallengeConfig
	logger        *slog.Logger
}

// NewChallengeService creates a new ChallengeService. totpManager may be nil
// when no encryption key is configured; TOTP proofs are then rejected.
func NewChallengeService(
	challengeRepo ChallengeRepository,
	recoveryRepo RecoveryCodeRepository,
	totpRepo TOTPRepository,
	tx TxRunner,
	counters *FailureCounterService,
	blockList *BlockListService,
	settings *SettingsService,
	emailService EmailService,
	totpManager *auth.TOTPManager,
	timing *auth.TimingDelay,
	audit *logger.AuditLogger,
	m *metrics.Metrics,
	config ChallengeConfig,
	log *slog.Logger,
) *ChallengeService {
	return &ChallengeService{
		challengeRepo: challengeRepo,
		recoveryRepo:  recoveryRepo,
		totpRepo:      totpRepo,
		tx:            tx,
		counters:      counters,
		blockList:     blockList,
		settings:      settings,
		emailService:  emailService,
		totpManager:   totpManager,
		timing:        timing,
		audit:         audit,
		metrics:       m,
		config:        config,
		logger:        log,
	}
}

// Issue creates a pending challenge for the email and delivers its one-time
// code. Any previously pending challenge for the same email is superseded in
// the same transaction, so at most one challenge is ever resolvable.
func (s *ChallengeService) Issue(ctx context.Context, email, reason string) (*models.VerificationChallenge, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate challenge token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	code, err := pkgauth.GenerateNumericCode(6)
	if err != nil {
		return nil, fmt.Errorf("failed to generate challenge code: %w", err)
	}

	challenge := &models.VerificationChallenge{
		ID:        uuid.New(),
		Token:     token,
		Email:     email,
		Reason:    reason,
		CodeHash:  pkgauth.HashCode(code),
		Status:    models.ChallengeStatusPending,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(s.config.Expiry),
	}

	created, err := s.challengeRepo.CreateSuperseding(ctx, challenge)
	if err != nil {
		s.logger.Error("failed to create challenge",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	// Recovery codes and TOTP remain valid proofs even when delivery fails,
	// so a send error does not fail the issue.
	if err := s.emailService.SendChallengeCode(ctx, email, code, created.ExpiresAt); err != nil {
		s.logger.Error("challenge code delivery failed",
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
	}

	s.audit.LogChallenge(logger.AuditEvent{
		EventType: "challenge_issued",
		Email:     email,
		Success:   true,
		Metadata:  map[string]string{"reason": reason},
	})
	if s.metrics != nil {
		s.metrics.IncrementChallengeIssued()
	}

	return created, nil
}

// Resolve applies a proof against the challenge identified by token. Exactly
// one resolve can ever verify a given challenge; concurrent winners are
// decided by a status-guarded update.
func (s *ChallengeService) Resolve(ctx context.Context, token, proofType, proof string) (models.ChallengeResolution, error) {
	verified := false
	if s.timing != nil {
		defer func() { s.timing.Wait(verified) }()
	}

	challenge, err := s.challengeRepo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrChallengeNotFound) {
			return models.ResolutionFailed, models.ErrChallengeNotFound
		}
		s.logger.Error("failed to load challenge", slog.Any("error", err))
		return models.ResolutionFailed, models.ErrInternalServer
	}

	if !challenge.IsPending() {
		return models.ResolutionFailed, models.ErrChallengeResolved
	}

	// Expiry is checked against the clock, not just the sweeper, so an
	// expired-but-unswept challenge is still rejected.
	if challenge.IsExpired(time.Now()) {
		if err := s.challengeRepo.MarkTerminal(ctx, challenge.ID, models.ChallengeStatusExpired); err != nil {
			s.logger.Error("failed to expire challenge", slog.Any("error", err))
		}
		s.recordResolution(challenge, "challenge_expired", false, "expired")
		return models.ResolutionExpired, models.ErrChallengeExpired
	}

	switch proofType {
	case models.ProofTypeCode:
		if pkgauth.CompareCodeHash(challenge.CodeHash, proof) {
			if err := s.markVerified(ctx, challenge); err != nil {
				return models.ResolutionFailed, err
			}
			verified = true
			return models.ResolutionVerified, nil
		}

	case models.ProofTypeRecoveryCode:
		consumed, err := s.consumeRecoveryCode(ctx, challenge, proof)
		if err != nil {
			return models.ResolutionFailed, err
		}
		if consumed {
			s.finishVerified(ctx, challenge)
			verified = true
			return models.ResolutionVerified, nil
		}

	case models.ProofTypeTOTP:
		ok, err := s.validateTOTPProof(ctx, challenge.Email, proof)
		if err != nil {
			return models.ResolutionFailed, err
		}
		if ok {
			if err := s.markVerified(ctx, challenge); err != nil {
				return models.ResolutionFailed, err
			}
			verified = true
			return models.ResolutionVerified, nil
		}

	default:
		return models.ResolutionFailed, fmt.Errorf("%w: unknown proof type %q", models.ErrBadRequest, proofType)
	}

	return models.ResolutionFailed, s.recordFailedProof(ctx, challenge)
}

// markVerified flips the challenge to verified and clears the failure
// counter for the email.
func (s *ChallengeService) markVerified(ctx context.Context, challenge *models.VerificationChallenge) error {
	if err := s.challengeRepo.MarkVerified(ctx, challenge.ID); err != nil {
		if errors.Is(err, models.ErrChallengeResolved) {
			return models.ErrChallengeResolved
		}
		s.logger.Error("failed to mark challenge verified", slog.Any("error", err))
		return models.ErrInternalServer
	}
	s.finishVerified(ctx, challenge)
	return nil
}

func (s *ChallengeService) finishVerified(ctx context.Context, challenge *models.VerificationChallenge) {
	_ = s.counters.Clear(ctx, challenge.Email)
	s.recordResolution(challenge, "challenge_verified", true, "")
}

// consumeRecoveryCode matches the proof against the email's unused codes and
// burns the match in the same transaction that verifies the challenge, so a
// code can never verify two challenges.
func (s *ChallengeService) consumeRecoveryCode(ctx context.Context, challenge *models.VerificationChallenge, proof string) (bool, error) {
	codes, err := s.recoveryRepo.ListUnused(ctx, challenge.Email)
	if err != nil {
		s.logger.Error("failed to list recovery codes", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	var match *models.RecoveryCode
	for _, rc := range codes {
		if pkgauth.CompareRecoveryCode(rc.CodeHash, proof) == nil {
			match = rc
			break
		}
	}
	if match == nil {
		return false, nil
	}

	err = s.tx.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.recoveryRepo.ConsumeTx(ctx, tx, match.ID); err != nil {
			return err
		}
		return s.challengeRepo.MarkVerifiedTx(ctx, tx, challenge.ID)
	})
	if err != nil {
		if errors.Is(err, models.ErrRecoveryCodeUsed) || errors.Is(err, models.ErrChallengeResolved) {
			return false, models.ErrChallengeResolved
		}
		s.logger.Error("failed to consume recovery code", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	return true, nil
}

func (s *ChallengeService) validateTOTPProof(ctx context.Context, email, proof string) (bool, error) {
	if s.totpManager == nil {
		return false, models.ErrTOTPNotEnrolled
	}

	enrollment, err := s.totpRepo.Get(ctx, email)
	if err != nil {
		s.logger.Error("failed to load totp enrollment", slog.Any("error", err))
		return false, models.ErrInternalServer
	}
	if enrollment == nil {
		return false, models.ErrTOTPNotEnrolled
	}

	secret, err := s.totpManager.DecryptSecret(enrollment.SecretEncrypted, enrollment.Nonce)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	ok, err := s.totpManager.ValidateTOTP(secret, proof)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// recordFailedProof charges one retry and escalates to a temporary email
// block once the budget is spent.
func (s *ChallengeService) recordFailedProof(ctx context.Context, challenge *models.VerificationChallenge) error {
	attempts, err := s.challengeRepo.IncrementAttempts(ctx, challenge.ID)
	if err != nil {
		if errors.Is(err, models.ErrChallengeResolved) {
			return models.ErrChallengeResolved
		}
		s.logger.Error("failed to increment challenge attempts", slog.Any("error", err))
		return models.ErrInternalServer
	}

	retryCap := s.settings.Thresholds(ctx).ChallengeRetryCap
	if attempts >= retryCap {
		if err := s.challengeRepo.MarkTerminal(ctx, challenge.ID, models.ChallengeStatusFailed); err != nil {
			s.logger.Error("failed to mark challenge failed", slog.Any("error", err))
		}
		if err := s.blockList.EscalateEmailBlock(ctx, challenge.Email, "challenge retry budget exhausted", s.config.EscalationBlock); err != nil {
			s.logger.Error("failed to escalate block", slog.Any("error", err))
		}
		s.recordResolution(challenge, "challenge_failed", false, "retry budget exhausted")
		return models.ErrRetryExhausted
	}

	s.recordResolution(challenge, "challenge_proof_rejected", false, "invalid proof")
	return models.ErrInvalidProof
}

func (s *ChallengeService) recordResolution(challenge *models.VerificationChallenge, eventType string, success bool, failureReason string) {
	s.audit.LogChallenge(logger.AuditEvent{
		EventType:     eventType,
		Email:         challenge.Email,
		Success:       success,
		FailureReason: failureReason,
	})
	if s.metrics != nil {
		switch {
		case success:
			s.metrics.IncrementChallengeResolution("verified")
		case eventType == "challenge_expired":
			s.metrics.IncrementChallengeResolution("expired")
		default:
			s.metrics.IncrementChallengeResolution("failed")
		}
	}
}
