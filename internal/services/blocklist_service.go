package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/orbitcart/gatekeeper/internal/models"
	"github.com/orbitcart/gatekeeper/pkg/logger"
)

// BlockListRepository defines the interface for block list database operations
type BlockListRepository interface {
	HasActiveBlock(ctx context.Context, ip, email string) (bool, error)
	Upsert(ctx context.Context, target models.BlockTarget, reason, createdBy string, permanent bool, until *time.Time) (*models.BlockEntry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*models.BlockEntry, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// BlockListConfig holds configuration for block list behavior
type BlockListConfig struct {
	// FailClosed denies logins when the block list cannot be read. Default
	// is fail open so a store outage does not lock every user out.
	FailClosed bool
}

// BlockListService answers "is this identity blocked" and manages entries
type BlockListService struct {
	repo   BlockListRepository
	config BlockListConfig
	logger *slog.Logger
}

// NewBlockListService creates a new BlockListService
func NewBlockListService(repo BlockListRepository, config BlockListConfig, log *slog.Logger) *BlockListService {
	return &BlockListService{
		repo:   repo,
		config: config,
		logger: log,
	}
}

// IsBlocked reports whether an active entry matches the IP or the email.
// Either match blocks the attempt.
func (s *BlockListService) IsBlocked(ctx context.Context, ip, email string) (bool, error) {
	blocked, err := s.repo.HasActiveBlock(ctx, ip, email)
	if err != nil {
		s.logger.Error("block list check failed",
			slog.String("ip_address", ip),
			slog.String("email", logger.SanitizedEmail(email)),
			slog.Any("error", err))
		if s.config.FailClosed {
			return true, err
		}
		return false, nil
	}
	return blocked, nil
}

// Block creates or refreshes an entry for the given target
func (s *BlockListService) Block(ctx context.Context, target models.BlockTarget, reason, createdBy string, permanent bool, until *time.Time) (*models.BlockEntry, error) {
	if target.IsZero() {
		return nil, fmt.Errorf("%w: block target requires an ip_address or email", models.ErrBadRequest)
	}
	if !permanent && (until == nil || !until.After(time.Now())) {
		return nil, fmt.Errorf("%w: temporary block requires a future blocked_until", models.ErrBadRequest)
	}

	entry, err := s.repo.Upsert(ctx, target, reason, createdBy, permanent, until)
	if err != nil {
		return nil, fmt.Errorf("failed to create block entry: %w", err)
	}

	s.logger.Warn("block entry created",
		slog.String("ip_address", target.IPAddress),
		slog.String("email", logger.SanitizedEmail(target.Email)),
		slog.String("created_by", createdBy),
		slog.Bool("permanent", permanent))

	return entry, nil
}

// EscalateEmailBlock places a temporary, escalation-origin block on an email.
// Used when a challenge exhausts its retry budget.
func (s *BlockListService) EscalateEmailBlock(ctx context.Context, email, reason string, duration time.Duration) error {
	until := time.Now().Add(duration)
	_, err := s.repo.Upsert(ctx, models.BlockTarget{Email: email}, reason, models.BlockOriginEscalation, false, &until)
	if err != nil {
		return fmt.Errorf("failed to escalate block: %w", err)
	}

	s.logger.Warn("email block escalated",
		slog.String("email", logger.SanitizedEmail(email)),
		slog.String("reason", reason),
		slog.Time("blocked_until", until))

	return nil
}

// Unblock removes an entry by ID
func (s *BlockListService) Unblock(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete block entry: %w", err)
	}
	return nil
}

// List returns block entries, newest first
func (s *BlockListService) List(ctx context.Context, limit, offset int) ([]*models.BlockEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}
