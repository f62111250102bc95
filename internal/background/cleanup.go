package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/orbitcart/gatekeeper/internal/repositories"
)

// CleanupConfig holds the retention windows applied by the cleanup manager.
type CleanupConfig struct {
	Interval           time.Duration
	CounterDecay       time.Duration
	ChallengeRetention time.Duration
	ActivityRetention  time.Duration
	WindowRetention    time.Duration
}

// CleanupManager periodically removes expired and decayed rows from every
// store with a retention policy. Login activity is the one exception to
// append-only: rows past the retention window are purged here.
type CleanupManager struct {
	blockRepo     *repositories.BlockListRepository
	attemptRepo   *repositories.FailedAttemptRepository
	rateRepo      *repositories.RateLimitRepository
	challengeRepo *repositories.ChallengeRepository
	activityRepo  *repositories.LoginActivityRepository
	logger        *slog.Logger
	config        CleanupConfig
	stopCh        chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(
	blockRepo *repositories.BlockListRepository,
	attemptRepo *repositories.FailedAttemptRepository,
	rateRepo *repositories.RateLimitRepository,
	challengeRepo *repositories.ChallengeRepository,
	activityRepo *repositories.LoginActivityRepository,
	logger *slog.Logger,
	config CleanupConfig,
) *CleanupManager {
	return &CleanupManager{
		blockRepo:     blockRepo,
		attemptRepo:   attemptRepo,
		rateRepo:      rateRepo,
		challengeRepo: challengeRepo,
		activityRepo:  activityRepo,
		logger:        logger,
		config:        config,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic cleanup task
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.config.Interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now()

	cm.step(cleanupCtx, "expired_blocks", func() (int64, error) {
		return cm.blockRepo.DeleteExpired(cleanupCtx, now)
	})
	cm.step(cleanupCtx, "decayed_counters", func() (int64, error) {
		return cm.attemptRepo.DeleteDecayed(cleanupCtx, now.Add(-cm.config.CounterDecay))
	})
	cm.step(cleanupCtx, "stale_rate_windows", func() (int64, error) {
		return cm.rateRepo.DeleteStaleWindows(cleanupCtx, now.Add(-cm.config.WindowRetention))
	})
	cm.step(cleanupCtx, "expired_challenges", func() (int64, error) {
		return cm.challengeRepo.ExpirePending(cleanupCtx)
	})
	cm.step(cleanupCtx, "old_challenges", func() (int64, error) {
		return cm.challengeRepo.DeleteOlderThan(cleanupCtx, now.Add(-cm.config.ChallengeRetention))
	})
	cm.step(cleanupCtx, "old_activity", func() (int64, error) {
		return cm.activityRepo.DeleteOlderThan(cleanupCtx, now.Add(-cm.config.ActivityRetention))
	})
}

// step runs one cleanup action. A failure in one store must not stop the
// others.
func (cm *CleanupManager) step(ctx context.Context, name string, fn func() (int64, error)) {
	rows, err := fn()
	if err != nil {
		cm.logger.Error("cleanup step failed",
			slog.String("step", name),
			slog.Any("error", err))
		return
	}
	if rows > 0 {
		cm.logger.Info("cleanup step completed",
			slog.String("step", name),
			slog.Int64("rows_deleted", rows))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
