package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/orbitcart/gatekeeper/internal/auth"
	"github.com/orbitcart/gatekeeper/internal/background"
	"github.com/orbitcart/gatekeeper/internal/config"
	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/handlers"
	"github.com/orbitcart/gatekeeper/internal/metrics"
	middlewareCustom "github.com/orbitcart/gatekeeper/internal/middleware"
	"github.com/orbitcart/gatekeeper/internal/repositories"
	"github.com/orbitcart/gatekeeper/internal/routes"
	"github.com/orbitcart/gatekeeper/internal/services"
	pkghttp "github.com/orbitcart/gatekeeper/pkg/http"
	pkglogger "github.com/orbitcart/gatekeeper/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	blockRepo := repositories.NewBlockListRepository(db)
	geoRepo := repositories.NewGeoRuleRepository(db)
	rateRepo := repositories.NewRateLimitRepository(db)
	attemptRepo := repositories.NewFailedAttemptRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)
	challengeRepo := repositories.NewChallengeRepository(db)
	recoveryRepo := repositories.NewRecoveryCodeRepository(db)
	totpRepo := repositories.NewTOTPRepository(db)
	activityRepo := repositories.NewLoginActivityRepository(db)

	// Admin token manager
	tokenManager := auth.NewTokenManager(cfg.Admin.JWTSecret, cfg.Admin.TokenExpiry)

	auditLogger := pkglogger.NewAuditLogger(logger)
	m := metrics.New()

	// TOTP proofs are only available when an encryption key is configured
	var totpManager *auth.TOTPManager
	if len(cfg.Protection.TOTPEncryptionKey) > 0 {
		totpManager, err = auth.NewTOTPManager(cfg.Protection.TOTPEncryptionKey, cfg.Protection.TOTPIssuer)
		if err != nil {
			logger.Error("failed to initialize totp manager", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Info("no TOTP_ENCRYPTION_KEY set, totp proofs disabled")
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Protection.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Protection.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Protection.TimingDelayOnSuccess,
	})

	// Email delivery for challenge codes
	var emailService services.EmailService
	if cfg.Email.Provider == "ses" {
		emailService, err = services.NewAWSSESEmailService(cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Info("using log-only email delivery")
		emailService = services.NewLogOnlyEmailService(logger)
	}

	// Initialize services
	blockListService := services.NewBlockListService(blockRepo, services.BlockListConfig{
		FailClosed: cfg.Protection.BlockListFailClosed,
	}, logger)
	geoService := services.NewGeoPolicyService(geoRepo, logger)
	rateLimitService := services.NewRateLimitService(rateRepo, logger)
	counterService := services.NewFailureCounterService(attemptRepo, cfg.Protection.FailureDecayWindow, logger)
	settingsService := services.NewSettingsService(settingsRepo, services.PolicyThresholds{
		ChallengeThreshold: cfg.Protection.ChallengeThreshold,
		BlockThreshold:     cfg.Protection.BlockThreshold,
		ChallengeRetryCap:  cfg.Protection.ChallengeRetryCap,
	}, logger)
	challengeService := services.NewChallengeService(
		challengeRepo,
		recoveryRepo,
		totpRepo,
		db,
		counterService,
		blockListService,
		settingsService,
		emailService,
		totpManager,
		timingDelay,
		auditLogger,
		m,
		services.ChallengeConfig{
			Expiry:          cfg.Protection.ChallengeExpiry,
			EscalationBlock: cfg.Protection.EscalationBlock,
		},
		logger,
	)
	decisionService := services.NewDecisionService(
		blockListService,
		geoService,
		rateLimitService,
		counterService,
		settingsService,
		challengeService,
		activityRepo,
		auditLogger,
		m,
		services.DecisionConfig{
			LoginEndpoint:    cfg.Protection.LoginEndpoint,
			KnownDeviceLimit: cfg.Protection.KnownDeviceLimit,
		},
		logger,
	)
	mfaService := services.NewMFAService(recoveryRepo, totpRepo, totpManager, auditLogger, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	loginHandler := handlers.NewLoginHandler(decisionService, ipConfig)
	challengeHandler := handlers.NewChallengeHandler(challengeService)
	adminHandler := handlers.NewAdminHandler(
		blockListService,
		geoService,
		rateLimitService,
		settingsService,
		mfaService,
		decisionService,
		auditLogger,
	)

	// Cleanup manager
	cleanupManager := background.NewCleanupManager(
		blockRepo,
		attemptRepo,
		rateRepo,
		challengeRepo,
		activityRepo,
		logger,
		background.CleanupConfig{
			Interval:           cfg.Protection.CleanupInterval,
			CounterDecay:       cfg.Protection.FailureDecayWindow,
			ChallengeRetention: 24 * time.Hour,
			ActivityRetention:  cfg.Protection.ActivityRetention,
			WindowRetention:    24 * time.Hour,
		},
	)

	// Setup router
	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, loginHandler, challengeHandler, adminHandler, tokenManager)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}
