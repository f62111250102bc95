package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orbitcart/gatekeeper/internal/auth"
	"github.com/orbitcart/gatekeeper/internal/handlers"
	"github.com/orbitcart/gatekeeper/internal/middleware"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	loginHandler *handlers.LoginHandler,
	challengeHandler *handlers.ChallengeHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
) {
	publicRateLimit := middleware.DefaultPublicRateLimit()
	adminRateLimit := middleware.DefaultAdminRateLimit()

	router.Handle("/metrics", promhttp.Handler())

	// Evaluation endpoints are called by the authentication system, not by
	// end users. The edge limit here protects the engine itself; the
	// per-attempt policy limiter lives inside the decision engine.
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(publicRateLimit))

		r.Post("/v1/logins/evaluate", loginHandler.Evaluate)
		r.Post("/v1/logins/outcome", loginHandler.ReportOutcome)
		r.Post("/v1/challenges/resolve", challengeHandler.Resolve)
	})

	// Admin routes - authentication and admin role required
	router.Route("/v1/admin", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(adminRateLimit))
		r.Use(auth.AuthMiddleware(tokenManager))
		r.Use(auth.RequireRole(models.RoleAdmin))

		r.Get("/blocks", adminHandler.ListBlocks)
		r.Post("/blocks", adminHandler.CreateBlock)
		r.Delete("/blocks/{id}", adminHandler.DeleteBlock)

		r.Get("/geo-rules", adminHandler.ListGeoRules)
		r.Put("/geo-rules", adminHandler.SetGeoRule)
		r.Delete("/geo-rules/{code}", adminHandler.DeleteGeoRule)

		r.Get("/rate-settings", adminHandler.ListRateSettings)
		r.Put("/rate-settings", adminHandler.SetRateSetting)

		r.Get("/settings", adminHandler.ListSettings)
		r.Put("/settings", adminHandler.SetSetting)

		r.Post("/recovery-codes", adminHandler.GenerateRecoveryCodes)
		r.Get("/recovery-codes/{email}", adminHandler.RecoveryCodeStatus)

		r.Post("/totp", adminHandler.EnrollTOTP)
		r.Delete("/totp/{email}", adminHandler.DisenrollTOTP)

		r.Get("/activity", adminHandler.ListActivity)
		r.Get("/activity/{email}/devices", adminHandler.ListKnownDevices)
	})
}
