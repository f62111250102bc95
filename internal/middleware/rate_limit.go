package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// EdgeRateLimitConfig holds transport-level rate limiting configuration.
// This in-process limiter shields the handlers themselves; the database
// backed limiter inside the decision engine is policy, this is plumbing.
type EdgeRateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultPublicRateLimit covers the public evaluation endpoints
func DefaultPublicRateLimit() EdgeRateLimitConfig {
	return EdgeRateLimitConfig{
		RequestsPerMinute: 120,
	}
}

// DefaultAdminRateLimit covers the admin API (30 requests per minute)
func DefaultAdminRateLimit() EdgeRateLimitConfig {
	return EdgeRateLimitConfig{
		RequestsPerMinute: 30,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config EdgeRateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded"}`))
		}),
	)
}
