package models

import "time"

// Verdict is the outcome of evaluating a login attempt.
type Verdict string

const (
	VerdictAllow     Verdict = "allow"
	VerdictBlock     Verdict = "block"
	VerdictChallenge Verdict = "challenge"
)

// Block/challenge reasons recorded in audit rows and returned to callers.
const (
	ReasonIdentityBlocked  = "identity_blocked"
	ReasonCountryBlocked   = "country_blocked"
	ReasonRateLimited      = "rate_limited"
	ReasonFailureThreshold = "failure_threshold"
	ReasonNewDevice        = "new_device"
)

// LoginAttempt is the inbound description of one authentication attempt.
// Email may be empty pre-authentication (unknown identity).
type LoginAttempt struct {
	Email       string
	IPAddress   string
	UserAgent   string
	CountryCode string
}

// Decision is the full result of one evaluation.
type Decision struct {
	Verdict        Verdict
	Reason         string
	ChallengeToken string
	// RetryAfter is set on rate-limit blocks so callers can surface a
	// Retry-After hint.
	RetryAfter *time.Time
}
