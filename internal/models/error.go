package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Policy errors surfaced by the decision engine
	ErrIdentityBlocked   = errors.New("identity is blocked")
	ErrCountryBlocked    = errors.New("country is blocked by policy")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Challenge lifecycle errors
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeExpired   = errors.New("challenge has expired")
	ErrChallengeResolved  = errors.New("challenge already resolved")
	ErrInvalidProof       = errors.New("invalid challenge proof")
	ErrRetryExhausted     = errors.New("challenge retry limit exhausted")
	ErrRecoveryCodeUsed   = errors.New("recovery code already used")
	ErrTOTPNotEnrolled    = errors.New("no authenticator enrolled for account")
)
