package models

import (
	"time"

	"github.com/google/uuid"
)

// Challenge statuses. Pending is the only non-terminal state.
const (
	ChallengeStatusPending    = "pending"
	ChallengeStatusVerified   = "verified"
	ChallengeStatusFailed     = "failed"
	ChallengeStatusExpired    = "expired"
	ChallengeStatusSuperseded = "superseded"
)

// Challenge proof types accepted at resolution.
const (
	ProofTypeCode         = "code"
	ProofTypeRecoveryCode = "recovery_code"
	ProofTypeTOTP         = "totp"
)

// VerificationChallenge is a step-up challenge issued when a login is risky
// but not outright blocked. At most one pending challenge exists per email;
// issuing a new one supersedes the old.
type VerificationChallenge struct {
	ID           uuid.UUID  `db:"id"`
	Token        string     `db:"token"`
	UserID       *string    `db:"user_id"`
	Email        string     `db:"email"`
	Reason       string     `db:"reason"`
	CodeHash     string     `db:"code_hash"`
	Status       string     `db:"status"`
	AttemptCount int        `db:"attempt_count"`
	IssuedAt     time.Time  `db:"issued_at"`
	ExpiresAt    time.Time  `db:"expires_at"`
	ResolvedAt   *time.Time `db:"resolved_at"`
}

// IsExpired checks expiry against wall-clock time. Expired-but-unswept rows
// must still be rejected at resolve time.
func (c *VerificationChallenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsPending reports whether the challenge can still be resolved.
func (c *VerificationChallenge) IsPending() bool {
	return c.Status == ChallengeStatusPending
}

// ChallengeResolution is the outcome of a resolve call.
type ChallengeResolution string

const (
	ResolutionVerified ChallengeResolution = "verified"
	ResolutionFailed   ChallengeResolution = "failed"
	ResolutionExpired  ChallengeResolution = "expired"
)
