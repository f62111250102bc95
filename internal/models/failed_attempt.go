package models

import "time"

// FailedAttemptCounter accumulates consecutive credential failures for an
// email. It is cleared on a confirmed successful login or a verified
// challenge; counts beyond the configured decay window read as zero so an
// old resolved incident cannot soft-lock an account forever.
type FailedAttemptCounter struct {
	Email         string    `db:"email"`
	AttemptCount  int       `db:"attempt_count"`
	LastAttemptAt time.Time `db:"last_attempt_at"`
}

// EffectiveCount returns the count, treating a counter whose last failure is
// older than the decay window as zero.
func (c *FailedAttemptCounter) EffectiveCount(now time.Time, decay time.Duration) int {
	if decay > 0 && now.Sub(c.LastAttemptAt) >= decay {
		return 0
	}
	return c.AttemptCount
}
