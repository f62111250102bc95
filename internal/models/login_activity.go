package models

import "time"

// Login activity statuses. Exactly one row is written per attempt.
const (
	ActivityStatusSuccess    = "success"
	ActivityStatusFailed     = "failed"
	ActivityStatusBlocked    = "blocked"
	ActivityStatusChallenged = "challenged"
)

// LoginActivity is an append-only audit row for a single login attempt.
// Rows are never mutated after insert.
type LoginActivity struct {
	ID            string    `db:"id" json:"id"`
	Email         string    `db:"email" json:"email"`
	IPAddress     string    `db:"ip_address" json:"ip_address"`
	UserAgent     string    `db:"user_agent" json:"user_agent"`
	BrowserFamily string    `db:"browser_family" json:"browser_family"`
	OSFamily      string    `db:"os_family" json:"os_family"`
	DeviceClass   string    `db:"device_class" json:"device_class"`
	CountryCode   string    `db:"country_code" json:"country_code"`
	Status        string    `db:"status" json:"status"`
	FailureReason *string   `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// KnownDevice is one entry in the bounded per-account set of recently seen
// device fingerprints, maintained instead of rescanning activity history.
type KnownDevice struct {
	Email          string    `db:"email" json:"email"`
	FingerprintKey string    `db:"fingerprint_key" json:"fingerprint_key"`
	FirstSeenAt    time.Time `db:"first_seen_at" json:"first_seen_at"`
	LastSeenAt     time.Time `db:"last_seen_at" json:"last_seen_at"`
	LoginCount     int       `db:"login_count" json:"login_count"`
}
