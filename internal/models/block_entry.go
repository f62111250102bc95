package models

import (
	"time"

	"github.com/google/uuid"
)

// Block origins recorded on entries.
const (
	BlockOriginAdmin      = "admin"
	BlockOriginEscalation = "escalation"
)

// BlockTarget identifies what a block entry applies to. At least one of
// IPAddress or Email must be set; either match blocks an attempt.
type BlockTarget struct {
	IPAddress string
	Email     string
}

// IsZero reports whether the target names neither an IP nor an email.
func (t BlockTarget) IsZero() bool {
	return t.IPAddress == "" && t.Email == ""
}

// BlockEntry is one row in the unified block list.
type BlockEntry struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	IPAddress    *string    `db:"ip_address" json:"ip_address,omitempty"`
	Email        *string    `db:"email" json:"email,omitempty"`
	Reason       string     `db:"reason" json:"reason"`
	IsPermanent  bool       `db:"is_permanent" json:"is_permanent"`
	BlockedUntil *time.Time `db:"blocked_until" json:"blocked_until,omitempty"`
	CreatedBy    string     `db:"created_by" json:"created_by"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the entry currently blocks. A permanent entry
// ignores BlockedUntil entirely.
func (b *BlockEntry) IsActive(now time.Time) bool {
	if b.IsPermanent {
		return true
	}
	return b.BlockedUntil != nil && b.BlockedUntil.After(now)
}
