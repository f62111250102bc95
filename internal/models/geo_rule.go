package models

import "time"

// GeoRule is a per-country allow/block rule. Absence of a rule means the
// country is not blocked.
type GeoRule struct {
	CountryCode string    `db:"country_code" json:"country_code"`
	IsBlocked   bool      `db:"is_blocked" json:"is_blocked"`
	Reason      string    `db:"reason" json:"reason"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
