package models

import "time"

// WildcardEndpoint is the settings row applied to endpoints without a
// dedicated setting.
const WildcardEndpoint = "*"

// RateLimitSetting configures the fixed-window limiter for one endpoint.
// Settings are data, not code constants; changes apply on the next check.
type RateLimitSetting struct {
	Endpoint      string    `db:"endpoint" json:"endpoint"`
	MaxRequests   int       `db:"max_requests" json:"max_requests"`
	WindowSeconds int       `db:"window_seconds" json:"window_seconds"`
	IsEnabled     bool      `db:"is_enabled" json:"is_enabled"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Window returns the configured window as a duration.
func (s *RateLimitSetting) Window() time.Duration {
	return time.Duration(s.WindowSeconds) * time.Second
}

// RateWindow is the persistent counter for one (ip, endpoint) pair. The
// count is only meaningful while now - WindowStart < the setting's window;
// an expired window reads as zero.
type RateWindow struct {
	IPAddress    string    `db:"ip_address"`
	Endpoint     string    `db:"endpoint"`
	WindowStart  time.Time `db:"window_start"`
	RequestCount int       `db:"request_count"`
}

// RateLimitResult is the outcome of a limiter check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
