package models

// Dynamic policy settings stored in the database. Changes take effect on the
// next evaluation without a restart.
const (
	SettingChallengeThreshold = "failed_attempts_challenge_threshold"
	SettingBlockThreshold     = "failed_attempts_block_threshold"
	SettingChallengeRetryCap  = "challenge_retry_cap"
)

// SecuritySetting is a single integer-valued policy knob.
type SecuritySetting struct {
	Key   string `db:"key" json:"key"`
	Value int    `db:"value" json:"value"`
}
