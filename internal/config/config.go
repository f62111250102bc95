package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Admin      AdminConfig
	Protection ProtectionConfig
	Email      EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
}

// AdminConfig secures the administrative API surface.
type AdminConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// ProtectionConfig holds deployment-level defaults for the decision engine.
// Thresholds and rate settings are data in the database; these values seed
// the tables and serve as fallbacks when a setting row is missing.
type ProtectionConfig struct {
	ChallengeThreshold int
	BlockThreshold     int
	FailureDecayWindow time.Duration
	ChallengeExpiry    time.Duration
	ChallengeRetryCap  int
	EscalationBlock    time.Duration
	KnownDeviceLimit   int
	LoginEndpoint      string
	// BlockListFailClosed flips the block-list check to deny on store
	// errors. Default false: the source trades security for UX on
	// infrastructure hiccups.
	BlockListFailClosed bool
	CleanupInterval     time.Duration
	ActivityRetention   time.Duration
	// TOTPEncryptionKey is a hex-encoded 32-byte AES-256 key.
	TOTPEncryptionKey []byte
	TOTPIssuer        string
	// Timing delay flattens the response-time difference between proof
	// outcomes on challenge resolution.
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
	TimingDelayOnSuccess bool
}

type EmailConfig struct {
	// Provider is "ses" or "log". The log provider writes codes to the
	// application log instead of sending mail; development only.
	Provider    string
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	adminSecret := getEnv("ADMIN_JWT_SECRET", "")
	if adminSecret == "" {
		return nil, fmt.Errorf("ADMIN_JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	totpKey, err := parseTOTPKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatekeeper"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: splitAndTrim(getEnv("ALLOWED_ORIGINS", "")),
			TrustedProxies: splitAndTrim(getEnv("TRUSTED_PROXIES", "")),
		},
		Admin: AdminConfig{
			JWTSecret:   adminSecret,
			TokenExpiry: getEnvAsDuration("ADMIN_TOKEN_EXPIRY", 1*time.Hour),
		},
		Protection: ProtectionConfig{
			ChallengeThreshold:   getEnvAsInt("FAILED_ATTEMPTS_CHALLENGE_THRESHOLD", 5),
			BlockThreshold:       getEnvAsInt("FAILED_ATTEMPTS_BLOCK_THRESHOLD", 10),
			FailureDecayWindow:   getEnvAsDuration("FAILURE_DECAY_WINDOW", 24*time.Hour),
			ChallengeExpiry:      getEnvAsDuration("CHALLENGE_EXPIRY", 10*time.Minute),
			ChallengeRetryCap:    getEnvAsInt("CHALLENGE_RETRY_CAP", 5),
			EscalationBlock:      getEnvAsDuration("ESCALATION_BLOCK_DURATION", 1*time.Hour),
			KnownDeviceLimit:     getEnvAsInt("KNOWN_DEVICE_LIMIT", 5),
			LoginEndpoint:        getEnv("LOGIN_ENDPOINT", "login"),
			BlockListFailClosed:  getEnvAsBool("BLOCK_LIST_FAIL_CLOSED", false),
			CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			ActivityRetention:    getEnvAsDuration("ACTIVITY_RETENTION", 90*24*time.Hour),
			TOTPEncryptionKey:    totpKey,
			TOTPIssuer:           getEnv("TOTP_ISSUER", "gatekeeper"),
			TimingDelayBaseMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			TimingDelayOnSuccess: getEnvAsBool("TIMING_DELAY_ON_SUCCESS", true),
		},
		Email: EmailConfig{
			Provider:    getEnv("EMAIL_PROVIDER", defaultEmailProvider(env)),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateAdminSecret(adminSecret, env); err != nil {
		return nil, err
	}

	if cfg.Protection.BlockThreshold <= cfg.Protection.ChallengeThreshold {
		return nil, fmt.Errorf("FAILED_ATTEMPTS_BLOCK_THRESHOLD must exceed the challenge threshold")
	}

	return cfg, nil
}

// validateAdminSecret enforces minimum strength for the admin signing secret
func validateAdminSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("ADMIN_JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func defaultEmailProvider(env string) string {
	if env == "production" {
		return "ses"
	}
	return "log"
}

func parseTOTPKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil // TOTP proof disabled
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
