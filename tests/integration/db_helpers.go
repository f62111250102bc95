package integration

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/repositories"
)

// TestDB manages PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("gatekeeper"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	dbWrapper := &database.DB{
		Pool: pool,
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         dbWrapper,
	}, nil
}

// runMigrations executes all goose migrations
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	goose.SetLogger(log.New(io.Discard, "", 0))

	// Goose needs a stdlib DB connection
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation. The seeded
// rate_limit_settings and security_settings rows are restored afterwards.
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"login_activity",
		"failed_attempt_counters",
		"block_entries",
		"geo_rules",
		"rate_windows",
		"rate_limit_settings",
		"verification_challenges",
		"recovery_codes",
		"known_devices",
		"security_settings",
		"totp_enrollments",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO rate_limit_settings (endpoint, max_requests, window_seconds, is_enabled)
		VALUES ('*', 30, 60, TRUE)
	`); err != nil {
		return fmt.Errorf("failed to reseed rate limit settings: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO security_settings (key, value) VALUES
			('failed_attempts_challenge_threshold', 5),
			('failed_attempts_block_threshold', 10),
			('challenge_retry_cap', 5)
	`); err != nil {
		return fmt.Errorf("failed to reseed security settings: %w", err)
	}

	return nil
}

// Repositories bundles every repository instance built from one database
type Repositories struct {
	Blocks     *repositories.BlockListRepository
	GeoRules   *repositories.GeoRuleRepository
	RateLimits *repositories.RateLimitRepository
	Attempts   *repositories.FailedAttemptRepository
	Settings   *repositories.SettingsRepository
	Challenges *repositories.ChallengeRepository
	Recovery   *repositories.RecoveryCodeRepository
	TOTP       *repositories.TOTPRepository
	Activity   *repositories.LoginActivityRepository
}

// InitializeRepositories creates all repository instances from database wrapper
func InitializeRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Blocks:     repositories.NewBlockListRepository(db),
		GeoRules:   repositories.NewGeoRuleRepository(db),
		RateLimits: repositories.NewRateLimitRepository(db),
		Attempts:   repositories.NewFailedAttemptRepository(db),
		Settings:   repositories.NewSettingsRepository(db),
		Challenges: repositories.NewChallengeRepository(db),
		Recovery:   repositories.NewRecoveryCodeRepository(db),
		TOTP:       repositories.NewTOTPRepository(db),
		Activity:   repositories.NewLoginActivityRepository(db),
	}
}
