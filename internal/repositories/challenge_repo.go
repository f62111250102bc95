package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// ChallengeRepository handles verification challenge persistence
type ChallengeRepository struct {
	db *database.DB
}

// NewChallengeRepository creates a new ChallengeRepository
func NewChallengeRepository(db *database.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

func scanChallengeRow(row rowScanner) (*models.VerificationChallenge, error) {
	var c models.VerificationChallenge
	err := row.Scan(
		&c.ID, &c.Token, &c.UserID, &c.Email, &c.Reason, &c.CodeHash,
		&c.Status, &c.AttemptCount, &c.IssuedAt, &c.ExpiresAt, &c.ResolvedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// CreateSuperseding inserts a new pending challenge and marks any prior
// pending challenge for the same email superseded, in one transaction. Only
// the newest token remains resolvable.
func (r *ChallengeRepository) CreateSuperseding(ctx context.Context, challenge *models.VerificationChallenge) (*models.VerificationChallenge, error) {
	var created *models.VerificationChallenge

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		supersede := `
			UPDATE verification_challenges
			SET status = $1, resolved_at = NOW()
			WHERE email = $2 AND status = $3
		`
		if _, err := tx.Exec(ctx, supersede,
			models.ChallengeStatusSuperseded, challenge.Email, models.ChallengeStatusPending,
		); err != nil {
			return fmt.Errorf("failed to supersede prior challenges: %w", err)
		}

		insert := `
			INSERT INTO verification_challenges (id, token, user_id, email, reason, code_hash, status, issued_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), $8)
			RETURNING id, token, user_id, email, reason, code_hash, status, attempt_count, issued_at, expires_at, resolved_at
		`
		var err error
		created, err = scanChallengeRow(tx.QueryRow(ctx, insert,
			uuid.New(), challenge.Token, challenge.UserID, challenge.Email,
			challenge.Reason, challenge.CodeHash, models.ChallengeStatusPending,
			challenge.ExpiresAt,
		))
		if err != nil {
			return fmt.Errorf("failed to create challenge: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetByToken retrieves a challenge by its opaque token.
func (r *ChallengeRepository) GetByToken(ctx context.Context, token string) (*models.VerificationChallenge, error) {
	query := `
		SELECT id, token, user_id, email, reason, code_hash, status, attempt_count, issued_at, expires_at, resolved_at
		FROM verification_challenges
		WHERE token = $1
	`

	challenge, err := scanChallengeRow(r.db.Pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return challenge, nil
}

// MarkVerified transitions a pending challenge to verified. The status guard
// makes the transition happen exactly once; a lost race returns
// ErrChallengeResolved.
func (r *ChallengeRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return r.markVerifiedExec(ctx, r.db.Pool, id)
}

// MarkVerifiedTx is MarkVerified inside an existing transaction, used when
// recovery-code consumption must commit atomically with verification.
func (r *ChallengeRepository) MarkVerifiedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	return r.markVerifiedExec(ctx, tx, id)
}

// execQuerier is satisfied by both *pgxpool.Pool and pgx.Tx
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *ChallengeRepository) markVerifiedExec(ctx context.Context, ex execQuerier, id uuid.UUID) error {
	query := `
		UPDATE verification_challenges
		SET status = $1, resolved_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := ex.Exec(ctx, query, models.ChallengeStatusVerified, id, models.ChallengeStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark challenge verified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrChallengeResolved
	}
	return nil
}

// IncrementAttempts bumps the failed-proof counter and returns the new value.
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE verification_challenges
		SET attempt_count = attempt_count + 1
		WHERE id = $1 AND status = $2
		RETURNING attempt_count
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, id, models.ChallengeStatusPending).Scan(&count)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return 0, models.ErrChallengeResolved
		}
		return 0, fmt.Errorf("failed to increment challenge attempts: %w", err)
	}
	return count, nil
}

// MarkTerminal moves a pending challenge to a terminal status (failed or
// expired).
func (r *ChallengeRepository) MarkTerminal(ctx context.Context, id uuid.UUID, status string) error {
	query := `
		UPDATE verification_challenges
		SET status = $1, resolved_at = NOW()
		WHERE id = $2 AND status = $3
	`

	if _, err := r.db.Pool.Exec(ctx, query, status, id, models.ChallengeStatusPending); err != nil {
		return fmt.Errorf("failed to mark challenge %s: %w", status, err)
	}
	return nil
}

// ExpirePending marks pending challenges past their expiry. Resolution
// rejects expired rows regardless; this keeps the table tidy.
func (r *ChallengeRepository) ExpirePending(ctx context.Context) (int64, error) {
	query := `
		UPDATE verification_challenges
		SET status = $1, resolved_at = NOW()
		WHERE status = $2 AND expires_at <= NOW()
	`

	result, err := r.db.Pool.Exec(ctx, query, models.ChallengeStatusExpired, models.ChallengeStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending challenges: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteOlderThan removes terminal challenges that expired before the cutoff.
func (r *ChallengeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM verification_challenges
		WHERE status <> $1 AND expires_at < $2
	`

	result, err := r.db.Pool.Exec(ctx, query, models.ChallengeStatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old challenges: %w", err)
	}
	return result.RowsAffected(), nil
}
