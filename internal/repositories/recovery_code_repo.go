package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// RecoveryCodeRepository handles one-time recovery code persistence
type RecoveryCodeRepository struct {
	db *database.DB
}

// NewRecoveryCodeRepository creates a new RecoveryCodeRepository
func NewRecoveryCodeRepository(db *database.DB) *RecoveryCodeRepository {
	return &RecoveryCodeRepository{db: db}
}

// ReplaceBatch deletes the account's previous batch and inserts the new
// hashes in one transaction, so there is never a window where both old and
// new codes validate.
func (r *RecoveryCodeRepository) ReplaceBatch(ctx context.Context, userID, email string, codeHashes []string) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE email = $1`, email); err != nil {
			return fmt.Errorf("failed to delete previous recovery codes: %w", err)
		}

		insert := `
			INSERT INTO recovery_codes (id, user_id, email, code_hash)
			VALUES ($1, $2, $3, $4)
		`
		for _, hash := range codeHashes {
			if _, err := tx.Exec(ctx, insert, uuid.New(), userID, email, hash); err != nil {
				return fmt.Errorf("failed to insert recovery code: %w", err)
			}
		}
		return nil
	})
}

// ListUnused returns the account's unused codes. Hashes are bcrypt, so the
// caller must compare the presented code against each candidate.
func (r *RecoveryCodeRepository) ListUnused(ctx context.Context, email string) ([]*models.RecoveryCode, error) {
	query := `
		SELECT id, user_id, email, code_hash, is_used, used_at, created_at
		FROM recovery_codes
		WHERE email = $1 AND is_used = false
		ORDER BY created_at
	`

	rows, err := r.db.Pool.Query(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list recovery codes: %w", err)
	}
	defer rows.Close()

	codes := make([]*models.RecoveryCode, 0)
	for rows.Next() {
		var c models.RecoveryCode
		err := rows.Scan(&c.ID, &c.UserID, &c.Email, &c.CodeHash, &c.IsUsed, &c.UsedAt, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recovery code: %w", err)
		}
		codes = append(codes, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recovery codes: %w", err)
	}
	return codes, nil
}

// ConsumeTx marks a code used inside an existing transaction. The is_used
// guard means a code that loses the race returns ErrRecoveryCodeUsed even if
// the update is retried.
func (r *RecoveryCodeRepository) ConsumeTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	query := `
		UPDATE recovery_codes
		SET is_used = true, used_at = NOW()
		WHERE id = $1 AND is_used = false
	`

	result, err := tx.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to consume recovery code: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrRecoveryCodeUsed
	}
	return nil
}

// CountUnused returns how many codes remain for an account.
func (r *RecoveryCodeRepository) CountUnused(ctx context.Context, email string) (int, error) {
	query := `SELECT COUNT(*) FROM recovery_codes WHERE email = $1 AND is_used = false`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, email).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recovery codes: %w", err)
	}
	return count, nil
}
