package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orbitcart/gatekeeper/internal/database"
	"github.com/orbitcart/gatekeeper/internal/models"
)

// BlockListRepository handles the unified block list table
type BlockListRepository struct {
	db *database.DB
}

// NewBlockListRepository creates a new BlockListRepository
func NewBlockListRepository(db *database.DB) *BlockListRepository {
	return &BlockListRepository{db: db}
}

func scanBlockEntryRow(row rowScanner) (*models.BlockEntry, error) {
	var entry models.BlockEntry
	err := row.Scan(
		&entry.ID, &entry.IPAddress, &entry.Email, &entry.Reason,
		&entry.IsPermanent, &entry.BlockedUntil, &entry.CreatedBy,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &entry, nil
}

// HasActiveBlock reports whether any active entry matches the IP or the
// email. Either match blocks; empty arguments never match.
func (r *BlockListRepository) HasActiveBlock(ctx context.Context, ip, email string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM block_entries
			WHERE ((ip_address = $1 AND $1 <> '') OR (email = $2 AND $2 <> ''))
			  AND (is_permanent OR blocked_until > NOW())
		)
	`

	var blocked bool
	if err := r.db.Pool.QueryRow(ctx, query, ip, email).Scan(&blocked); err != nil {
		return false, fmt.Errorf("failed to check block list: %w", err)
	}
	return blocked, nil
}

// Upsert blocks a target, updating reason and expiry in place when an entry
// for the same target already exists (blocking is idempotent).
func (r *BlockListRepository) Upsert(ctx context.Context, target models.BlockTarget, reason, createdBy string, permanent bool, until *time.Time) (*models.BlockEntry, error) {
	query := `
		INSERT INTO block_entries (id, ip_address, email, reason, is_permanent, blocked_until, created_by)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7)
		ON CONFLICT (COALESCE(ip_address, ''), COALESCE(email, '')) DO UPDATE SET
			reason = EXCLUDED.reason,
			is_permanent = EXCLUDED.is_permanent,
			blocked_until = EXCLUDED.blocked_until,
			created_by = EXCLUDED.created_by,
			updated_at = NOW()
		RETURNING id, ip_address, email, reason, is_permanent, blocked_until, created_by, created_at, updated_at
	`

	entry, err := scanBlockEntryRow(r.db.Pool.QueryRow(ctx, query,
		uuid.New(), target.IPAddress, target.Email, reason, permanent, until, createdBy,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert block entry: %w", err)
	}
	return entry, nil
}

// Delete removes a block entry by ID. Removing a non-existent entry is a
// no-op, not an error.
func (r *BlockListRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM block_entries WHERE id = $1`
	if _, err := r.db.Pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete block entry: %w", err)
	}
	return nil
}

// List returns block entries newest first.
func (r *BlockListRepository) List(ctx context.Context, limit, offset int) ([]*models.BlockEntry, error) {
	query := `
		SELECT id, ip_address, email, reason, is_permanent, blocked_until, created_by, created_at, updated_at
		FROM block_entries
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list block entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.BlockEntry, 0)
	for rows.Next() {
		entry, err := scanBlockEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating block entries: %w", err)
	}
	return entries, nil
}

// DeleteExpired removes temporary entries that lapsed before the cutoff.
// Permanent entries are never touched.
func (r *BlockListRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM block_entries
		WHERE NOT is_permanent AND blocked_until IS NOT NULL AND blocked_until < $1
	`
	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired block entries: %w", err)
	}
	return result.RowsAffected(), nil
}
