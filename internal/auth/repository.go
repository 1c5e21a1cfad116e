package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository is the Postgres-backed revocation store. Records are independent
// rows; no cross-record transactions are needed.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM token_blacklist WHERE token_id = $1)
	`, tokenID).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("query token blacklist: %w", err)
	}

	return revoked, nil
}

// Insert is idempotent: revoking the same token twice leaves exactly one row.
func (r *Repository) Insert(ctx context.Context, record RevocationRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_blacklist (token_id, expires_at, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_id) DO NOTHING
	`, record.TokenID, record.ExpiresAt.UTC(), record.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert token blacklist record: %w", err)
	}

	return nil
}

// DeleteExpired removes every record whose expiry is behind now and reports
// how many were deleted.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM token_blacklist
		WHERE expires_at < $1
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired blacklist records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired blacklist rows affected: %w", err)
	}

	return affected, nil
}
