package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/sequence-engine/internal/domain"
)

// SuppressionRepo stores do-not-mail entries in PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

// IsSuppressed reports whether email has an active suppression entry.
// Matching is case-insensitive.
func (r *SuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppressions WHERE LOWER(email) = LOWER($1) AND active = true)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

// Suppress upserts an active suppression for the entry's email.
func (r *SuppressionRepo) Suppress(ctx context.Context, s *domain.Suppression) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppressions (id, email, reason, source, active, created_at)
		VALUES ($1, LOWER($2), $3, $4, true, NOW())
		ON CONFLICT (email) DO UPDATE SET reason = $3, source = $4, active = true, updated_at = NOW()
	`, s.ID, s.Email, s.Reason, s.Source)
	if err != nil {
		return fmt.Errorf("suppress %s: %w", s.Email, err)
	}
	return nil
}

// Remove deactivates the suppression for email. Removing an address that was
// never suppressed is not an error.
func (r *SuppressionRepo) Remove(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE suppressions SET active = false, updated_at = NOW() WHERE LOWER(email) = LOWER($1)`,
		email,
	)
	if err != nil {
		return fmt.Errorf("remove suppression %s: %w", email, err)
	}
	return nil
}

// List returns active suppressions, newest first.
func (r *SuppressionRepo) List(ctx context.Context, limit, offset int) ([]domain.Suppression, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, COALESCE(reason, ''), COALESCE(source, ''), created_at
		FROM suppressions
		WHERE active = true
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list suppressions: %w", err)
	}
	defer rows.Close()

	var out []domain.Suppression
	for rows.Next() {
		var s domain.Suppression
		if err := rows.Scan(&s.ID, &s.Email, &s.Reason, &s.Source, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan suppression: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
