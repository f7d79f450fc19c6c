package contacts

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSource implements Source against the contacts table.
type PostgresSource struct {
	db *sql.DB
}

// NewPostgresSource creates a contact source backed by the given database.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

// Subscribed returns subscribed, non-bounced contact IDs for the list in
// ascending ID order. The ORDER BY is load-bearing: see the Source contract.
func (s *PostgresSource) Subscribed(ctx context.Context, listID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM contacts
		WHERE list_id = $1
		  AND status = 'subscribed'
		  AND bounced = false
		ORDER BY id ASC
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("list subscribed contacts for %s: %w", listID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SubscribedCount returns how many contacts Subscribed would return.
func (s *PostgresSource) SubscribedCount(ctx context.Context, listID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM contacts
		WHERE list_id = $1
		  AND status = 'subscribed'
		  AND bounced = false
	`, listID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count subscribed contacts for %s: %w", listID, err)
	}
	return n, nil
}
