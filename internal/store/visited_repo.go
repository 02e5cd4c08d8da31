package store

import (
	"context"
	"database/sql"
	"fmt"
)

// VisitedRepo records which stops an account has already spun.
type VisitedRepo struct{}

// MarkVisited records (username, fortID). Repeated marks are no-ops.
func (r *VisitedRepo) MarkVisited(ctx context.Context, db *sql.DB, username, fortID string, now int64) error {
	const q = `INSERT INTO visited_stops (username, fort_id, visited_at) VALUES (?, ?, ?)
ON CONFLICT(username, fort_id) DO NOTHING`
	if _, err := db.ExecContext(ctx, q, username, fortID, now); err != nil {
		return fmt.Errorf("mark visited: %w", err)
	}
	return nil
}

// IsVisited reports whether the account has visited the stop.
func (r *VisitedRepo) IsVisited(ctx context.Context, db *sql.DB, username, fortID string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visited_stops WHERE username = ? AND fort_id = ?`,
		username, fortID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check visited: %w", err)
	}
	return n > 0, nil
}

// CountByUsername returns how many stops an account has visited.
func (r *VisitedRepo) CountByUsername(ctx context.Context, db *sql.DB, username string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visited_stops WHERE username = ?`, username).Scan(&n); err != nil {
		return 0, fmt.Errorf("count visited: %w", err)
	}
	return n, nil
}
