package store

import (
	"context"
	"database/sql"
	"fmt"
)

// LoginTrackingRepo counts proto posts per origin and PTC logins per IP.
type LoginTrackingRepo struct{}

// Increment bumps the post counter for an origin.
func (r *LoginTrackingRepo) Increment(ctx context.Context, db *sql.DB, origin string, now int64) error {
	const q = `INSERT INTO login_tracking (origin, count, updated_at) VALUES (?, 1, ?)
ON CONFLICT(origin) DO UPDATE SET count = count + 1, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, q, origin, now); err != nil {
		return fmt.Errorf("increment login tracking: %w", err)
	}
	return nil
}

// Count returns the post counter for an origin.
func (r *LoginTrackingRepo) Count(ctx context.Context, db *sql.DB, origin string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT count FROM login_tracking WHERE origin = ?`, origin).Scan(&n)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("get login tracking: %w", err)
	}
	return n, nil
}

// Remove clears the post counter for an origin.
func (r *LoginTrackingRepo) Remove(ctx context.Context, db *sql.DB, origin string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM login_tracking WHERE origin = ?`, origin); err != nil {
		return fmt.Errorf("remove login tracking: %w", err)
	}
	return nil
}

// RecordIPLogin stores one login attempt from ip.
func (r *LoginTrackingRepo) RecordIPLogin(ctx context.Context, db *sql.DB, ip, origin string, now int64) error {
	const q = `INSERT INTO ip_logins (ip, origin, created_at) VALUES (?, ?, ?)`
	if _, err := db.ExecContext(ctx, q, ip, origin, now); err != nil {
		return fmt.Errorf("record ip login: %w", err)
	}
	return nil
}

// CountIPLoginsSince returns attempts from ip at or after since.
func (r *LoginTrackingRepo) CountIPLoginsSince(ctx context.Context, db *sql.DB, ip string, since int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ip_logins WHERE ip = ? AND created_at >= ?`, ip, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ip logins: %w", err)
	}
	return n, nil
}
