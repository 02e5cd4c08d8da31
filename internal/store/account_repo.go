package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// AccountRepo handles persistence for game accounts.
type AccountRepo struct{}

const accountColumns = `account_id, username, password, login_type, device_id, burn_type, burned_at_unix,
last_softban_lat, last_softban_lng, last_softban_at_unix, last_logout_at_unix`

// Create inserts an account and returns its id.
func (r *AccountRepo) Create(ctx context.Context, db *sql.DB, a domain.Account) (int64, error) {
	const q = `INSERT INTO accounts (username, password, login_type, device_id) VALUES (?, ?, ?, ?)`
	res, err := db.ExecContext(ctx, q, a.Username, a.Password, string(a.LoginType), a.DeviceID)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("account id: %w", err)
	}
	return id, nil
}

// GetByID retrieves an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, db *sql.DB, accountID int64) (*domain.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE account_id = ?`
	return scanAccount(db.QueryRowContext(ctx, q, accountID))
}

// GetAssigned returns the account currently assigned to a device.
func (r *AccountRepo) GetAssigned(ctx context.Context, db *sql.DB, deviceID int64) (*domain.Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE device_id = ? ORDER BY account_id ASC LIMIT 1`
	return scanAccount(db.QueryRowContext(ctx, q, deviceID))
}

// AssignFree binds the oldest unburnt, unassigned account to the device and returns it.
func (r *AccountRepo) AssignFree(ctx context.Context, db *sql.DB, deviceID int64) (*domain.Account, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT account_id FROM accounts WHERE device_id = 0 AND burn_type = '' ORDER BY last_logout_at_unix ASC, account_id ASC LIMIT 1`,
	).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("pick free account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET device_id = ? WHERE account_id = ?`, deviceID, id); err != nil {
		return nil, fmt.Errorf("assign account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assign: %w", err)
	}
	return r.GetByID(ctx, db, id)
}

// SetSoftban records the time and place of the last softban-relevant action.
func (r *AccountRepo) SetSoftban(ctx context.Context, db *sql.DB, deviceID int64, loc domain.Location, ts int64) error {
	const q = `UPDATE accounts SET last_softban_lat = ?, last_softban_lng = ?, last_softban_at_unix = ? WHERE device_id = ?`
	return execExpectRows(ctx, db, "set softban", q, loc.Lat, loc.Lng, ts, deviceID)
}

// MarkBurnt flags the device's account as unusable and releases it from the device.
func (r *AccountRepo) MarkBurnt(ctx context.Context, db *sql.DB, deviceID int64, burn domain.BurnType, ts int64) error {
	const q = `UPDATE accounts SET burn_type = ?, burned_at_unix = ?, device_id = 0 WHERE device_id = ?`
	return execExpectRows(ctx, db, "mark burnt", q, string(burn), ts, deviceID)
}

// Release unassigns the device's account and records the logout time.
func (r *AccountRepo) Release(ctx context.Context, db *sql.DB, deviceID int64, ts int64) error {
	const q = `UPDATE accounts SET device_id = 0, last_logout_at_unix = ? WHERE device_id = ?`
	return execExpectRows(ctx, db, "release account", q, ts, deviceID)
}

func execExpectRows(ctx context.Context, db *sql.DB, op, q string, args ...any) error {
	res, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var a domain.Account
	var loginType, burn string
	err := row.Scan(&a.AccountID, &a.Username, &a.Password, &loginType, &a.DeviceID, &burn,
		&a.BurnedAtUnix, &a.LastSoftbanLat, &a.LastSoftbanLng, &a.LastSoftbanAtUnix, &a.LastLogoutAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	a.LoginType = domain.LoginType(loginType)
	a.BurnType = domain.BurnType(burn)
	return &a, nil
}
