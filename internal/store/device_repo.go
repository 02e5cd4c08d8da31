package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// DeviceRepo handles persistence for Device records.
type DeviceRepo struct{}

// Create inserts a device and returns its assigned id.
func (r *DeviceRepo) Create(ctx context.Context, db *sql.DB, origin string) (int64, error) {
	res, err := db.ExecContext(ctx, `INSERT INTO devices (origin) VALUES (?)`, origin)
	if err != nil {
		return 0, fmt.Errorf("create device: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("device id: %w", err)
	}
	return id, nil
}

// GetByOrigin retrieves a device by its origin identifier.
func (r *DeviceRepo) GetByOrigin(ctx context.Context, db *sql.DB, origin string) (*domain.Device, error) {
	const q = `SELECT device_id, origin, last_screen, last_cycle_at_unix FROM devices WHERE origin = ?`
	return scanDevice(db.QueryRowContext(ctx, q, origin))
}

// GetByID retrieves a device by id.
func (r *DeviceRepo) GetByID(ctx context.Context, db *sql.DB, deviceID int64) (*domain.Device, error) {
	const q = `SELECT device_id, origin, last_screen, last_cycle_at_unix FROM devices WHERE device_id = ?`
	return scanDevice(db.QueryRowContext(ctx, q, deviceID))
}

// List returns every registered device ordered by id.
func (r *DeviceRepo) List(ctx context.Context, db *sql.DB) ([]*domain.Device, error) {
	const q = `SELECT device_id, origin, last_screen, last_cycle_at_unix FROM devices ORDER BY device_id ASC`

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var d domain.Device
		var screen string
		if err := rows.Scan(&d.DeviceID, &d.Origin, &screen, &d.LastCycleAtUnix); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		d.LastScreen = domain.ScreenType(screen)
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

// UpdateLastScreen records the outcome of the latest detection cycle.
func (r *DeviceRepo) UpdateLastScreen(ctx context.Context, db *sql.DB, deviceID int64, screen domain.ScreenType, ts int64) error {
	const q = `UPDATE devices SET last_screen = ?, last_cycle_at_unix = ? WHERE device_id = ?`
	res, err := db.ExecContext(ctx, q, string(screen), ts, deviceID)
	if err != nil {
		return fmt.Errorf("update last screen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrDeviceNotFound
	}
	return nil
}

func scanDevice(row *sql.Row) (*domain.Device, error) {
	var d domain.Device
	var screen string
	err := row.Scan(&d.DeviceID, &d.Origin, &screen, &d.LastCycleAtUnix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	d.LastScreen = domain.ScreenType(screen)
	return &d, nil
}
