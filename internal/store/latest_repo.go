package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// LatestProtoRepo tracks the most recent proto of each type per origin.
type LatestProtoRepo struct{}

// Upsert replaces the row keyed by (origin, key).
func (r *LatestProtoRepo) Upsert(ctx context.Context, db *sql.DB, p domain.LatestProto) error {
	const q = `INSERT INTO latest_protos (origin, proto_key, timestamp_raw, timestamp_received, payload, lat, lng)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(origin, proto_key) DO UPDATE SET
	timestamp_raw = excluded.timestamp_raw,
	timestamp_received = excluded.timestamp_received,
	payload = excluded.payload,
	lat = excluded.lat,
	lng = excluded.lng`
	_, err := db.ExecContext(ctx, q,
		p.Origin,
		p.Key,
		p.TimestampRaw,
		p.TimestampReceived,
		p.Payload,
		p.Location.Lat,
		p.Location.Lng,
	)
	if err != nil {
		return fmt.Errorf("upsert latest proto: %w", err)
	}
	return nil
}

// Get returns the latest row for (origin, key), or nil when none exists.
func (r *LatestProtoRepo) Get(ctx context.Context, db *sql.DB, origin, key string) (*domain.LatestProto, error) {
	const q = `SELECT origin, proto_key, timestamp_raw, timestamp_received, payload, lat, lng
FROM latest_protos WHERE origin = ? AND proto_key = ?`

	var p domain.LatestProto
	err := db.QueryRowContext(ctx, q, origin, key).Scan(&p.Origin, &p.Key, &p.TimestampRaw,
		&p.TimestampReceived, &p.Payload, &p.Location.Lat, &p.Location.Lng)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest proto: %w", err)
	}
	return &p, nil
}

// ListByOrigin returns every tracked type for one origin ordered by key.
func (r *LatestProtoRepo) ListByOrigin(ctx context.Context, db *sql.DB, origin string) ([]domain.LatestProto, error) {
	const q = `SELECT origin, proto_key, timestamp_raw, timestamp_received, payload, lat, lng
FROM latest_protos WHERE origin = ?
ORDER BY proto_key ASC`

	rows, err := db.QueryContext(ctx, q, origin)
	if err != nil {
		return nil, fmt.Errorf("list latest protos: %w", err)
	}
	defer rows.Close()

	var out []domain.LatestProto
	for rows.Next() {
		var p domain.LatestProto
		if err := rows.Scan(&p.Origin, &p.Key, &p.TimestampRaw, &p.TimestampReceived,
			&p.Payload, &p.Location.Lat, &p.Location.Lng); err != nil {
			return nil, fmt.Errorf("scan latest proto: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Count returns the number of tracked rows for an origin.
func (r *LatestProtoRepo) Count(ctx context.Context, db *sql.DB, origin string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM latest_protos WHERE origin = ?`, origin).Scan(&n); err != nil {
		return 0, fmt.Errorf("count latest protos: %w", err)
	}
	return n, nil
}
