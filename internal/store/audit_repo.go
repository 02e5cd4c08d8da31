package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AuditRecord logs account lifecycle and automaton events per device.
type AuditRecord struct {
	ID         string
	Origin     string
	Category   string
	Actor      string
	Action     string
	DetailJSON string
	Severity   string
	CreatedAt  int64
}

// AuditRepo handles persistence for AuditRecord entries.
type AuditRepo struct{}

// Record inserts an audit record.
func (r *AuditRepo) Record(ctx context.Context, db *sql.DB, rec AuditRecord) error {
	if rec.DetailJSON == "" {
		rec.DetailJSON = "{}"
	}
	const q = `INSERT INTO audit_records (id, origin, category, actor, action, detail_json, severity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, q,
		rec.ID,
		rec.Origin,
		rec.Category,
		rec.Actor,
		rec.Action,
		rec.DetailJSON,
		rec.Severity,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListByOrigin returns all audit records for a device, ordered by creation time.
func (r *AuditRepo) ListByOrigin(ctx context.Context, db *sql.DB, origin string) ([]AuditRecord, error) {
	const q = `SELECT id, origin, category, actor, action, detail_json, severity, created_at
FROM audit_records
WHERE origin = ?
ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, origin)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(&rec.ID, &rec.Origin, &rec.Category, &rec.Actor, &rec.Action,
			&rec.DetailJSON, &rec.Severity, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
