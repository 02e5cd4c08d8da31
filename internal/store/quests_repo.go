package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// QuestsHeldRepo records which quests a device's account currently holds.
type QuestsHeldRepo struct{}

// Set stores the quest list for an origin. A nil list is stored as empty.
func (r *QuestsHeldRepo) Set(ctx context.Context, db *sql.DB, origin string, quests []int, now int64) error {
	if quests == nil {
		quests = []int{}
	}
	data, err := json.Marshal(quests)
	if err != nil {
		return fmt.Errorf("marshal quests: %w", err)
	}
	const q = `INSERT INTO quests_held (origin, quests, updated_at) VALUES (?, ?, ?)
ON CONFLICT(origin) DO UPDATE SET quests = excluded.quests, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, q, origin, string(data), now); err != nil {
		return fmt.Errorf("set quests held: %w", err)
	}
	return nil
}

// Get returns the quest list for an origin; nil if never recorded.
func (r *QuestsHeldRepo) Get(ctx context.Context, db *sql.DB, origin string) ([]int, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT quests FROM quests_held WHERE origin = ?`, origin).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get quests held: %w", err)
	}
	var quests []int
	if err := json.Unmarshal([]byte(raw), &quests); err != nil {
		return nil, fmt.Errorf("unmarshal quests: %w", err)
	}
	return quests, nil
}
