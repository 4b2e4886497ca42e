package store

import (
	"fmt"
	"time"
)

// RecordEvent appends a life event to the provenance log, keyed by its
// hash. Returns false when the hash was already recorded, which makes
// re-delivered events a safe no-op for callers.
func (db *DB) RecordEvent(hash, eventType string, ts int64, payload string) (bool, error) {
	now := time.Now().UnixMilli()
	var inserted bool
	err := withRetry(func() error {
		res, err := db.Exec(`
			INSERT OR IGNORE INTO ingest_events (hash, event_type, ts, payload, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, hash, eventType, ts, payload, now)
		if err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// CountEvents returns the number of recorded events.
func (db *DB) CountEvents() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM ingest_events`).Scan(&n)
	return n, err
}
