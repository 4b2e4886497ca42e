package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ArchiveSegment is the metadata row for one immutable archival batch.
// Once written, the segment's JSONL file and checksum are never mutated;
// a new archival run always creates a new segment.
type ArchiveSegment struct {
	ID          int64
	SegmentKey  string
	Summary     string
	PayloadJSON string
	Checksum    string
	CreatedAt   int64
}

// CommitSegment inserts the segment metadata row and rewrites each member
// memory into its archive reference in a single transaction. The caller
// has already appended the JSONL lines; a crash between the append and
// this commit leaves only unreferenced trailing lines, which the next run
// ignores because it always opens a new batch.
func (db *DB) CommitSegment(seg *ArchiveSegment, rewrites []CompressRewrite) error {
	return withRetry(func() error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin segment commit: %w", err)
		}
		now := time.Now().UnixMilli()
		if seg.CreatedAt == 0 {
			seg.CreatedAt = now
		}

		res, err := tx.Exec(`
			INSERT INTO archive_segments (segment_key, summary, payload_json, checksum, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, seg.SegmentKey, seg.Summary, seg.PayloadJSON, seg.Checksum, seg.CreatedAt)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert segment: %w", err)
		}
		seg.ID, _ = res.LastInsertId()

		for _, r := range rewrites {
			if _, err := tx.Exec(`
				UPDATE memories
				SET content = ?, state = ?, excluded_from_recall = 1, updated_at = ?
				WHERE id = ? AND deleted_at IS NULL AND state != ?
			`, r.Content, StateArchive, now, r.ID, StateScar); err != nil {
				tx.Rollback()
				return fmt.Errorf("archive rewrite %s: %w", r.ID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit segment: %w", err)
		}
		return nil
	})
}

// GetSegment returns a segment by its key, or nil if not found.
func (db *DB) GetSegment(key string) (*ArchiveSegment, error) {
	var s ArchiveSegment
	err := db.QueryRow(`
		SELECT id, segment_key, summary, payload_json, checksum, created_at
		FROM archive_segments WHERE segment_key = ?
	`, key).Scan(&s.ID, &s.SegmentKey, &s.Summary, &s.PayloadJSON, &s.Checksum, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return &s, nil
}

// ListSegments returns all segments, newest first.
func (db *DB) ListSegments() ([]ArchiveSegment, error) {
	rows, err := db.Query(`
		SELECT id, segment_key, summary, payload_json, checksum, created_at
		FROM archive_segments ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segments []ArchiveSegment
	for rows.Next() {
		var s ArchiveSegment
		if err := rows.Scan(&s.ID, &s.SegmentKey, &s.Summary, &s.PayloadJSON, &s.Checksum, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, s)
	}
	return segments, rows.Err()
}
