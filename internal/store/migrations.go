package store

import (
	"database/sql"
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
	// Apply overrides SQL for migrations that need guarded, idempotent
	// steps (e.g. ADD COLUMN checks). Exactly one of SQL/Apply is set.
	Apply func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memories: core memory rows with lifecycle fields",
		SQL: `
CREATE TABLE memories (
    id                    TEXT PRIMARY KEY,
    memory_type           TEXT NOT NULL CHECK (memory_type IN ('episodic', 'semantic', 'relational', 'procedural')),
    content               TEXT NOT NULL,
    salience              REAL NOT NULL DEFAULT 0.5 CHECK (salience >= 0.0 AND salience <= 1.0),
    state                 TEXT NOT NULL DEFAULT 'warm' CHECK (state IN ('hot', 'warm', 'cold', 'archive', 'scar')),
    activation_count      INTEGER NOT NULL DEFAULT 1 CHECK (activation_count >= 1),
    last_activated_at     INTEGER NOT NULL,
    emotion_score         REAL NOT NULL DEFAULT 0.0,
    narrative_score       REAL NOT NULL DEFAULT 0.0,
    credibility_score     REAL NOT NULL DEFAULT 1.0,
    origin_role           TEXT NOT NULL DEFAULT 'user' CHECK (origin_role IN ('user', 'assistant', 'system')),
    speaker_relation      TEXT NOT NULL DEFAULT 'you' CHECK (speaker_relation IN ('me', 'you', 'other_named', 'group', 'unknown', 'system')),
    evidence_level        TEXT NOT NULL DEFAULT 'verified' CHECK (evidence_level IN ('verified', 'derived', 'uncertain')),
    excluded_from_recall  INTEGER NOT NULL DEFAULT 0,
    reconsolidation_count INTEGER NOT NULL DEFAULT 0,
    source_event_hash     TEXT,
    created_at            INTEGER NOT NULL,
    updated_at            INTEGER NOT NULL,
    deleted_at            INTEGER
);

CREATE INDEX idx_memories_state    ON memories(state);
CREATE INDEX idx_memories_salience ON memories(salience DESC);
CREATE INDEX idx_memories_updated  ON memories(updated_at);
CREATE INDEX idx_memories_type     ON memories(memory_type);
`,
	},
	{
		Version:     2,
		Description: "memories_fts: full-text index kept in sync by triggers",
		SQL: `
CREATE VIRTUAL TABLE memories_fts USING fts5(
    content,
    memory_id UNINDEXED
);

-- A row enters the index only while it is visible to recall. Soft-deleted
-- or excluded rows are absent by construction, not by caller filters.
CREATE TRIGGER memories_fts_ai AFTER INSERT ON memories
WHEN new.deleted_at IS NULL AND new.excluded_from_recall = 0
BEGIN
    INSERT INTO memories_fts (content, memory_id) VALUES (new.content, new.id);
END;

CREATE TRIGGER memories_fts_ad AFTER DELETE ON memories
BEGIN
    DELETE FROM memories_fts WHERE memory_id = old.id;
END;

CREATE TRIGGER memories_fts_au_del AFTER UPDATE ON memories
BEGIN
    DELETE FROM memories_fts WHERE memory_id = old.id;
END;

CREATE TRIGGER memories_fts_au_ins AFTER UPDATE ON memories
WHEN new.deleted_at IS NULL AND new.excluded_from_recall = 0
BEGIN
    INSERT INTO memories_fts (content, memory_id) VALUES (new.content, new.id);
END;
`,
	},
	{
		Version:     3,
		Description: "archive_segments: immutable checksummed archival batches",
		SQL: `
CREATE TABLE archive_segments (
    id           INTEGER PRIMARY KEY,
    segment_key  TEXT NOT NULL UNIQUE,
    summary      TEXT NOT NULL,
    payload_json TEXT NOT NULL,
    checksum     TEXT NOT NULL,
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_segments_created ON archive_segments(created_at DESC);
`,
	},
	{
		Version:     4,
		Description: "ingest_events: append-only event provenance log",
		SQL: `
CREATE TABLE ingest_events (
    id         INTEGER PRIMARY KEY,
    hash       TEXT NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    ts         INTEGER NOT NULL,
    payload    TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_events_ts ON ingest_events(ts DESC);
`,
	},
	{
		Version:     5,
		Description: "memories: relational_score signal column",
		Apply: func(tx *sql.Tx) error {
			return addColumnIfMissing(tx, "memories", "relational_score",
				"REAL NOT NULL DEFAULT 0.0")
		},
	},
}

// SupportedSchemaVersion is the highest migration this build knows about.
func SupportedSchemaVersion() int {
	return migrations[len(migrations)-1].Version
}

func (db *DB) migrate() error {
	return db.migrateTo(SupportedSchemaVersion())
}

// migrateTo applies the ladder up to and including version limit. A
// database already migrated partway picks up from where it stopped and
// lands on the same schema as a fresh run.
func (db *DB) migrateTo(limit int) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	// Monotone guard: never touch a database written by a newer build.
	current, err := db.SchemaVersion()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > SupportedSchemaVersion() {
		return fmt.Errorf("on-disk version %d, supported %d: %w",
			current, SupportedSchemaVersion(), ErrSchemaTooNew)
	}

	for _, m := range migrations {
		if m.Version > limit {
			continue
		}
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if m.Apply != nil {
			if err := m.Apply(tx); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
		} else if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}

// addColumnIfMissing is the ADD COLUMN IF NOT EXISTS equivalent SQLite
// lacks. Re-running on a database that already has the column is a no-op,
// so a partially applied ladder converges instead of failing.
func addColumnIfMissing(tx *sql.Tx, table, column, definition string) error {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("table_info %s: %w", table, err)
	}

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("scan table_info: %w", err)
		}
		if name == column {
			found = true
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if found {
		return nil
	}

	_, err = tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition))
	if err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}
