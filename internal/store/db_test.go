package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

func TestOpenMemory(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestSchemaVersion(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != SupportedSchemaVersion() {
		t.Errorf("SchemaVersion = %d, want %d", v, SupportedSchemaVersion())
	}
	if v != 5 {
		t.Errorf("SchemaVersion = %d, want 5", v)
	}
}

func TestTablesExist(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	tables := []string{"schema_versions", "memories", "memories_fts", "archive_segments", "ingest_events"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMemoriesConstraints(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// Valid insert
	_, err = db.Exec(`
		INSERT INTO memories (id, memory_type, content, last_activated_at, created_at, updated_at)
		VALUES ('m-001', 'episodic', 'coffee at 9am', 1000, 1000, 1000)
	`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	// Invalid memory_type
	_, err = db.Exec(`
		INSERT INTO memories (id, memory_type, content, last_activated_at, created_at, updated_at)
		VALUES ('m-002', 'invalid', 'x', 1000, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid memory_type, got nil")
	}

	// Invalid state
	_, err = db.Exec(`
		INSERT INTO memories (id, memory_type, content, state, last_activated_at, created_at, updated_at)
		VALUES ('m-003', 'episodic', 'x', 'invalid', 1000, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid state, got nil")
	}

	// Salience out of range
	_, err = db.Exec(`
		INSERT INTO memories (id, memory_type, content, salience, last_activated_at, created_at, updated_at)
		VALUES ('m-004', 'episodic', 'x', 1.5, 1000, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for salience > 1, got nil")
	}

	// Activation count below one
	_, err = db.Exec(`
		INSERT INTO memories (id, memory_type, content, activation_count, last_activated_at, created_at, updated_at)
		VALUES ('m-005', 'episodic', 'x', 0, 1000, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for activation_count = 0, got nil")
	}

	// Invalid speaker_relation
	_, err = db.Exec(`
		INSERT INTO memories (id, memory_type, content, speaker_relation, last_activated_at, created_at, updated_at)
		VALUES ('m-006', 'episodic', 'x', 'stranger', 1000, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid speaker_relation, got nil")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// Running migrate again should be a no-op
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != SupportedSchemaVersion() {
		t.Errorf("SchemaVersion after re-migrate = %d, want %d", v, SupportedSchemaVersion())
	}
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(
		"INSERT INTO schema_versions (version, description) VALUES (?, 'from the future')",
		SupportedSchemaVersion()+1,
	)
	if err != nil {
		t.Fatalf("insert future version: %v", err)
	}

	err = db.migrate()
	if !errors.Is(err, ErrSchemaTooNew) {
		t.Errorf("migrate = %v, want ErrSchemaTooNew", err)
	}
}

func TestAddColumnIfMissingConverges(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	// relational_score already exists after migrate; re-applying must not fail.
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := addColumnIfMissing(tx, "memories", "relational_score", "REAL NOT NULL DEFAULT 0.0"); err != nil {
		t.Fatalf("addColumnIfMissing on existing column: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// openAtVersion builds an in-memory database migrated only partway up
// the ladder, standing in for a store written by an older build.
func openAtVersion(t *testing.T, version int) *DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite memory: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Root: os.TempDir(), Path: ":memory:"}
	if err := db.configurePragmas(); err != nil {
		t.Fatalf("pragmas: %v", err)
	}
	if err := db.migrateTo(version); err != nil {
		t.Fatalf("migrateTo(%d): %v", version, err)
	}
	return db
}

func schemaObjects(t *testing.T, db *DB) string {
	t.Helper()
	rows, err := db.Query(`
		SELECT type, name, COALESCE(sql, '')
		FROM sqlite_master
		WHERE name NOT LIKE 'sqlite_%'
		ORDER BY type, name
	`)
	if err != nil {
		t.Fatalf("read sqlite_master: %v", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var typ, name, ddl string
		if err := rows.Scan(&typ, &name, &ddl); err != nil {
			t.Fatalf("scan sqlite_master: %v", err)
		}
		fmt.Fprintf(&b, "%s %s %s\n", typ, name, ddl)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("sqlite_master rows: %v", err)
	}
	return b.String()
}

func TestMigrationLadderConverges(t *testing.T) {
	fresh, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer fresh.Close()
	want := schemaObjects(t, fresh)

	// Every intermediate version must migrate to the same schema a fresh
	// store gets: same tables, indices, triggers, and DDL text.
	for v := 1; v < SupportedSchemaVersion(); v++ {
		db := openAtVersion(t, v)

		if got, err := db.SchemaVersion(); err != nil || got != v {
			t.Fatalf("version after migrateTo(%d) = %d, %v; want %d", v, got, err, v)
		}
		if err := db.migrate(); err != nil {
			t.Fatalf("migrate from v%d: %v", v, err)
		}
		if got, err := db.SchemaVersion(); err != nil || got != SupportedSchemaVersion() {
			t.Errorf("version after catch-up from v%d = %d, %v; want %d", v, got, err, SupportedSchemaVersion())
		}
		if got := schemaObjects(t, db); got != want {
			t.Errorf("schema after v%d catch-up diverges:\n got:\n%s\nwant:\n%s", v, got, want)
		}
		db.Close()
	}
}

func TestWALMode(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	var mode string
	err = db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	// In-memory databases may use "memory" mode instead of WAL
	if mode != "wal" && mode != "memory" {
		t.Errorf("journal_mode = %q, want wal or memory", mode)
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	var fk int
	err = db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	if err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}
