package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the persona SQLite database.
// Root is the persona data directory; archive segment files live under it.
type DB struct {
	*sql.DB
	Root string
	Path string
}

// DefaultRoot returns the default data directory: ~/.persona
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".persona"), nil
}

// Open opens (or creates) the SQLite database at <root>/memory.db,
// configures pragmas, and runs migrations. It refuses to open a database
// whose schema version is newer than this build supports.
func Open(root string) (*DB, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(root, "memory.db")

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db := &DB{DB: sqlDB, Root: root, Path: path}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
// Root points at a temp dir so archival tests have somewhere to write.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Every pooled connection to ":memory:" is a distinct database; pin
	// the pool to one so all statements see the same schema.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Root: os.TempDir(), Path: ":memory:"}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA mmap_size=268435456", // 256MB
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

// SizeBytes returns the size of the backing file, or 0 for in-memory stores.
func (db *DB) SizeBytes() int64 {
	if db.Path == ":memory:" {
		return 0
	}
	info, err := os.Stat(db.Path)
	if err != nil {
		return 0
	}
	return info.Size()
}
