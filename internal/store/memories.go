package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Memory state values.
const (
	StateHot     = "hot"
	StateWarm    = "warm"
	StateCold    = "cold"
	StateArchive = "archive"
	StateScar    = "scar"
)

// Memory type values.
const (
	TypeEpisodic   = "episodic"
	TypeSemantic   = "semantic"
	TypeRelational = "relational"
	TypeProcedural = "procedural"
)

// Memory is a single row in the memories table. Rows are never hard
// deleted while referenced; they are soft-marked or content-redacted.
type Memory struct {
	ID                   string
	MemoryType           string
	Content              string
	Salience             float64
	State                string
	ActivationCount      int
	LastActivatedAt      int64
	EmotionScore         float64
	NarrativeScore       float64
	RelationalScore      float64
	CredibilityScore     float64
	OriginRole           string
	SpeakerRelation      string
	EvidenceLevel        string
	ExcludedFromRecall   bool
	ReconsolidationCount int
	SourceEventHash      string
	CreatedAt            int64
	UpdatedAt            int64
	DeletedAt            *int64
}

// NewMemoryID returns a fresh sortable ULID for a memory row.
func NewMemoryID() string {
	return ulid.Make().String()
}

const memoryColumns = `id, memory_type, content, salience, state, activation_count, last_activated_at,
	emotion_score, narrative_score, relational_score, credibility_score,
	origin_role, speaker_relation, evidence_level, excluded_from_recall,
	reconsolidation_count, source_event_hash, created_at, updated_at, deleted_at`

// InsertMemory inserts a new memory row. A zero ID is assigned one.
func (db *DB) InsertMemory(m *Memory) error {
	now := time.Now().UnixMilli()
	if m.ID == "" {
		m.ID = NewMemoryID()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	if m.LastActivatedAt == 0 {
		m.LastActivatedAt = m.CreatedAt
	}
	m.UpdatedAt = now
	if m.ActivationCount < 1 {
		m.ActivationCount = 1
	}

	excluded := 0
	if m.ExcludedFromRecall {
		excluded = 1
	}

	return withRetry(func() error {
		_, err := db.Exec(`
			INSERT INTO memories (`+memoryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, NULL)
		`, m.ID, m.MemoryType, m.Content, m.Salience, m.State, m.ActivationCount, m.LastActivatedAt,
			m.EmotionScore, m.NarrativeScore, m.RelationalScore, m.CredibilityScore,
			m.OriginRole, m.SpeakerRelation, m.EvidenceLevel, excluded,
			m.ReconsolidationCount, m.SourceEventHash, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		return nil
	})
}

// GetMemory returns a memory by ID, or nil if not found.
func (db *DB) GetMemory(id string) (*Memory, error) {
	row := db.QueryRow(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return m, nil
}

// UpdateLifecycle applies a recomputed activation/salience/state in one
// statement so the four fields can never drift apart.
func (db *DB) UpdateLifecycle(id string, salience float64, state string, activationCount int, lastActivatedAt int64) error {
	now := time.Now().UnixMilli()
	return withRetry(func() error {
		_, err := db.Exec(`
			UPDATE memories
			SET salience = ?, state = ?, activation_count = ?, last_activated_at = ?, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
		`, salience, state, activationCount, lastActivatedAt, now, id)
		if err != nil {
			return fmt.Errorf("update lifecycle: %w", err)
		}
		return nil
	})
}

// SoftDelete marks a memory deleted. The row stays for provenance; the
// FTS triggers drop it from the search index.
func (db *DB) SoftDelete(id string) error {
	now := time.Now().UnixMilli()
	return withRetry(func() error {
		_, err := db.Exec(`
			UPDATE memories SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL
		`, now, now, id)
		if err != nil {
			return fmt.Errorf("soft delete: %w", err)
		}
		return nil
	})
}

// MarkScar flips a memory into the permanent scar state. Scars never
// decay and never leave the state; archive-state rows cannot become scars.
func (db *DB) MarkScar(id string) error {
	now := time.Now().UnixMilli()
	return withRetry(func() error {
		res, err := db.Exec(`
			UPDATE memories SET state = ?, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL AND state IN (?, ?, ?)
		`, StateScar, now, id, StateHot, StateWarm, StateCold)
		if err != nil {
			return fmt.Errorf("mark scar: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("mark scar: memory %s not eligible", id)
		}
		return nil
	})
}

// SalienceUpdate is one decay adjustment computed by the decay job.
type SalienceUpdate struct {
	ID       string
	Salience float64
	State    string
}

// ApplyDecay commits a batch of decay updates in one transaction. A crash
// mid-batch leaves either the pre- or post-state, never a partial one.
func (db *DB) ApplyDecay(updates []SalienceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return withRetry(func() error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin decay: %w", err)
		}
		now := time.Now().UnixMilli()
		for _, u := range updates {
			if _, err := tx.Exec(`
				UPDATE memories SET salience = ?, state = ?, updated_at = ?
				WHERE id = ? AND deleted_at IS NULL AND state != ?
			`, u.Salience, u.State, now, u.ID, StateScar); err != nil {
				tx.Rollback()
				return fmt.Errorf("decay update %s: %w", u.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit decay: %w", err)
		}
		return nil
	})
}

// ListDecayable returns active, non-excluded, non-scar memories whose last
// activation is at or before the cutoff.
func (db *DB) ListDecayable(cutoff int64) ([]Memory, error) {
	rows, err := db.Query(`
		SELECT `+memoryColumns+` FROM memories
		WHERE deleted_at IS NULL
		  AND excluded_from_recall = 0
		  AND state IN (?, ?, ?)
		  AND last_activated_at <= ?
		ORDER BY last_activated_at ASC
	`, StateHot, StateWarm, StateCold, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list decayable: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// ListCompressible returns active memories below the salience ceiling and
// created at or before the age cutoff, least salient first.
func (db *DB) ListCompressible(ceiling float64, createdBefore int64, limit int) ([]Memory, error) {
	rows, err := db.Query(`
		SELECT `+memoryColumns+` FROM memories
		WHERE deleted_at IS NULL
		  AND excluded_from_recall = 0
		  AND state IN (?, ?, ?)
		  AND salience < ?
		  AND created_at <= ?
		ORDER BY salience ASC, created_at ASC
		LIMIT ?
	`, StateHot, StateWarm, StateCold, ceiling, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list compressible: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// CompressRewrite is the atomic replacement the compressor applies to one
// batch member. The original content is gone after this; archival is the
// lossless path.
type CompressRewrite struct {
	ID      string
	Content string
}

// ApplyCompression rewrites a batch of memories in one transaction:
// content replaced, state=archive, excluded from recall.
func (db *DB) ApplyCompression(rewrites []CompressRewrite) error {
	if len(rewrites) == 0 {
		return nil
	}
	return withRetry(func() error {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin compression: %w", err)
		}
		now := time.Now().UnixMilli()
		for _, r := range rewrites {
			if _, err := tx.Exec(`
				UPDATE memories
				SET content = ?, state = ?, excluded_from_recall = 1,
				    reconsolidation_count = reconsolidation_count + 1, updated_at = ?
				WHERE id = ? AND deleted_at IS NULL AND state != ?
			`, r.Content, StateArchive, now, r.ID, StateScar); err != nil {
				tx.Rollback()
				return fmt.Errorf("compress rewrite %s: %w", r.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit compression: %w", err)
		}
		return nil
	})
}

// ListArchivable returns cold, non-excluded memories idle since the
// cutoff, oldest-updated first, up to limit.
func (db *DB) ListArchivable(cutoff int64, limit int) ([]Memory, error) {
	rows, err := db.Query(`
		SELECT `+memoryColumns+` FROM memories
		WHERE deleted_at IS NULL
		  AND excluded_from_recall = 0
		  AND state = ?
		  AND last_activated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, StateCold, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list archivable: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// CountArchivable returns how many rows ListArchivable would consider,
// without the limit.
func (db *DB) CountArchivable(cutoff int64) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM memories
		WHERE deleted_at IS NULL AND excluded_from_recall = 0
		  AND state = ? AND last_activated_at <= ?
	`, StateCold, cutoff).Scan(&n)
	return n, err
}

// CountActive returns the number of live (hot/warm/cold) rows.
func (db *DB) CountActive() (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM memories
		WHERE deleted_at IS NULL AND excluded_from_recall = 0
		  AND state IN (?, ?, ?)
	`, StateHot, StateWarm, StateCold).Scan(&n)
	return n, err
}

// CountByState returns row counts per state for non-deleted rows.
func (db *DB) CountByState() (map[string]int, error) {
	rows, err := db.Query(`
		SELECT state, COUNT(*) FROM memories WHERE deleted_at IS NULL GROUP BY state
	`)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// EarliestCreatedAt returns the oldest created_at across all rows, or 0
// for an empty store.
func (db *DB) EarliestCreatedAt() (int64, error) {
	var ts sql.NullInt64
	err := db.QueryRow(`SELECT MIN(created_at) FROM memories`).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// SearchMemories runs a full-text query against the recall index.
// Soft-deleted and excluded rows are unreachable here by construction:
// the triggers never let them into memories_fts.
func (db *DB) SearchMemories(query string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.Query(`
		SELECT `+prefixedMemoryColumns("m")+`
		FROM memories_fts f
		JOIN memories m ON m.id = f.memory_id
		WHERE memories_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func prefixedMemoryColumns(alias string) string {
	return alias + `.id, ` + alias + `.memory_type, ` + alias + `.content, ` + alias + `.salience, ` +
		alias + `.state, ` + alias + `.activation_count, ` + alias + `.last_activated_at, ` +
		alias + `.emotion_score, ` + alias + `.narrative_score, ` + alias + `.relational_score, ` +
		alias + `.credibility_score, ` + alias + `.origin_role, ` + alias + `.speaker_relation, ` +
		alias + `.evidence_level, ` + alias + `.excluded_from_recall, ` + alias + `.reconsolidation_count, ` +
		alias + `.source_event_hash, ` + alias + `.created_at, ` + alias + `.updated_at, ` + alias + `.deleted_at`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var excluded int
	var sourceHash sql.NullString
	var deletedAt sql.NullInt64
	err := row.Scan(&m.ID, &m.MemoryType, &m.Content, &m.Salience, &m.State,
		&m.ActivationCount, &m.LastActivatedAt,
		&m.EmotionScore, &m.NarrativeScore, &m.RelationalScore, &m.CredibilityScore,
		&m.OriginRole, &m.SpeakerRelation, &m.EvidenceLevel, &excluded,
		&m.ReconsolidationCount, &sourceHash, &m.CreatedAt, &m.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	m.ExcludedFromRecall = excluded != 0
	m.SourceEventHash = sourceHash.String
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Int64
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var memories []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}
