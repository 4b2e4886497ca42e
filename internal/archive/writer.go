package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/persona/internal/store"
)

// LineSchema tags every JSONL line so readers can evolve the format.
const LineSchema = "memory_archive/v1"

// Options configures one archival run.
type Options struct {
	// MinItems is the smallest eligible batch worth a segment.
	MinItems int `json:"minItems" yaml:"min_items"`
	// MinColdRatio is the minimum cold/active fraction. It prevents
	// archiving a mostly-healthy store because a few rows went idle.
	MinColdRatio float64 `json:"minColdRatio" yaml:"min_cold_ratio"`
	// MaxItems caps the batch size.
	MaxItems int `json:"maxItems" yaml:"max_items"`
	// MinIdleDays is how long a cold row must sit untouched to qualify.
	MinIdleDays int `json:"minIdleDays" yaml:"min_idle_days"`
	// DryRun computes counts, checksum, and target paths without any
	// filesystem or store mutation.
	DryRun bool `json:"dryRun" yaml:"-"`
}

const (
	defaultMinItems     = 10
	defaultMinColdRatio = 0.3
	defaultMaxItems     = 200
	defaultMinIdleDays  = 45

	refSummaryLen = 120
	refMaxLen     = 300
)

func (o Options) withDefaults() Options {
	if o.MinItems <= 0 {
		o.MinItems = defaultMinItems
	}
	if o.MinColdRatio <= 0 {
		o.MinColdRatio = defaultMinColdRatio
	}
	if o.MinColdRatio > 1 {
		o.MinColdRatio = 1
	}
	if o.MaxItems <= 0 {
		o.MaxItems = defaultMaxItems
	}
	if o.MinIdleDays <= 0 {
		o.MinIdleDays = defaultMinIdleDays
	}
	return o
}

// Typed skip reasons. These are contract strings for operational tooling,
// not log text.
const (
	SkipNoEligibleRows = "no_eligible_rows"
	SkipBelowMinItems  = "below_min_items"
	SkipBelowMinRatio  = "below_min_ratio"
)

// Report is the machine-readable result of an archival run.
type Report struct {
	OK            bool    `json:"ok"`
	DryRun        bool    `json:"dryRun"`
	Skipped       bool    `json:"skipped"`
	SkippedReason string  `json:"skippedReason,omitempty"`
	Eligible      int     `json:"eligible"`
	Active        int     `json:"active"`
	ColdRatio     float64 `json:"coldRatio"`
	Count         int     `json:"count"`
	SegmentKey    string  `json:"segmentKey,omitempty"`
	Checksum      string  `json:"checksum,omitempty"`
	File          string  `json:"file,omitempty"`
	StartedAt     string  `json:"startedAt"`
	FinishedAt    string  `json:"finishedAt"`
}

// Line is one JSONL entry in a segment file.
type Line struct {
	Schema     string         `json:"schema"`
	ArchivedAt string         `json:"archivedAt"`
	BatchID    string         `json:"batchId"`
	Memory     ArchivedMemory `json:"memory"`
}

// ArchivedMemory is the stable wire form of a memory row inside a
// segment. Field names are part of the on-disk contract.
type ArchivedMemory struct {
	ID               string  `json:"id"`
	MemoryType       string  `json:"memoryType"`
	Content          string  `json:"content"`
	Salience         float64 `json:"salience"`
	State            string  `json:"state"`
	ActivationCount  int     `json:"activationCount"`
	LastActivatedAt  int64   `json:"lastActivatedAt"`
	EmotionScore     float64 `json:"emotionScore"`
	NarrativeScore   float64 `json:"narrativeScore"`
	RelationalScore  float64 `json:"relationalScore"`
	CredibilityScore float64 `json:"credibilityScore"`
	OriginRole       string  `json:"originRole"`
	SpeakerRelation  string  `json:"speakerRelation"`
	EvidenceLevel    string  `json:"evidenceLevel"`
	SourceEventHash  string  `json:"sourceEventHash,omitempty"`
	CreatedAt        int64   `json:"createdAt"`
	UpdatedAt        int64   `json:"updatedAt"`
}

// Manifest describes a segment. Its JSON encoding is what the segment
// checksum covers, and it is stored verbatim in payload_json.
type Manifest struct {
	File      string   `json:"file"`
	MemberIDs []string `json:"memberIds"`
	Cutoff    int64    `json:"cutoff"`
	Count     int      `json:"count"`
	CreatedAt string   `json:"createdAt"`
}

// Run moves eligible cold memories into an append-only, checksummed JSONL
// segment and rewrites the originals into short archive references. The
// gate either passes or returns a typed skip reason with zero side
// effects.
func Run(db *store.DB, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	now := time.Now()
	report := &Report{
		DryRun:    opts.DryRun,
		StartedAt: now.UTC().Format(time.RFC3339),
	}
	finish := func() *Report {
		report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
		return report
	}

	cutoff := now.Add(-time.Duration(opts.MinIdleDays) * 24 * time.Hour).UnixMilli()
	eligible, err := db.CountArchivable(cutoff)
	if err != nil {
		return finish(), fmt.Errorf("archive: count eligible: %w", err)
	}
	active, err := db.CountActive()
	if err != nil {
		return finish(), fmt.Errorf("archive: count active: %w", err)
	}
	report.Eligible = eligible
	report.Active = active
	if active < 1 {
		active = 1
	}
	report.ColdRatio = float64(eligible) / float64(active)

	switch {
	case eligible == 0:
		report.OK, report.Skipped, report.SkippedReason = true, true, SkipNoEligibleRows
		return finish(), nil
	case eligible < opts.MinItems:
		report.OK, report.Skipped, report.SkippedReason = true, true, SkipBelowMinItems
		return finish(), nil
	case report.ColdRatio < opts.MinColdRatio:
		report.OK, report.Skipped, report.SkippedReason = true, true, SkipBelowMinRatio
		return finish(), nil
	}

	members, err := db.ListArchivable(cutoff, opts.MaxItems)
	if err != nil {
		return finish(), fmt.Errorf("archive: list eligible: %w", err)
	}

	batchID := uuid.NewString()
	month := now.UTC().Format("200601")
	segmentKey := fmt.Sprintf("memory_archive:%s:%s", month, batchID)
	file := SegmentFilePath(db.Root, month)
	archivedAt := now.UTC().Format(time.RFC3339)

	lines := make([][]byte, 0, len(members))
	ids := make([]string, 0, len(members))
	rewrites := make([]store.CompressRewrite, 0, len(members))
	for i := range members {
		m := &members[i]
		line := Line{
			Schema:     LineSchema,
			ArchivedAt: archivedAt,
			BatchID:    batchID,
			Memory:     toArchived(m),
		}
		encoded, err := json.Marshal(line)
		if err != nil {
			return finish(), fmt.Errorf("archive: encode line %s: %w", m.ID, err)
		}
		lines = append(lines, encoded)
		ids = append(ids, m.ID)
	}

	manifest := Manifest{
		File:      file,
		MemberIDs: ids,
		Cutoff:    cutoff,
		Count:     len(members),
		CreatedAt: archivedAt,
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return finish(), fmt.Errorf("archive: encode manifest: %w", err)
	}
	checksum := Checksum(manifestJSON)

	for i := range members {
		rewrites = append(rewrites, store.CompressRewrite{
			ID:      members[i].ID,
			Content: referenceString(segmentKey, members[i].ID, checksum, members[i].Content),
		})
	}

	report.Count = len(members)
	report.SegmentKey = segmentKey
	report.Checksum = checksum
	report.File = file

	if opts.DryRun {
		report.OK = true
		return finish(), nil
	}

	if err := appendLines(file, lines); err != nil {
		return finish(), fmt.Errorf("archive: append segment: %w", err)
	}

	seg := &store.ArchiveSegment{
		SegmentKey:  segmentKey,
		Summary:     fmt.Sprintf("archived %d cold memories through %s", len(members), archivedAt),
		PayloadJSON: string(manifestJSON),
		Checksum:    checksum,
	}
	if err := db.CommitSegment(seg, rewrites); err != nil {
		return finish(), fmt.Errorf("archive: commit segment: %w", err)
	}

	report.OK = true
	return finish(), nil
}

// SegmentFilePath returns the JSONL path for a month under the data root.
func SegmentFilePath(root, month string) string {
	return filepath.Join(root, "summaries", "archive", "segment-"+month+".jsonl")
}

// Checksum returns the hex SHA-256 of the manifest JSON.
func Checksum(manifestJSON []byte) string {
	sum := sha256.Sum256(manifestJSON)
	return hex.EncodeToString(sum[:])
}

// referenceString builds the bounded replacement content for an archived
// row. It embeds everything needed to find the member line again.
func referenceString(segmentKey, id, checksum, original string) string {
	snippet := original
	if runes := []rune(snippet); len(runes) > refSummaryLen {
		snippet = string(runes[:refSummaryLen])
	}
	ref := fmt.Sprintf("[archived_ref] segment=%s id=%s checksum=%s summary=%s",
		segmentKey, id, checksum, snippet)
	if runes := []rune(ref); len(runes) > refMaxLen {
		ref = string(runes[:refMaxLen])
	}
	return ref
}

// appendLines appends (never overwrites) the encoded lines. A crash after
// a partial append leaves at worst a truncated trailing line; readers
// cross-check row counts against the manifest.
func appendLines(file string, lines [][]byte) error {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open segment file: %w", err)
	}
	defer f.Close()

	for _, line := range lines {
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write segment line: %w", err)
		}
	}
	return f.Sync()
}

func toArchived(m *store.Memory) ArchivedMemory {
	return ArchivedMemory{
		ID:               m.ID,
		MemoryType:       m.MemoryType,
		Content:          m.Content,
		Salience:         m.Salience,
		State:            m.State,
		ActivationCount:  m.ActivationCount,
		LastActivatedAt:  m.LastActivatedAt,
		EmotionScore:     m.EmotionScore,
		NarrativeScore:   m.NarrativeScore,
		RelationalScore:  m.RelationalScore,
		CredibilityScore: m.CredibilityScore,
		OriginRole:       m.OriginRole,
		SpeakerRelation:  m.SpeakerRelation,
		EvidenceLevel:    m.EvidenceLevel,
		SourceEventHash:  m.SourceEventHash,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
