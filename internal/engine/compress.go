package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/persona/internal/store"
)

// CompressOptions configures the low-salience compressor.
type CompressOptions struct {
	// SalienceCeiling selects memories strictly below this score.
	SalienceCeiling float64 `json:"salienceCeiling" yaml:"salience_ceiling"`
	// MinAgeDays excludes anything created more recently.
	MinAgeDays int `json:"minAgeDays" yaml:"min_age_days"`
	// MaxBatch caps how many rows one run may compress.
	MaxBatch int `json:"maxBatch" yaml:"max_batch"`
	// GroupByType clusters the batch per memory type so each synthesized
	// summary stays coherent.
	GroupByType bool `json:"groupByType" yaml:"group_by_type"`
	// DryRun computes the batch and summaries without mutating anything.
	DryRun bool `json:"dryRun" yaml:"-"`
}

const (
	defaultSalienceCeiling = 0.25
	defaultMinAgeDays      = 30
	defaultMaxBatch        = 50

	summaryMemberCap  = 5
	summarySnippetLen = 80
	compressedMaxLen  = 500
)

func (o CompressOptions) withDefaults() CompressOptions {
	if o.SalienceCeiling <= 0 {
		o.SalienceCeiling = defaultSalienceCeiling
	}
	if o.SalienceCeiling > 1 {
		o.SalienceCeiling = 1
	}
	if o.MinAgeDays <= 0 {
		o.MinAgeDays = defaultMinAgeDays
	}
	if o.MaxBatch <= 0 {
		o.MaxBatch = defaultMaxBatch
	}
	return o
}

// CompressReport is the machine-readable result of a compression run.
type CompressReport struct {
	OK         bool     `json:"ok"`
	DryRun     bool     `json:"dryRun"`
	Scanned    int      `json:"scanned"`
	Compressed int      `json:"compressed"`
	Groups     []string `json:"groups,omitempty"`
	StartedAt  string   `json:"startedAt"`
	FinishedAt string   `json:"finishedAt"`
}

// RunCompression merges low-salience, sufficiently old memories into
// compact reference strings: content is replaced with a synthesized
// summary marker, state flips to archive, and the row leaves the recall
// index. Compression is lossy by design; archival is the lossless path.
func RunCompression(db *store.DB, opts CompressOptions) (*CompressReport, error) {
	opts = opts.withDefaults()
	now := time.Now()
	report := &CompressReport{
		DryRun:    opts.DryRun,
		StartedAt: now.UTC().Format(time.RFC3339),
	}

	createdBefore := now.Add(-time.Duration(opts.MinAgeDays) * 24 * time.Hour).UnixMilli()
	memories, err := db.ListCompressible(opts.SalienceCeiling, createdBefore, opts.MaxBatch)
	if err != nil {
		return report, fmt.Errorf("compress: %w", err)
	}
	report.Scanned = len(memories)
	if len(memories) == 0 {
		report.OK = true
		report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
		return report, nil
	}

	groups := map[string][]store.Memory{"": memories}
	if opts.GroupByType {
		groups = map[string][]store.Memory{}
		for _, m := range memories {
			groups[m.MemoryType] = append(groups[m.MemoryType], m)
		}
	}

	var rewrites []store.CompressRewrite
	for kind, members := range groups {
		summary := synthesizeSummary(members)
		marker := fmt.Sprintf("[compressed] n=%d summary=%s", len(members), summary)
		if runes := []rune(marker); len(runes) > compressedMaxLen {
			marker = string(runes[:compressedMaxLen])
		}
		for _, m := range members {
			rewrites = append(rewrites, store.CompressRewrite{ID: m.ID, Content: marker})
		}
		if kind != "" {
			report.Groups = append(report.Groups, kind)
		}
	}

	if !opts.DryRun {
		if err := db.ApplyCompression(rewrites); err != nil {
			return report, fmt.Errorf("compress: %w", err)
		}
	}

	report.Compressed = len(rewrites)
	report.OK = true
	report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	return report, nil
}

// synthesizeSummary joins snippets of up to five representative members.
func synthesizeSummary(members []store.Memory) string {
	n := len(members)
	if n > summaryMemberCap {
		n = summaryMemberCap
	}
	parts := make([]string, 0, n)
	for _, m := range members[:n] {
		snippet := strings.TrimSpace(m.Content)
		if runes := []rune(snippet); len(runes) > summarySnippetLen {
			snippet = string(runes[:summarySnippetLen])
		}
		parts = append(parts, snippet)
	}
	return strings.Join(parts, " | ")
}
