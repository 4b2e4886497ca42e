package economics

import (
	"fmt"
	"time"

	"github.com/lazypower/persona/internal/store"
)

// Memory tiers for cost accounting. Highlights are the most expensive to
// retrieve; patterns the cheapest.
const (
	TierHighlight = "highlight"
	TierInsight   = "insight"
	TierEpisode   = "episode"
	TierPattern   = "pattern"
)

// Cost is the deterministic per-memory estimate in abstract storage
// units.
type Cost struct {
	StorageCost   float64 `json:"storageCost"`
	RetrievalCost float64 `json:"retrievalCost"`
}

var tierCosts = map[string]Cost{
	TierHighlight: {StorageCost: 0.9, RetrievalCost: 1.0},
	TierInsight:   {StorageCost: 0.7, RetrievalCost: 0.7},
	TierEpisode:   {StorageCost: 0.5, RetrievalCost: 0.4},
	TierPattern:   {StorageCost: 0.3, RetrievalCost: 0.2},
}

const (
	lengthPenaltyFrom = 300
	lengthPenaltyStep = 3000.0
)

// EstimateMemoryCosts returns the tier's base costs plus a length penalty
// for content above 300 chars. Unknown tiers fall back to episode.
func EstimateMemoryCosts(tier string, contentLength int) Cost {
	c, ok := tierCosts[tier]
	if !ok {
		c = tierCosts[TierEpisode]
	}
	if contentLength > lengthPenaltyFrom {
		penalty := float64(contentLength-lengthPenaltyFrom) / lengthPenaltyStep
		c.StorageCost += penalty
		c.RetrievalCost += penalty / 2
	}
	return c
}

// BudgetReport projects long-term storage growth from observed rates.
type BudgetReport struct {
	OK                 bool           `json:"ok"`
	SizeBytes          int64          `json:"sizeBytes"`
	TotalRows          int            `json:"totalRows"`
	RowsByState        map[string]int `json:"rowsByState"`
	Segments           int            `json:"segments"`
	ObservedDays       int            `json:"observedDays"`
	RowsPerDay         float64        `json:"rowsPerDay"`
	BytesPerRow        float64        `json:"bytesPerRow"`
	ProjectedYearBytes int64          `json:"projectedYearBytes"`
	GeneratedAt        string         `json:"generatedAt"`
}

// InspectBudget reads current byte size and row counts and extrapolates
// one year of growth. Every ratio uses a minimum-1 denominator; a fresh
// or empty store can never divide by zero.
func InspectBudget(db *store.DB) (*BudgetReport, error) {
	report := &BudgetReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	byState, err := db.CountByState()
	if err != nil {
		return nil, fmt.Errorf("budget: %w", err)
	}
	report.RowsByState = byState
	for _, n := range byState {
		report.TotalRows += n
	}

	segments, err := db.ListSegments()
	if err != nil {
		return nil, fmt.Errorf("budget: %w", err)
	}
	report.Segments = len(segments)

	earliest, err := db.EarliestCreatedAt()
	if err != nil {
		return nil, fmt.Errorf("budget: %w", err)
	}

	report.SizeBytes = db.SizeBytes()

	days := 1
	if earliest > 0 {
		elapsed := time.Since(time.UnixMilli(earliest))
		days = int(elapsed / (24 * time.Hour))
		if days < 1 {
			days = 1
		}
	}
	report.ObservedDays = days

	rows := report.TotalRows
	if rows < 1 {
		rows = 1
	}
	report.RowsPerDay = float64(report.TotalRows) / float64(days)
	report.BytesPerRow = float64(report.SizeBytes) / float64(rows)
	report.ProjectedYearBytes = report.SizeBytes +
		int64(report.RowsPerDay*365*report.BytesPerRow)

	report.OK = true
	return report, nil
}
