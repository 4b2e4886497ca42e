package lifecycle

import (
	"math"
	"sort"
	"time"

	"github.com/lazypower/persona/internal/store"
)

// Decay classes bucket memories by how quickly the recency signal fades.
// The value is the half-life in days.
const (
	HalfLifeFast     = 10.0
	HalfLifeStandard = 30.0
	HalfLifeSlow     = 60.0
	HalfLifeSticky   = 120.0
)

// State classification thresholds.
const (
	hotThreshold  = 0.78
	warmThreshold = 0.45
	coldThreshold = 0.18
)

// activation-signal shape: a log-compressed count term blended with the
// recency term. Counts saturate around logCountScale activations.
const (
	logCountScale = 50.0
	countBlend    = 0.4
	recencyBlend  = 0.6
)

// HalfLifeFor maps a memory type to its decay-class half-life in days.
// Scars are handled upstream; they never reach the decay math.
func HalfLifeFor(memoryType string) float64 {
	switch memoryType {
	case store.TypeEpisodic:
		return HalfLifeFast
	case store.TypeSemantic:
		return HalfLifeSlow
	case store.TypeProcedural:
		return HalfLifeSlow
	case store.TypeRelational:
		return HalfLifeSticky
	default:
		return HalfLifeStandard
	}
}

// ScoreMemory computes the bounded salience for a memory at the given
// instant. All four signals are clamped to [0,1] before the weighted sum,
// and the result is clamped again, so 0 <= salience <= 1 always holds.
func ScoreMemory(m *store.Memory, now time.Time, w Weights) float64 {
	w = w.Normalize()

	days := float64(now.UnixMilli()-m.LastActivatedAt) / float64(24*time.Hour/time.Millisecond)
	if days < 0 {
		days = 0
	}
	halfLife := HalfLifeFor(m.MemoryType)
	recency := math.Exp(-math.Ln2 * days / halfLife)

	countTerm := math.Log1p(float64(m.ActivationCount)) / math.Log1p(logCountScale)
	activation := clamp01(countBlend*clamp01(countTerm) + recencyBlend*clamp01(recency))

	score := w.Activation*activation +
		w.Emotion*clamp01(m.EmotionScore) +
		w.Narrative*clamp01(m.NarrativeScore) +
		w.Relational*clamp01(m.RelationalScore)

	return clamp01(score)
}

// ClassifyState maps a salience score to a discrete state. It is a pure,
// total function of the score for non-scar memories; a scar is permanent
// and is never reclassified here.
func ClassifyState(score float64, currentState string) string {
	if currentState == store.StateScar {
		return store.StateScar
	}
	switch {
	case score >= hotThreshold:
		return store.StateHot
	case score >= warmThreshold:
		return store.StateWarm
	case score >= coldThreshold:
		return store.StateCold
	default:
		return store.StateArchive
	}
}

// UpdateActivation increments the activation count, stamps the activation
// time, and recomputes salience and state, committing all four fields in
// one store update. Splitting these would let count and salience drift.
func UpdateActivation(db *store.DB, m *store.Memory, ts time.Time, w Weights) error {
	m.ActivationCount++
	m.LastActivatedAt = ts.UnixMilli()
	m.Salience = ScoreMemory(m, ts, w)
	m.State = ClassifyState(m.Salience, m.State)
	return db.UpdateLifecycle(m.ID, m.Salience, m.State, m.ActivationCount, m.LastActivatedAt)
}

// Ranked is a scored item competing for a bounded budget.
type Ranked struct {
	ID    string
	Score float64
	TS    int64
}

// PickTop selects up to n items: higher score wins, equal scores break by
// the more recent timestamp.
func PickTop(items []Ranked, n int) []Ranked {
	sorted := make([]Ranked, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].TS > sorted[j].TS
	})
	if n < 0 {
		n = 0
	}
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
