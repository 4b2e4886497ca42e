package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/lazypower/persona/internal/lifecycle"
	"github.com/lazypower/persona/internal/store"
)

// DecayOptions configures one run of the time-decay job. Zero values are
// replaced by the documented defaults; out-of-range values are clamped.
type DecayOptions struct {
	// Rate is the exponential decay rate per idle day.
	Rate float64 `json:"rate" yaml:"rate"`
	// MinIdleDays is how long a memory must sit untouched before decay
	// applies.
	MinIdleDays int `json:"minIdleDays" yaml:"min_idle_days"`
	// Floor is the salience a memory converges toward but never drops
	// below.
	Floor float64 `json:"floor" yaml:"floor"`
	// DryRun computes every update without writing any of them.
	DryRun bool `json:"dryRun" yaml:"-"`
}

const (
	defaultDecayRate   = 0.01
	defaultMinIdleDays = 14
	defaultDecayFloor  = 0.05

	// Updates smaller than this are skipped to avoid write amplification;
	// it is also what makes an immediate re-run a zero-write no-op.
	decayEpsilon = 0.0001
)

func (o DecayOptions) withDefaults() DecayOptions {
	if o.Rate <= 0 {
		o.Rate = defaultDecayRate
	}
	if o.MinIdleDays <= 0 {
		o.MinIdleDays = defaultMinIdleDays
	}
	if o.Floor <= 0 {
		o.Floor = defaultDecayFloor
	}
	if o.Floor > 1 {
		o.Floor = 1
	}
	return o
}

// DecayReport is the machine-readable result of a decay run.
type DecayReport struct {
	OK          bool    `json:"ok"`
	DryRun      bool    `json:"dryRun"`
	Rate        float64 `json:"rate"`
	MinIdleDays int     `json:"minIdleDays"`
	Floor       float64 `json:"floor"`
	Scanned     int     `json:"scanned"`
	Updated     int     `json:"updated"`
	Skipped     int     `json:"skipped"`
	StartedAt   string  `json:"startedAt"`
	FinishedAt  string  `json:"finishedAt"`
}

// RunDecay applies salience *= exp(-rate*idleDays) to every non-excluded,
// non-scar memory idle at least MinIdleDays, floors the result, and
// reclassifies state. All updates commit in one transaction. The job is
// idempotent: rerunning with no elapsed time performs zero writes.
func RunDecay(db *store.DB, opts DecayOptions) (*DecayReport, error) {
	opts = opts.withDefaults()
	now := time.Now()
	report := &DecayReport{
		DryRun:      opts.DryRun,
		Rate:        opts.Rate,
		MinIdleDays: opts.MinIdleDays,
		Floor:       opts.Floor,
		StartedAt:   now.UTC().Format(time.RFC3339),
	}

	cutoff := now.Add(-time.Duration(opts.MinIdleDays) * 24 * time.Hour).UnixMilli()
	memories, err := db.ListDecayable(cutoff)
	if err != nil {
		return report, fmt.Errorf("decay: %w", err)
	}
	report.Scanned = len(memories)

	var updates []store.SalienceUpdate
	for i := range memories {
		m := &memories[i]
		// Decay covers the span since the row last changed. A freshly
		// decayed row has updated_at = now, so an immediate re-run sees
		// no elapsed span and writes nothing.
		ref := m.LastActivatedAt
		if m.UpdatedAt > ref {
			ref = m.UpdatedAt
		}
		idleDays := float64(now.UnixMilli()-ref) / float64(24*time.Hour/time.Millisecond)
		if idleDays < 0 {
			idleDays = 0
		}

		newSalience := m.Salience * math.Exp(-opts.Rate*idleDays)
		if newSalience < opts.Floor {
			newSalience = opts.Floor
		}
		// Decay only lowers salience; a floor above the current value
		// must not raise it.
		if newSalience >= m.Salience || m.Salience-newSalience < decayEpsilon {
			report.Skipped++
			continue
		}

		updates = append(updates, store.SalienceUpdate{
			ID:       m.ID,
			Salience: newSalience,
			State:    lifecycle.ClassifyState(newSalience, m.State),
		})
	}

	if !opts.DryRun {
		if err := db.ApplyDecay(updates); err != nil {
			return report, fmt.Errorf("decay: %w", err)
		}
	}

	report.Updated = len(updates)
	report.OK = true
	report.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	return report, nil
}
