package engine

import (
	"regexp"
	"sort"
	"strings"
)

// InterferenceOptions tunes near-duplicate suppression.
type InterferenceOptions struct {
	// SimilarityThreshold is the Jaccard overlap above which a candidate
	// conflicts with an already-accepted one.
	SimilarityThreshold float64 `json:"similarityThreshold"`
	// Penalty is the flat score reduction applied to the conflicting,
	// lower-ranked candidate. The candidate is suppressed, not deleted.
	Penalty float64 `json:"penalty"`
}

const (
	defaultSimilarityThreshold = 0.85
	defaultInterferencePenalty = 0.08
)

func (o InterferenceOptions) withDefaults() InterferenceOptions {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = defaultSimilarityThreshold
	}
	if o.Penalty <= 0 {
		o.Penalty = defaultInterferencePenalty
	}
	return o
}

// RecallCandidate is one scored entry in a ranked recall set.
type RecallCandidate struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	TS      int64   `json:"ts"`
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]{2,}`)

// tokenSet extracts lowercased Unicode word tokens of length >= 2.
func tokenSet(text string) map[string]bool {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// jaccard computes token-set similarity in [0,1].
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// ApplyInterference walks candidates in descending score order, penalizes
// each one whose content overlaps an already-accepted candidate above the
// threshold, and returns the set re-sorted by adjusted score. Ties break
// by the more recent timestamp.
func ApplyInterference(candidates []RecallCandidate, opts InterferenceOptions) []RecallCandidate {
	opts = opts.withDefaults()

	ranked := make([]RecallCandidate, len(candidates))
	copy(ranked, candidates)
	sortCandidates(ranked)

	tokens := make([]map[string]bool, len(ranked))
	for i := range ranked {
		tokens[i] = tokenSet(ranked[i].Content)
	}

	var acceptedTokens []map[string]bool
	for i := range ranked {
		conflict := false
		for _, acc := range acceptedTokens {
			if jaccard(tokens[i], acc) > opts.SimilarityThreshold {
				conflict = true
				break
			}
		}
		if conflict {
			ranked[i].Score -= opts.Penalty
			if ranked[i].Score < 0 {
				ranked[i].Score = 0
			}
		} else {
			acceptedTokens = append(acceptedTokens, tokens[i])
		}
	}

	sortCandidates(ranked)
	return ranked
}

func sortCandidates(cands []RecallCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].TS > cands[j].TS
	})
}
