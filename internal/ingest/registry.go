package ingest

import "strings"

// EntityRegistry holds known names with a linking confidence. Speaker
// attribution consults it before falling back to pattern heuristics; an
// unresolved or low-confidence mention never forces a relation.
type EntityRegistry struct {
	entries map[string]float64
}

// NewRegistry returns an empty registry.
func NewRegistry() *EntityRegistry {
	return &EntityRegistry{entries: make(map[string]float64)}
}

// Add registers a name with its linking confidence in [0,1].
func (r *EntityRegistry) Add(name string, confidence float64) {
	if name == "" {
		return
	}
	r.entries[strings.ToLower(name)] = confidence
}

// Resolve scans text for a known name at or above the confidence
// threshold. Returns the best match and whether one was found.
func (r *EntityRegistry) Resolve(text string, threshold float64) (string, bool) {
	lower := strings.ToLower(text)
	best := ""
	bestConf := 0.0
	for name, conf := range r.entries {
		if conf < threshold {
			continue
		}
		if strings.Contains(lower, name) && conf > bestConf {
			best = name
			bestConf = conf
		}
	}
	return best, best != ""
}
