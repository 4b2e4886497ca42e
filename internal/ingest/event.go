package ingest

import "encoding/json"

// Event is the inbound contract from the external life-event log. The
// hash is the provenance key: re-delivering an event with a hash the
// store has already recorded is a no-op.
type Event struct {
	TS      int64   `json:"ts"` // unix milliseconds
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
	Hash    string  `json:"hash"`
}

// Payload carries the event text plus optional scoring hints. Hints are
// defaults, never overrides: emphasis detection still wins.
type Payload struct {
	Text       string      `json:"text"`
	Role       string      `json:"role"`
	MemoryMeta *MemoryMeta `json:"memoryMeta,omitempty"`
}

// MemoryMeta is the optional hint block supplied by the event producer.
type MemoryMeta struct {
	Tier            string   `json:"tier,omitempty"`
	Salience        *float64 `json:"salience,omitempty"`
	ActivationCount *int     `json:"activationCount,omitempty"`
	LastActivatedAt *int64   `json:"lastActivatedAt,omitempty"`
}

// ParseEvent decodes a JSON event.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}
