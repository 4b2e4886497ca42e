package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lazypower/persona/internal/lifecycle"
	"github.com/lazypower/persona/internal/store"
)

// Classifier turns raw life events into at most one memory candidate
// each. It assigns type, speaker attribution, initial salience and
// activation, credibility, and evidence level.
type Classifier struct {
	Registry *EntityRegistry
	Weights  lifecycle.Weights

	// Emphasis is the opaque user-emphasis heuristic. Defaults to
	// DetectEmphasis.
	Emphasis func(string) bool

	// LinkThreshold is the minimum registry confidence for entity
	// linking during speaker attribution.
	LinkThreshold float64
}

// NewClassifier returns a classifier with the default heuristics.
func NewClassifier(registry *EntityRegistry, weights lifecycle.Weights) *Classifier {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Classifier{
		Registry:      registry,
		Weights:       weights.Normalize(),
		Emphasis:      DetectEmphasis,
		LinkThreshold: 0.75,
	}
}

const maxContentLen = 2000

// Explicit event-type allowlists take priority over content heuristics.
var relationalEventTypes = map[string]bool{
	"relationship_update": true,
	"introduction":        true,
	"contact_shared":      true,
}

var proceduralEventTypes = map[string]bool{
	"task_completed": true,
	"routine_logged": true,
	"tool_usage":     true,
}

var (
	relationalPattern = regexp.MustCompile(`(?i)\b(my name is|call me|my (wife|husband|partner|mother|father|mom|dad|sister|brother|friend|boss|colleague))\b|我叫|我的(妻子|丈夫|朋友|妈妈|爸爸)`)
	proceduralPattern = regexp.MustCompile(`(?i)\b(how to|step \d|first .+ then|in order to|the way to)\b`)
	semanticPattern   = regexp.MustCompile(`(?i)\b(always|never|usually|prefers?|means|is defined as|is called)\b`)

	groupSpeechPattern = regexp.MustCompile(`(?i)\b(we|us|our team|everyone|all of us)\b|我们|大家`)
	thirdPartyPattern  = regexp.MustCompile(`(?i)\b(someone|somebody|a friend of|they said|people say|a guy|a woman)\b|有人|别人`)

	emotionPattern = regexp.MustCompile(`(?i)\b(love|hate|afraid|scared|excited|thrilled|angry|furious|sad|heartbroken|happy|proud|anxious)\b|[!！]{2,}|太(好|糟|难过)`)
)

// Classify produces zero or one candidate for the event. Events with no
// extractable text yield none. The candidate is not yet persisted.
func (c *Classifier) Classify(ev Event) *store.Memory {
	text := strings.TrimSpace(ev.Payload.Text)
	if text == "" {
		return nil
	}
	if runes := []rune(text); len(runes) > maxContentLen {
		text = string(runes[:maxContentLen])
	}

	role := originRole(ev)
	memType := c.classifyType(ev, text)
	relation := c.attributeSpeaker(role, text)

	m := &store.Memory{
		ID:              store.NewMemoryID(),
		MemoryType:      memType,
		Content:         text,
		OriginRole:      role,
		SpeakerRelation: relation,
		SourceEventHash: ev.Hash,
		ActivationCount: 1,
		LastActivatedAt: ev.TS,
	}

	// Signal defaults, hintable via payload.memoryMeta.
	m.Salience = 0.5
	m.EmotionScore = 0.2
	if emotionPattern.MatchString(text) {
		m.EmotionScore = 0.6
	}
	m.NarrativeScore = 0.3
	m.RelationalScore = 0.2
	if memType == store.TypeRelational || relation == "other_named" {
		m.RelationalScore = 0.8
	}

	if meta := ev.Payload.MemoryMeta; meta != nil {
		if meta.Salience != nil {
			m.Salience = clamp01(*meta.Salience)
		}
		if meta.ActivationCount != nil && *meta.ActivationCount > m.ActivationCount {
			m.ActivationCount = *meta.ActivationCount
		}
		if meta.LastActivatedAt != nil && *meta.LastActivatedAt > 0 {
			m.LastActivatedAt = *meta.LastActivatedAt
		}
	}

	// Credibility by origin, then evidence level.
	switch role {
	case "assistant":
		m.CredibilityScore = 0.6
	case "system":
		m.CredibilityScore = 0.8
	default:
		m.CredibilityScore = 1.0
	}

	m.State = lifecycle.ClassifyState(m.Salience, "")

	// User emphasis is a hard floor, not an additive bonus: it overrides
	// any lower default, including meta hints.
	emphasis := c.Emphasis
	if emphasis == nil {
		emphasis = DetectEmphasis
	}
	if role == "user" && emphasis(text) {
		if m.Salience < 0.9 {
			m.Salience = 0.9
		}
		if m.ActivationCount < 3 {
			m.ActivationCount = 3
		}
		if m.NarrativeScore < 0.75 {
			m.NarrativeScore = 0.75
		}
		m.State = store.StateHot
	}

	m.EvidenceLevel = evidenceLevel(role, m.CredibilityScore, m.ExcludedFromRecall)
	return m
}

// Ingest records the event in the provenance log and, when it produces a
// candidate, inserts the memory. A previously seen hash returns (nil,
// nil) so at-least-once delivery stays idempotent.
func (c *Classifier) Ingest(db *store.DB, ev Event) (*store.Memory, error) {
	if ev.Hash == "" {
		return nil, fmt.Errorf("ingest: event hash required")
	}
	inserted, err := db.RecordEvent(ev.Hash, ev.Type, ev.TS, ev.Payload.Text)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}

	m := c.Classify(ev)
	if m == nil {
		return nil, nil
	}
	if err := db.InsertMemory(m); err != nil {
		return nil, err
	}
	return m, nil
}

// classifyType: allowlists first, then content heuristics, default
// episodic.
func (c *Classifier) classifyType(ev Event, text string) string {
	switch {
	case relationalEventTypes[ev.Type]:
		return store.TypeRelational
	case proceduralEventTypes[ev.Type]:
		return store.TypeProcedural
	case relationalPattern.MatchString(text):
		return store.TypeRelational
	case proceduralPattern.MatchString(text):
		return store.TypeProcedural
	case semanticPattern.MatchString(text):
		return store.TypeSemantic
	default:
		return store.TypeEpisodic
	}
}

// attributeSpeaker resolves who the memory is about. Assistant and system
// events map directly; user text walks group speech, entity linking, and
// ambiguous-third-party checks before defaulting to "you".
func (c *Classifier) attributeSpeaker(role, text string) string {
	switch role {
	case "assistant":
		return "me"
	case "system":
		return "system"
	}
	if groupSpeechPattern.MatchString(text) {
		return "group"
	}
	if _, ok := c.Registry.Resolve(text, c.LinkThreshold); ok {
		return "other_named"
	}
	if thirdPartyPattern.MatchString(text) {
		return "unknown"
	}
	return "you"
}

func originRole(ev Event) string {
	switch ev.Payload.Role {
	case "user", "assistant", "system":
		return ev.Payload.Role
	}
	switch {
	case strings.HasPrefix(ev.Type, "assistant_"):
		return "assistant"
	case strings.HasPrefix(ev.Type, "system_"):
		return "system"
	default:
		return "user"
	}
}

func evidenceLevel(role string, credibility float64, excluded bool) string {
	if excluded || credibility < 0.5 {
		return "uncertain"
	}
	if role == "user" {
		return "verified"
	}
	return "derived"
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
