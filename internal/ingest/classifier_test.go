package ingest

import (
	"testing"
	"time"

	"github.com/lazypower/persona/internal/lifecycle"
	"github.com/lazypower/persona/internal/store"
)

func newTestClassifier() *Classifier {
	return NewClassifier(NewRegistry(), lifecycle.DefaultWeights())
}

func userEvent(text, hash string) Event {
	return Event{
		TS:      time.Now().UnixMilli(),
		Type:    "conversation",
		Payload: Payload{Text: text, Role: "user"},
		Hash:    hash,
	}
}

func TestClassifyEmptyTextYieldsNothing(t *testing.T) {
	c := newTestClassifier()
	if m := c.Classify(userEvent("   ", "h1")); m != nil {
		t.Errorf("Classify(blank) = %+v, want nil", m)
	}
}

func TestClassifyEmphasizedIntroduction(t *testing.T) {
	c := newTestClassifier()
	m := c.Classify(userEvent("记住，我叫博飞", "h2"))
	if m == nil {
		t.Fatal("Classify returned nil")
	}
	if m.MemoryType != store.TypeRelational {
		t.Errorf("MemoryType = %s, want relational", m.MemoryType)
	}
	if m.Salience < 0.9 {
		t.Errorf("Salience = %v, want >= 0.9 (user emphasis floor)", m.Salience)
	}
	if m.ActivationCount < 3 {
		t.Errorf("ActivationCount = %d, want >= 3", m.ActivationCount)
	}
	if m.State != store.StateHot {
		t.Errorf("State = %s, want hot", m.State)
	}
	if m.RelationalScore != 0.8 {
		t.Errorf("RelationalScore = %v, want 0.8", m.RelationalScore)
	}
	if m.EvidenceLevel != "verified" {
		t.Errorf("EvidenceLevel = %s, want verified", m.EvidenceLevel)
	}
}

func TestClassifyEmphasisOverridesMetaHint(t *testing.T) {
	c := newTestClassifier()
	low := 0.2
	ev := userEvent("remember this: the wifi password is swordfish", "h3")
	ev.Payload.MemoryMeta = &MemoryMeta{Salience: &low}

	m := c.Classify(ev)
	if m == nil {
		t.Fatal("Classify returned nil")
	}
	if m.Salience < 0.9 {
		t.Errorf("Salience = %v, want >= 0.9 (emphasis beats meta hint)", m.Salience)
	}
}

func TestClassifyMetaHintsAsDefaults(t *testing.T) {
	c := newTestClassifier()
	sal := 0.7
	count := 5
	ev := userEvent("picked up groceries on the way home", "h4")
	ev.Payload.MemoryMeta = &MemoryMeta{Salience: &sal, ActivationCount: &count}

	m := c.Classify(ev)
	if m == nil {
		t.Fatal("Classify returned nil")
	}
	if m.Salience != 0.7 {
		t.Errorf("Salience = %v, want 0.7 from hint", m.Salience)
	}
	if m.ActivationCount != 5 {
		t.Errorf("ActivationCount = %d, want 5 from hint", m.ActivationCount)
	}
}

func TestClassifyTypeAllowlistBeatsHeuristics(t *testing.T) {
	c := newTestClassifier()
	ev := userEvent("we always do standup at nine", "h5")
	ev.Type = "task_completed"
	m := c.Classify(ev)
	if m == nil {
		t.Fatal("Classify returned nil")
	}
	if m.MemoryType != store.TypeProcedural {
		t.Errorf("MemoryType = %s, want procedural (allowlist wins)", m.MemoryType)
	}
}

func TestClassifyTypeHeuristics(t *testing.T) {
	c := newTestClassifier()
	cases := []struct {
		text string
		want string
	}{
		{"my name is Priya", store.TypeRelational},
		{"how to restart the router: hold the button", store.TypeProcedural},
		{"she usually prefers tea over coffee", store.TypeSemantic},
		{"went for a run this morning", store.TypeEpisodic},
	}
	for _, tc := range cases {
		m := c.Classify(userEvent(tc.text, "h-"+tc.text[:4]))
		if m == nil {
			t.Fatalf("Classify(%q) returned nil", tc.text)
		}
		if m.MemoryType != tc.want {
			t.Errorf("Classify(%q).MemoryType = %s, want %s", tc.text, m.MemoryType, tc.want)
		}
	}
}

func TestSpeakerAttribution(t *testing.T) {
	c := newTestClassifier()
	c.Registry.Add("alice", 0.9)
	c.Registry.Add("lowconf", 0.3)

	cases := []struct {
		role string
		text string
		want string
	}{
		{"assistant", "I noticed you like jazz", "me"},
		{"system", "backup completed", "system"},
		{"user", "we are planning a trip", "group"},
		{"user", "Alice lent me her bike", "other_named"},
		{"user", "someone left a package outside", "unknown"},
		{"user", "lowconf mentioned a thing", "you"}, // below link threshold, no link
		{"user", "slept badly last night", "you"},
	}
	for _, tc := range cases {
		ev := userEvent(tc.text, "h-"+tc.text[:4])
		ev.Payload.Role = tc.role
		m := c.Classify(ev)
		if m == nil {
			t.Fatalf("Classify(%q) returned nil", tc.text)
		}
		if m.SpeakerRelation != tc.want {
			t.Errorf("relation for %s %q = %s, want %s", tc.role, tc.text, m.SpeakerRelation, tc.want)
		}
	}
}

func TestCredibilityAndEvidenceByRole(t *testing.T) {
	c := newTestClassifier()
	cases := []struct {
		role        string
		credibility float64
		evidence    string
	}{
		{"user", 1.0, "verified"},
		{"assistant", 0.6, "derived"},
		{"system", 0.8, "derived"},
	}
	for _, tc := range cases {
		ev := userEvent("a plain fact about the day", "h-"+tc.role)
		ev.Payload.Role = tc.role
		m := c.Classify(ev)
		if m == nil {
			t.Fatalf("Classify for role %s returned nil", tc.role)
		}
		if m.CredibilityScore != tc.credibility {
			t.Errorf("credibility for %s = %v, want %v", tc.role, m.CredibilityScore, tc.credibility)
		}
		if m.EvidenceLevel != tc.evidence {
			t.Errorf("evidence for %s = %s, want %s", tc.role, m.EvidenceLevel, tc.evidence)
		}
	}
}

func TestClassifyTruncatesLongContent(t *testing.T) {
	c := newTestClassifier()
	long := make([]rune, maxContentLen+500)
	for i := range long {
		long[i] = 'a'
	}
	m := c.Classify(userEvent(string(long), "h6"))
	if m == nil {
		t.Fatal("Classify returned nil")
	}
	if got := len([]rune(m.Content)); got != maxContentLen {
		t.Errorf("content length = %d runes, want %d", got, maxContentLen)
	}
}

func TestIngestIdempotent(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	c := newTestClassifier()
	ev := userEvent("adopted a cat named Miso", "hash-cat")

	m, err := c.Ingest(db, ev)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if m == nil {
		t.Fatal("first Ingest returned nil memory")
	}

	// Redelivery of the same hash stores nothing new.
	again, err := c.Ingest(db, ev)
	if err != nil {
		t.Fatalf("Ingest redelivery: %v", err)
	}
	if again != nil {
		t.Errorf("redelivered Ingest = %+v, want nil", again)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count); err != nil {
		t.Fatalf("count memories: %v", err)
	}
	if count != 1 {
		t.Errorf("memories = %d, want 1", count)
	}
}

func TestIngestRequiresHash(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	c := newTestClassifier()
	ev := userEvent("no hash on this one", "")
	if _, err := c.Ingest(db, ev); err == nil {
		t.Error("expected error for missing hash, got nil")
	}
}

func TestIngestEmptyTextRecordsEventOnly(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	c := newTestClassifier()
	m, err := c.Ingest(db, userEvent("", "hash-empty"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if m != nil {
		t.Errorf("Ingest(empty text) = %+v, want nil", m)
	}

	n, err := db.CountEvents()
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("CountEvents = %d, want 1 (provenance still recorded)", n)
	}
}
