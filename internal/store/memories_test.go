package store

import (
	"strings"
	"testing"
	"time"
)

func testMemory(id, content string) *Memory {
	return &Memory{
		ID:               id,
		MemoryType:       TypeEpisodic,
		Content:          content,
		Salience:         0.5,
		State:            StateWarm,
		ActivationCount:  1,
		OriginRole:       "user",
		SpeakerRelation:  "you",
		EvidenceLevel:    "verified",
		CredibilityScore: 1.0,
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	m := testMemory("", "walked the dog in the rain")
	m.EmotionScore = 0.4
	m.RelationalScore = 0.1
	m.SourceEventHash = "abc123"
	if err := db.InsertMemory(m); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}
	if m.ID == "" {
		t.Fatal("InsertMemory did not assign an ID")
	}

	got, err := db.GetMemory(m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got == nil {
		t.Fatal("GetMemory returned nil for inserted row")
	}
	if got.Content != m.Content {
		t.Errorf("Content = %q, want %q", got.Content, m.Content)
	}
	if got.EmotionScore != 0.4 {
		t.Errorf("EmotionScore = %v, want 0.4", got.EmotionScore)
	}
	if got.SourceEventHash != "abc123" {
		t.Errorf("SourceEventHash = %q, want abc123", got.SourceEventHash)
	}
	if got.DeletedAt != nil {
		t.Errorf("DeletedAt = %v, want nil", got.DeletedAt)
	}
}

func TestGetMemoryMissing(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	got, err := db.GetMemory("nope")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got != nil {
		t.Errorf("GetMemory = %+v, want nil", got)
	}
}

func TestSearchVisibility(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	m := testMemory("", "birthday cake for Alice")
	if err := db.InsertMemory(m); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	found, err := db.SearchMemories("birthday", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("search hits = %d, want 1", len(found))
	}

	// Soft-deleted rows vanish from search without caller-side filters.
	if err := db.SoftDelete(m.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	found, err = db.SearchMemories("birthday", 10)
	if err != nil {
		t.Fatalf("SearchMemories after delete: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("search hits after soft delete = %d, want 0", len(found))
	}

	// The row itself is still there for provenance.
	got, err := db.GetMemory(m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got == nil || got.DeletedAt == nil {
		t.Error("soft-deleted row should remain with DeletedAt set")
	}
}

func TestSearchExcludesExcludedRows(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	excluded := testMemory("", "secret birthday plan")
	excluded.ExcludedFromRecall = true
	if err := db.InsertMemory(excluded); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	found, err := db.SearchMemories("birthday", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("search hits for excluded row = %d, want 0", len(found))
	}
}

func TestSearchReindexesOnUpdate(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	m := testMemory("", "trip to the mountains")
	if err := db.InsertMemory(m); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	_, err = db.Exec("UPDATE memories SET content = 'trip to the seaside', updated_at = ? WHERE id = ?",
		time.Now().UnixMilli(), m.ID)
	if err != nil {
		t.Fatalf("update content: %v", err)
	}

	found, err := db.SearchMemories("seaside", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(found) != 1 {
		t.Errorf("search hits for new content = %d, want 1", len(found))
	}
	found, err = db.SearchMemories("mountains", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("search hits for old content = %d, want 0", len(found))
	}
}

func TestUpdateLifecycle(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	m := testMemory("", "standup notes")
	if err := db.InsertMemory(m); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	ts := time.Now().UnixMilli()
	if err := db.UpdateLifecycle(m.ID, 0.9, StateHot, 3, ts); err != nil {
		t.Fatalf("UpdateLifecycle: %v", err)
	}

	got, err := db.GetMemory(m.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Salience != 0.9 || got.State != StateHot || got.ActivationCount != 3 || got.LastActivatedAt != ts {
		t.Errorf("lifecycle fields = (%v, %s, %d, %d), want (0.9, hot, 3, %d)",
			got.Salience, got.State, got.ActivationCount, got.LastActivatedAt, ts)
	}
}

func TestMarkScar(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	m := testMemory("", "the day the project shipped")
	if err := db.InsertMemory(m); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}
	if err := db.MarkScar(m.ID); err != nil {
		t.Fatalf("MarkScar: %v", err)
	}

	got, _ := db.GetMemory(m.ID)
	if got.State != StateScar {
		t.Errorf("state = %s, want scar", got.State)
	}

	// Archived rows are not eligible.
	a := testMemory("", "already archived")
	a.State = StateArchive
	if err := db.InsertMemory(a); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}
	if err := db.MarkScar(a.ID); err == nil {
		t.Error("expected error scarring an archive-state row, got nil")
	}
}

func TestApplyDecaySkipsScars(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	scar := testMemory("", "permanent mark")
	scar.State = StateScar
	scar.Salience = 0.8
	if err := db.InsertMemory(scar); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	err = db.ApplyDecay([]SalienceUpdate{{ID: scar.ID, Salience: 0.1, State: StateCold}})
	if err != nil {
		t.Fatalf("ApplyDecay: %v", err)
	}

	got, _ := db.GetMemory(scar.ID)
	if got.Salience != 0.8 || got.State != StateScar {
		t.Errorf("scar after decay = (%v, %s), want (0.8, scar)", got.Salience, got.State)
	}
}

func TestListCompressibleOrder(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	old := time.Now().Add(-60 * 24 * time.Hour).UnixMilli()
	for i, sal := range []float64{0.20, 0.05, 0.10} {
		m := testMemory("", "old note "+strings.Repeat("x", i+1))
		m.Salience = sal
		m.CreatedAt = old
		if err := db.InsertMemory(m); err != nil {
			t.Fatalf("InsertMemory: %v", err)
		}
	}

	got, err := db.ListCompressible(0.25, time.Now().UnixMilli(), 10)
	if err != nil {
		t.Fatalf("ListCompressible: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Salience != 0.05 || got[1].Salience != 0.10 || got[2].Salience != 0.20 {
		t.Errorf("order = %v, %v, %v, want ascending salience",
			got[0].Salience, got[1].Salience, got[2].Salience)
	}
}

func TestApplyCompression(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	m := testMemory("", "long rambling account of a tuesday")
	if err := db.InsertMemory(m); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	err = db.ApplyCompression([]CompressRewrite{{ID: m.ID, Content: "[compressed] a tuesday"}})
	if err != nil {
		t.Fatalf("ApplyCompression: %v", err)
	}

	got, _ := db.GetMemory(m.ID)
	if got.Content != "[compressed] a tuesday" {
		t.Errorf("content = %q, want compressed marker", got.Content)
	}
	if got.State != StateArchive || !got.ExcludedFromRecall {
		t.Errorf("state/excluded = (%s, %v), want (archive, true)", got.State, got.ExcludedFromRecall)
	}
	if got.ReconsolidationCount != 1 {
		t.Errorf("reconsolidation_count = %d, want 1", got.ReconsolidationCount)
	}

	// Compressed rows leave the recall index.
	found, err := db.SearchMemories("tuesday", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("search hits after compression = %d, want 0", len(found))
	}
}

func TestCountByState(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	for _, state := range []string{StateHot, StateWarm, StateWarm, StateCold} {
		m := testMemory("", "row in "+state)
		m.State = state
		if err := db.InsertMemory(m); err != nil {
			t.Fatalf("InsertMemory: %v", err)
		}
	}

	counts, err := db.CountByState()
	if err != nil {
		t.Fatalf("CountByState: %v", err)
	}
	if counts[StateHot] != 1 || counts[StateWarm] != 2 || counts[StateCold] != 1 {
		t.Errorf("counts = %v, want hot:1 warm:2 cold:1", counts)
	}

	active, err := db.CountActive()
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if active != 4 {
		t.Errorf("CountActive = %d, want 4", active)
	}
}
