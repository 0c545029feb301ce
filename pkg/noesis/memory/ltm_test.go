package memory

import (
	"fmt"
	"testing"

	"github.com/cognicore/noesis/pkg/noesis/store"
)

func entry(id, text string) store.Statement {
	return store.Statement{ID: id, Text: text, Weight: 1, Confidence: 1}
}

func TestWriteRespectsThreshold(t *testing.T) {
	m := New(DefaultConfig(), nil)

	ok, err := m.Write(entry("a", "well grounded evidence"), 0.9, 1000)
	if err != nil || !ok {
		t.Fatalf("high-groundedness write failed: %v %v", ok, err)
	}
	ok, err = m.Write(entry("b", "weak evidence"), 0.1, 1000)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if ok {
		t.Error("low-groundedness write should be refused")
	}
	if m.Size() != 1 {
		t.Errorf("size = %d", m.Size())
	}
}

func TestWriteDedupByTextHash(t *testing.T) {
	m := New(DefaultConfig(), nil)

	if ok, _ := m.Write(entry("a", "The Same Sentence"), 0.9, 1000); !ok {
		t.Fatal("first write refused")
	}
	// Same text modulo case/spacing under a different id.
	if ok, _ := m.Write(entry("b", "the  same   sentence"), 0.9, 2000); ok {
		t.Error("duplicate text should be refused")
	}
	if m.Size() != 1 {
		t.Errorf("size = %d", m.Size())
	}

	// The duplicate refresh touched recency.
	snap := m.Snapshot()
	if snap[0].UpdatedAt != 2000 {
		t.Errorf("duplicate should refresh updatedAt, got %d", snap[0].UpdatedAt)
	}
}

func TestEvictionOldestFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Capacity = 3
	m := New(cfg, nil)

	for i := 0; i < 3; i++ {
		if ok, _ := m.Write(entry(fmt.Sprintf("e%d", i), fmt.Sprintf("distinct evidence number %d", i)), 0.9, int64(1000+i)); !ok {
			t.Fatalf("write %d refused", i)
		}
	}
	if ok, _ := m.Write(entry("new", "fresh evidence arriving late"), 0.9, 5000); !ok {
		t.Fatal("write at capacity refused")
	}

	if m.Size() != 3 {
		t.Fatalf("size = %d, want 3", m.Size())
	}
	for _, st := range m.Snapshot() {
		if st.ID == "e0" {
			t.Error("oldest entry e0 should have been evicted")
		}
	}
}

func TestRecallRanksByRelevance(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.Write(entry("a", "retrieval engines rank statements by lexical overlap"), 0.9, 1000)
	m.Write(entry("b", "gardening requires patience and good soil"), 0.9, 1000)
	m.Write(entry("c", "ranking and retrieval share corpus statistics"), 0.9, 1000)

	got := m.Recall("how does retrieval ranking work", nil, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	for _, st := range got {
		if st.ID == "b" {
			t.Error("irrelevant entry recalled")
		}
	}
}

func TestRecallEmptyAndDisabled(t *testing.T) {
	m := New(DefaultConfig(), nil)
	if got := m.Recall("anything", nil, 3); len(got) != 0 {
		t.Errorf("empty memory recalled %d", len(got))
	}

	m.Write(entry("a", "some evidence text here"), 0.9, 1000)
	if got := m.Recall("   ", nil, 3); len(got) != 0 {
		t.Errorf("blank prompt recalled %d", len(got))
	}

	disabled := New(Config{Capacity: 0, RecallK: 3, MinGroundedness: 0}, nil)
	if ok, _ := disabled.Write(entry("a", "x y z"), 1.0, 1000); ok {
		t.Error("zero capacity must refuse writes")
	}
}

func TestSnapshotSortedAndCopied(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.Write(entry("z", "last evidence item"), 0.9, 1000)
	m.Write(entry("a", "first evidence item"), 0.9, 1000)

	snap := m.Snapshot()
	if snap[0].ID != "a" || snap[1].ID != "z" {
		t.Errorf("snapshot not sorted: %v", []string{snap[0].ID, snap[1].ID})
	}

	snap[0].Meta["x"] = "y"
	again := m.Snapshot()
	if len(again[0].Meta) != 0 {
		t.Error("snapshot mutation leaked into memory")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	m := New(DefaultConfig(), nil)
	m.Write(entry("a", "alpha evidence for loading"), 0.9, 1000)
	m.Write(entry("b", "beta evidence for loading"), 0.9, 1000)

	snap := m.Snapshot()

	restored := New(DefaultConfig(), nil)
	if err := restored.Load(snap, 2000); err != nil {
		t.Fatalf("load: %v", err)
	}
	if restored.Size() != 2 {
		t.Errorf("restored size = %d", restored.Size())
	}
	// Duplicate detection must survive the reload.
	if ok, _ := restored.Write(entry("c", "alpha evidence for loading"), 0.9, 3000); ok {
		t.Error("duplicate text accepted after load")
	}
}
