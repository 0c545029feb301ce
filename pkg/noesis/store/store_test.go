package store

import (
	"fmt"
	"reflect"
	"testing"
)

func newTestStore() *Store {
	s := New(DefaultConfig(), nil)
	s.SetClock(func() int64 { return 1_700_000_000_000 })
	return s
}

func TestUpsertValidation(t *testing.T) {
	s := newTestStore()

	if _, err := s.Upsert(Statement{ID: "", Text: "x"}); err == nil {
		t.Error("empty id should fail validation")
	}
	if _, err := s.Upsert(Statement{ID: "a", Text: "   "}); err == nil {
		t.Error("blank text should fail validation")
	}

	changed, err := s.Upsert(Statement{ID: "a", Text: "the quick brown fox", Weight: 1, Confidence: 1})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !changed {
		t.Error("first insert should report a change")
	}
}

func TestValidateNormalization(t *testing.T) {
	st := Statement{
		ID:         "a",
		Text:       "x",
		Type:       "  Fact ",
		Weight:     -3,
		Confidence: 1.5,
		Priority:   -0.2,
		Tags:       []string{"B", "a", "b", " ", "a"},
	}
	if err := st.Validate(1000); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if st.Type != "fact" {
		t.Errorf("type not normalized: %q", st.Type)
	}
	if st.Weight != 0 {
		t.Errorf("negative weight not clamped: %f", st.Weight)
	}
	if st.Confidence != 1 || st.Priority != 0 {
		t.Errorf("ranges not clamped: conf=%f prio=%f", st.Confidence, st.Priority)
	}
	if !reflect.DeepEqual(st.Tags, []string{"a", "b"}) {
		t.Errorf("tags not normalized: %v", st.Tags)
	}
	if st.CreatedAt != 1000 || st.UpdatedAt < st.CreatedAt {
		t.Errorf("timestamps wrong: created=%d updated=%d", st.CreatedAt, st.UpdatedAt)
	}
	if st.Meta == nil {
		t.Error("meta map not initialized")
	}
}

func TestUpsertChangeDetection(t *testing.T) {
	s := newTestStore()

	st := Statement{ID: "a", Text: "alpha beta", Weight: 1, Confidence: 1}
	if changed, _ := s.Upsert(st); !changed {
		t.Fatal("insert should change")
	}
	if changed, _ := s.Upsert(st); changed {
		t.Error("identical re-upsert should not change")
	}

	st.Text = "alpha beta gamma"
	if changed, _ := s.Upsert(st); !changed {
		t.Error("text edit should change")
	}

	st.Weight = 2
	if changed, _ := s.Upsert(st); !changed {
		t.Error("weight edit should change")
	}
}

func TestSearchFindsIndexedTokens(t *testing.T) {
	s := newTestStore()
	s.Upsert(Statement{ID: "a", Text: "the quick brown fox", Weight: 1, Confidence: 1})

	for _, tok := range []string{"quick", "brown", "fox"} {
		res := s.Search(Query{Tokens: []string{tok}})
		if len(res) != 1 || res[0].Statement.ID != "a" {
			t.Errorf("token %q did not retrieve statement: %v", tok, res)
		}
		if res[0].Score <= 0 {
			t.Errorf("score for %q should be positive, got %f", tok, res[0].Score)
		}
	}
}

func TestSearchOrderingDeterministic(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 10; i++ {
		s.Upsert(Statement{ID: fmt.Sprintf("s%02d", i), Text: "shared token set", Weight: 1, Confidence: 1})
	}

	a := s.Search(Query{Tokens: []string{"shared"}})
	b := s.Search(Query{Tokens: []string{"shared"}})
	if len(a) != 10 {
		t.Fatalf("expected 10 results, got %d", len(a))
	}
	for i := range a {
		if a[i].Statement.ID != b[i].Statement.ID {
			t.Fatalf("unstable ordering at %d: %s vs %s", i, a[i].Statement.ID, b[i].Statement.ID)
		}
	}
	// Equal scores tie-break by ascending id.
	for i := 1; i < len(a); i++ {
		if a[i-1].Score == a[i].Score && a[i-1].Statement.ID > a[i].Statement.ID {
			t.Errorf("tie not broken by id: %s before %s", a[i-1].Statement.ID, a[i].Statement.ID)
		}
	}
}

func TestSearchSkipsExpired(t *testing.T) {
	s := newTestStore()
	s.Upsert(Statement{ID: "live", Text: "alpha topic", Weight: 1, Confidence: 1})
	s.Upsert(Statement{ID: "dead", Text: "alpha topic", Weight: 1, Confidence: 1, ExpiresAt: 1})

	res := s.Search(Query{Tokens: []string{"alpha"}})
	if len(res) != 1 || res[0].Statement.ID != "live" {
		t.Errorf("expired statement should be skipped: %v", res)
	}
}

func TestIDFNonNegative(t *testing.T) {
	s := newTestStore()
	s.Upsert(Statement{ID: "a", Text: "common rare", Weight: 1, Confidence: 1})
	s.Upsert(Statement{ID: "b", Text: "common", Weight: 1, Confidence: 1})

	for _, tok := range []string{"common", "rare", "unseen"} {
		if idf := s.IDF(tok); idf < 0 {
			t.Errorf("idf(%q) = %f, want >= 0", tok, idf)
		}
	}
	if s.IDF("rare") <= s.IDF("common") {
		t.Error("rarer token should have higher idf")
	}
}

func TestReindexOnUpsert(t *testing.T) {
	s := newTestStore()
	s.Upsert(Statement{ID: "a", Text: "old topic words", Weight: 1, Confidence: 1})
	s.Upsert(Statement{ID: "a", Text: "entirely different content", Weight: 1, Confidence: 1})

	if res := s.Search(Query{Tokens: []string{"topic"}}); len(res) != 0 {
		t.Errorf("old tokens still indexed: %v", res)
	}
	if res := s.Search(Query{Tokens: []string{"different"}}); len(res) != 1 {
		t.Errorf("new tokens not indexed: %v", res)
	}
}

func TestSnapshotSortedByID(t *testing.T) {
	s := newTestStore()
	for _, id := range []string{"c", "a", "b"} {
		s.Upsert(Statement{ID: id, Text: "text " + id, Weight: 1, Confidence: 1})
	}

	snap := s.SnapshotSorted()
	if len(snap) != 3 {
		t.Fatalf("expected 3, got %d", len(snap))
	}
	for i, want := range []string{"a", "b", "c"} {
		if snap[i].ID != want {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].ID, want)
		}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := newTestStore()
	s.Upsert(Statement{ID: "a", Text: "x", Tags: []string{"t"}, Weight: 1, Confidence: 1})

	snap := s.SnapshotSorted()
	snap[0].Tags[0] = "mutated"
	snap[0].Meta["k"] = "v"

	got, _ := s.Get("a")
	if got.Tags[0] != "t" {
		t.Error("snapshot mutation leaked into store tags")
	}
	if len(got.Meta) != 0 {
		t.Error("snapshot mutation leaked into store meta")
	}
}

func TestBuildQueryFromPrompt(t *testing.T) {
	s := newTestStore()

	q := s.BuildQueryFromPrompt("Hello hello WORLD world")
	if !reflect.DeepEqual(q.Tokens, []string{"hello", "world"}) {
		t.Errorf("tokens = %v", q.Tokens)
	}
	if len(q.Tags) != 0 {
		t.Errorf("prompts carry no tags, got %v", q.Tags)
	}
}

func TestMMRDiversity(t *testing.T) {
	s := newTestStore()
	s.Upsert(Statement{ID: "a", Text: "alpha beta gamma", Weight: 1, Confidence: 1})
	s.Upsert(Statement{ID: "b", Text: "alpha beta gamma", Weight: 1, Confidence: 1})
	s.Upsert(Statement{ID: "c", Text: "alpha delta epsilon zeta", Weight: 1, Confidence: 1})

	ranked := s.Search(Query{Tokens: []string{"alpha"}})
	sel := MMRSelect(ranked, 2, 0.5, s.Tokenizer())
	if len(sel) != 2 {
		t.Fatalf("expected 2 selections, got %d", len(sel))
	}

	ids := map[string]bool{}
	for _, ss := range sel {
		ids[ss.Statement.ID] = true
	}
	if !ids["c"] {
		t.Errorf("MMR should prefer the diverse statement c, got %v", ids)
	}
	if ids["a"] && ids["b"] {
		t.Errorf("MMR picked both near-duplicates: %v", ids)
	}
}

func TestMMRFullSelectionIsPermutation(t *testing.T) {
	s := newTestStore()
	for i := 0; i < 6; i++ {
		s.Upsert(Statement{ID: fmt.Sprintf("s%d", i), Text: fmt.Sprintf("alpha word%d extra%d", i, i), Weight: 1, Confidence: 1})
	}

	ranked := s.Search(Query{Tokens: []string{"alpha"}})
	sel := MMRSelect(ranked, len(ranked), 0.5, s.Tokenizer())
	if len(sel) != len(ranked) {
		t.Fatalf("expected %d, got %d", len(ranked), len(sel))
	}

	want := map[string]bool{}
	for _, ss := range ranked {
		want[ss.Statement.ID] = true
	}
	for _, ss := range sel {
		if !want[ss.Statement.ID] {
			t.Errorf("unexpected id %s", ss.Statement.ID)
		}
		delete(want, ss.Statement.ID)
	}
	if len(want) != 0 {
		t.Errorf("missing ids: %v", want)
	}
}

func TestRetrieveIterativeExpandsQuery(t *testing.T) {
	s := newTestStore()
	s.Upsert(Statement{ID: "a", Text: "alpha bridges toward omega", Tags: []string{"link"}, Weight: 1, Confidence: 1})
	s.Upsert(Statement{ID: "b", Text: "omega is the final topic", Weight: 1, Confidence: 1})

	report := s.RetrieveIterative("alpha", 2, 4)
	if len(report.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(report.Steps))
	}

	// Step 2's query must have grown from step 1's evidence.
	if len(report.Steps[1].Query.Tokens) <= len(report.Steps[0].Query.Tokens) {
		t.Errorf("query did not expand: %v -> %v",
			report.Steps[0].Query.Tokens, report.Steps[1].Query.Tokens)
	}
	foundTag := false
	for _, tag := range report.Steps[1].Query.Tags {
		if tag == "link" {
			foundTag = true
		}
	}
	if !foundTag {
		t.Errorf("evidence tags not propagated: %v", report.Steps[1].Query.Tags)
	}
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	s := newTestStore()
	s.Upsert(Statement{ID: "a", Text: "alpha beta", Weight: 1, Confidence: 1})

	if !s.Delete("a") {
		t.Fatal("delete should succeed")
	}
	if s.Size() != 0 {
		t.Errorf("size = %d after delete", s.Size())
	}
	if res := s.Search(Query{Tokens: []string{"alpha"}}); len(res) != 0 {
		t.Errorf("deleted statement still searchable: %v", res)
	}
	if s.Delete("a") {
		t.Error("second delete should report false")
	}
}
