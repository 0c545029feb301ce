package think_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cognicore/noesis/pkg/noesis/evaluate"
	"github.com/cognicore/noesis/pkg/noesis/generate"
	"github.com/cognicore/noesis/pkg/noesis/memory"
	"github.com/cognicore/noesis/pkg/noesis/retrieve"
	"github.com/cognicore/noesis/pkg/noesis/score"
	"github.com/cognicore/noesis/pkg/noesis/store"
	"github.com/cognicore/noesis/pkg/noesis/think"
)

// constGenerator always returns the same draft, for stagnation tests.
type constGenerator struct {
	text string
}

func (g constGenerator) Generate(string, []store.Statement, think.ThoughtState) string {
	return g.text
}

// emptyGenerator simulates a broken backend.
type emptyGenerator struct{}

func (emptyGenerator) Generate(string, []store.Statement, think.ThoughtState) string { return "" }

type harness struct {
	store  *store.Store
	ltm    *memory.LTM
	engine *think.IterativeEngine
}

func newHarness(t *testing.T, cfg think.Config, gen think.Generator, texts map[string]string) *harness {
	t.Helper()

	s := store.New(store.DefaultConfig(), nil)
	s.SetClock(func() int64 { return 1_700_000_000_000 })
	for id, text := range texts {
		if _, err := s.Upsert(store.Statement{ID: id, Text: text, Weight: 1, Confidence: 1}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	sc := score.NewTokenOverlap(s.Tokenizer())
	rcfg := retrieve.DefaultConfig()
	rcfg.CacheCapacity = 0
	retr, err := retrieve.New(s, sc, rcfg)
	if err != nil {
		t.Fatalf("retriever: %v", err)
	}

	// The memory-side threshold stays below every engine-side threshold
	// used in these tests so the engine gate is the one under test.
	ltm := memory.New(memory.Config{Capacity: 4096, RecallK: 3, MinGroundedness: 0.01}, s.Tokenizer())
	if gen == nil {
		gen = generate.NewExtractive(s.Tokenizer())
	}

	eng, err := think.NewIterative(cfg, think.Deps{
		Store:     s,
		Retriever: retr,
		Evaluator: evaluate.New(evaluate.DefaultConfig(), s.Tokenizer(), sc),
		Generator: gen,
		LTM:       ltm,
		Scorer:    sc,
		Clock:     func() int64 { return 1_700_000_000_000 },
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(eng.Close)
	return &harness{store: s, ltm: ltm, engine: eng}
}

func corpus() map[string]string {
	return map[string]string{
		"fox1": "the quick brown fox jumps over the lazy dog",
		"fox2": "foxes are quick clever animals with brown fur",
		"fox3": "a fox den is usually dug into soft soil",
		"dog1": "dogs are loyal companions that enjoy long walks",
	}
}

func TestThinkEmptyStore(t *testing.T) {
	cfg := think.DefaultConfig()
	cfg.Iterations = 2
	cfg.RetrieveK = 4
	h := newHarness(t, cfg, nil, nil)

	res := h.engine.Think("hello world", 1)
	if res.Answer == "" {
		t.Error("answer must be non-empty even with an empty store")
	}
	if res.Evaluation.Groundedness != 0 {
		t.Errorf("empty store groundedness = %f, want 0", res.Evaluation.Groundedness)
	}
	if res.Iterations < 1 {
		t.Errorf("iterations = %d", res.Iterations)
	}
}

func TestThinkGroundedAnswer(t *testing.T) {
	cfg := think.DefaultConfig()
	cfg.TargetScore = 10 // never reached; run all iterations
	cfg.Iterations = 3
	h := newHarness(t, cfg, nil, corpus())

	res := h.engine.Think("tell me about the quick brown fox", 7)
	if res.Answer == "" {
		t.Fatal("no answer")
	}
	if res.Evaluation.Groundedness <= 0 {
		t.Errorf("grounded corpus should give positive groundedness, got %f", res.Evaluation.Groundedness)
	}
	if !strings.Contains(res.Answer, "1)") {
		t.Errorf("extractive answer should be sectioned: %q", res.Answer)
	}
}

func TestThinkDeterministic(t *testing.T) {
	cfg := think.DefaultConfig()
	cfg.TargetScore = 10
	a := newHarness(t, cfg, nil, corpus()).engine.Think("quick brown fox", 42)
	b := newHarness(t, cfg, nil, corpus()).engine.Think("quick brown fox", 42)

	if a.Answer != b.Answer {
		t.Errorf("answers differ:\n%q\n%q", a.Answer, b.Answer)
	}
	if a.Evaluation.EffectiveScore != b.Evaluation.EffectiveScore {
		t.Errorf("scores differ: %f vs %f", a.Evaluation.EffectiveScore, b.Evaluation.EffectiveScore)
	}
	if a.Iterations != b.Iterations {
		t.Errorf("iteration counts differ: %d vs %d", a.Iterations, b.Iterations)
	}
}

func TestThinkPatienceTermination(t *testing.T) {
	cfg := think.DefaultConfig()
	cfg.Iterations = 8
	cfg.Patience = 1
	cfg.TargetScore = 10
	cfg.RefineRounds = 0 // keep the query fixed so evaluations repeat exactly
	constant := constGenerator{text: strings.Join([]string{
		"1) the quick brown fox jumps over the lazy dog",
		"2) foxes are quick clever animals",
		"3) the same constant draft every time",
	}, "\n")}
	h := newHarness(t, cfg, constant, corpus())

	res := h.engine.Think("quick brown fox", 3)
	// Iteration 1 improves (first candidate), then every iteration
	// stagnates; patience=1 ends the run by iteration 3.
	if res.Iterations > 3 {
		t.Errorf("patience should terminate by iteration 3, ran %d", res.Iterations)
	}
	last := res.Trace[len(res.Trace)-1]
	if last.Stagnation <= cfg.Patience {
		t.Errorf("final stagnation %d should exceed patience %d", last.Stagnation, cfg.Patience)
	}
}

func TestThinkBestScoreMonotonic(t *testing.T) {
	cfg := think.DefaultConfig()
	cfg.TargetScore = 10
	cfg.Iterations = 5
	cfg.Patience = 6
	h := newHarness(t, cfg, nil, corpus())

	res := h.engine.Think("quick brown fox behavior", 11)
	prev := -1e18
	for _, it := range res.Trace {
		if it.Drafts == 0 {
			continue
		}
		if it.BestScore < prev {
			t.Errorf("best score decreased: %f -> %f at iteration %d", prev, it.BestScore, it.Iteration)
		}
		prev = it.BestScore
	}
}

func TestThinkTargetScoreStopsEarly(t *testing.T) {
	cfg := think.DefaultConfig()
	cfg.Iterations = 8
	cfg.TargetScore = -100 // any candidate clears it immediately
	h := newHarness(t, cfg, nil, corpus())

	res := h.engine.Think("quick fox", 5)
	if res.Iterations != 1 {
		t.Errorf("target reached on iteration 1, but ran %d", res.Iterations)
	}
}

func TestThinkEmptyGeneratorDegrades(t *testing.T) {
	cfg := think.DefaultConfig()
	cfg.Iterations = 3
	cfg.Patience = 0
	h := newHarness(t, cfg, emptyGenerator{}, corpus())

	res := h.engine.Think("quick fox", 1)
	if res.Answer != "" {
		t.Errorf("no drafts should yield empty best attempt, got %q", res.Answer)
	}
	if res.Evaluation.Valid {
		t.Error("catastrophic emptiness must be invalid")
	}
	if res.Evaluation.Score != -1 {
		t.Errorf("sentinel score = %f", res.Evaluation.Score)
	}
	if len(res.Trace) == 0 {
		t.Error("trace must be annotated")
	}
}

func TestThinkWritesLTMOnTerminate(t *testing.T) {
	cfg := think.DefaultConfig()
	cfg.TargetScore = 10
	cfg.LTMWriteMinGroundedness = 0.01
	h := newHarness(t, cfg, nil, corpus())

	if h.ltm.Size() != 0 {
		t.Fatal("ltm should start empty")
	}
	res := h.engine.Think("tell me about the quick brown fox", 9)
	if res.Evaluation.Groundedness < cfg.LTMWriteMinGroundedness {
		t.Skipf("groundedness %f below threshold", res.Evaluation.Groundedness)
	}
	if h.ltm.Size() == 0 {
		t.Error("terminate should have written evidence to LTM")
	}
}

func TestThinkLTMDisabled(t *testing.T) {
	cfg := think.DefaultConfig()
	cfg.TargetScore = 10
	cfg.LTMEnabled = false
	cfg.LTMWriteMinGroundedness = 0.0
	h := newHarness(t, cfg, nil, corpus())

	h.engine.Think("quick brown fox", 2)
	if h.ltm.Size() != 0 {
		t.Errorf("ltm writes despite being disabled: %d", h.ltm.Size())
	}
}

func TestConfigNormalizeClamps(t *testing.T) {
	cfg := think.Config{
		Orchestrator:       "weird",
		Iterations:         99,
		RetrieveK:          -3,
		DraftsPerIteration: 1000,
		Patience:           42,
		RefineRounds:       -1,
		RefineQueryBudget:  0,
		BeamWidth:          99,
		DraftsPerBeam:      0,
		MaxDraftsPerIter:   0,
		DiversityPenalty:   7,
		LTMRecallK:         1000,
	}
	cfg.Normalize()

	checks := []struct {
		name string
		got  int
		want int
	}{
		{"iterations", cfg.Iterations, 8},
		{"retrieveK", cfg.RetrieveK, 1},
		{"drafts", cfg.DraftsPerIteration, 32},
		{"patience", cfg.Patience, 6},
		{"refineRounds", cfg.RefineRounds, 0},
		{"refineBudget", cfg.RefineQueryBudget, 1},
		{"beamWidth", cfg.BeamWidth, 32},
		{"draftsPerBeam", cfg.DraftsPerBeam, 1},
		{"maxDraftsPerIter", cfg.MaxDraftsPerIter, 1},
		{"ltmRecallK", cfg.LTMRecallK, 128},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if cfg.Orchestrator != "iterative" {
		t.Errorf("orchestrator fallback = %q", cfg.Orchestrator)
	}
	if cfg.DiversityPenalty != 1 {
		t.Errorf("diversityPenalty = %f", cfg.DiversityPenalty)
	}
}

func TestThinkTraceCarriesNumericCritique(t *testing.T) {
	cfg := think.DefaultConfig()
	cfg.TargetScore = 10
	h := newHarness(t, cfg, nil, corpus())

	res := h.engine.Think("quick brown fox", 13)
	for _, it := range res.Trace {
		if it.Drafts == 0 || it.Critique == "" {
			continue
		}
		parsed := think.ParseHint(it.Critique)
		if len(parsed) == 0 {
			t.Errorf("critique does not parse as hint grammar: %q", it.Critique)
		}
		for _, part := range strings.Split(it.Critique, ";") {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) != 2 {
				t.Errorf("malformed hint pair %q", part)
				continue
			}
			var f float64
			if _, err := fmt.Sscanf(kv[1], "%f", &f); err != nil {
				t.Errorf("hint value not numeric: %q", part)
			}
		}
	}
}
