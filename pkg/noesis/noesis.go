// Package noesis is the facade over the deterministic iterative
// retrieval-augmented thinking core: a knowledge store with BM25/MMR
// retrieval, a scored exploration selector, a multi-signal candidate
// evaluator and iterative/beam thinking engines with bounded long-term
// memory.
package noesis

import (
	"log"
	"time"

	"github.com/cognicore/noesis/pkg/noesis/config"
	"github.com/cognicore/noesis/pkg/noesis/evaluate"
	"github.com/cognicore/noesis/pkg/noesis/generate"
	"github.com/cognicore/noesis/pkg/noesis/ingest"
	"github.com/cognicore/noesis/pkg/noesis/learn"
	"github.com/cognicore/noesis/pkg/noesis/memory"
	"github.com/cognicore/noesis/pkg/noesis/retrieve"
	"github.com/cognicore/noesis/pkg/noesis/score"
	"github.com/cognicore/noesis/pkg/noesis/store"
	"github.com/cognicore/noesis/pkg/noesis/think"
)

// Options configures a Noesis instance.
type Options struct {
	Config    *config.Config  // nil means all defaults
	Generator think.Generator // nil means the extractive default
	Logger    *log.Logger     // optional degraded-path notices
	Clock     func() int64    // epoch millis; nil means wall clock
}

// Noesis wires the core components together behind the host-facing
// boundary: Think, LearnFromText, Ingest and snapshot access.
type Noesis struct {
	cfg     *config.Config
	tok     *ingest.Tokenizer
	store   *store.Store
	scorer  *score.TokenOverlap
	retr    *retrieve.Retriever
	learner *learn.Learner
	ltm     *memory.LTM
	engine  think.Engine
}

// New builds a fully wired instance.
func New(opts Options) (*Noesis, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() int64 { return time.Now().UnixMilli() }
	}

	tok := ingest.New(cfg.TokenizerConfig())
	st := store.New(cfg.StoreConfig(), tok)
	st.SetClock(clock)
	scorer := score.NewTokenOverlap(tok)

	retr, err := retrieve.New(st, scorer, cfg.RetrieveConfig())
	if err != nil {
		return nil, err
	}
	retr.SetLogger(opts.Logger)

	ltm := memory.New(cfg.MemoryConfig(), tok)
	learner := learn.New(learn.DefaultConfig(), tok, st)
	evaluator := evaluate.New(cfg.EvaluateConfig(), tok, scorer)

	gen := opts.Generator
	if gen == nil {
		gen = generate.NewExtractive(tok)
	}

	engine, err := think.NewEngine(cfg.ThinkConfig(), think.Deps{
		Store:     st,
		Retriever: retr,
		Evaluator: evaluator,
		Generator: gen,
		LTM:       ltm,
		Scorer:    scorer,
		Logger:    opts.Logger,
		Clock:     clock,
	})
	if err != nil {
		return nil, err
	}

	return &Noesis{
		cfg:     cfg,
		tok:     tok,
		store:   st,
		scorer:  scorer,
		retr:    retr,
		learner: learner,
		ltm:     ltm,
		engine:  engine,
	}, nil
}

// Think answers one user utterance.
func (n *Noesis) Think(userText string, seed uint64) think.ThoughtResult {
	return n.engine.Think(userText, seed)
}

// LearnFromText extracts and stores durable statements from text.
// When the store already holds related material it is retrieved first
// and used as domain context for scoring.
func (n *Noesis) LearnFromText(text, tag string) ([]store.Statement, error) {
	var context []store.Statement
	if n.store.Size() > 0 {
		context = n.retr.Retrieve(text, 4, 0)
	}
	return n.learner.LearnFromText(text, tag, context)
}

// Ingest upserts a statement directly.
func (n *Noesis) Ingest(st store.Statement) (bool, error) {
	return n.store.Upsert(st)
}

// Store exposes the knowledge store for snapshot and lookup.
func (n *Noesis) Store() *store.Store { return n.store }

// LTM exposes the long-term memory for export and restore.
func (n *Noesis) LTM() *memory.LTM { return n.ltm }

// Retriever exposes the retriever, mainly for host diagnostics.
func (n *Noesis) Retriever() *retrieve.Retriever { return n.retr }

// Close releases engine resources.
func (n *Noesis) Close() {
	switch e := n.engine.(type) {
	case *think.IterativeEngine:
		e.Close()
	case *think.BeamEngine:
		e.Close()
	}
}
