// Package score defines the scorer capability set used by retrieval,
// evaluation and long-term memory recall, plus the default
// token-overlap scorer.
package score

import (
	"math"
	"sync"

	"github.com/cognicore/noesis/pkg/noesis/ingest"
	"github.com/cognicore/noesis/pkg/noesis/store"
)

// Scorer computes query↔statement relevance. Implementations must be
// deterministic for identical inputs.
type Scorer interface {
	Score(queryTokens []string, st store.Statement) float64
}

// Preparer is an optional warmup hook. Prepare is called at most once
// with a snapshot of the corpus before any scoring.
type Preparer interface {
	Prepare(snapshot []store.Statement) error
}

// BatchScorer scores many statements at once. The result slice is
// index-aligned with the input.
type BatchScorer interface {
	ScoreBatch(queryTokens []string, sts []store.Statement) []float64
}

// TokenProvider exposes the scorer's own tokenization, used by the
// retriever's candidate gate.
type TokenProvider interface {
	Tokens(text string) []string
}

// TokenOverlap is the default lexical scorer: IDF-weighted token
// overlap between query and statement, damped by statement length and
// boosted by statement strength. Scores are in [0, ~1.3].
type TokenOverlap struct {
	tok *ingest.Tokenizer

	mu       sync.RWMutex
	idf      map[string]float64
	prepared bool
}

// NewTokenOverlap creates the scorer. A nil tokenizer falls back to
// the default one.
func NewTokenOverlap(tok *ingest.Tokenizer) *TokenOverlap {
	if tok == nil {
		tok = ingest.NewDefault()
	}
	return &TokenOverlap{tok: tok}
}

// Tokens implements TokenProvider.
func (s *TokenOverlap) Tokens(text string) []string {
	return s.tok.Tokenize(text)
}

// Prepare builds IDF weights from a corpus snapshot. Without it the
// scorer degrades to unweighted overlap.
func (s *TokenOverlap) Prepare(snapshot []store.Statement) error {
	df := make(map[string]int)
	for _, st := range snapshot {
		seen := make(map[string]struct{})
		for _, tok := range s.tok.Tokenize(st.Text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	n := float64(len(snapshot))
	if n < 1 {
		n = 1
	}
	idf := make(map[string]float64, len(df))
	for tok, d := range df {
		idf[tok] = math.Log(1 + (n-float64(d)+0.5)/(float64(d)+0.5))
	}

	s.mu.Lock()
	s.idf = idf
	s.prepared = true
	s.mu.Unlock()
	return nil
}

// Score computes the overlap relevance of a statement for the query.
func (s *TokenOverlap) Score(queryTokens []string, st store.Statement) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	stTokens := s.tok.Tokenize(st.Text)
	if len(stTokens) == 0 {
		return 0
	}
	stSet := make(map[string]struct{}, len(stTokens))
	for _, t := range stTokens {
		stSet[t] = struct{}{}
	}

	s.mu.RLock()
	idf := s.idf
	prepared := s.prepared
	s.mu.RUnlock()

	var overlap, total float64
	seen := make(map[string]struct{}, len(queryTokens))
	for _, qt := range queryTokens {
		if _, dup := seen[qt]; dup {
			continue
		}
		seen[qt] = struct{}{}

		w := 1.0
		if prepared {
			if v, ok := idf[qt]; ok {
				w = v
			}
		}
		total += w
		if _, ok := stSet[qt]; ok {
			overlap += w
		}
	}
	if total == 0 {
		return 0
	}

	base := overlap / total
	damp := 1.0 / (1.0 + math.Log(1.0+float64(len(stTokens))/64.0))
	strength := 0.3 * math.Tanh(st.EffectiveWeight())

	return base*damp + base*strength
}

// ScoreBatch scores all statements sequentially in input order.
func (s *TokenOverlap) ScoreBatch(queryTokens []string, sts []store.Statement) []float64 {
	out := make([]float64, len(sts))
	for i, st := range sts {
		out[i] = s.Score(queryTokens, st)
	}
	return out
}
