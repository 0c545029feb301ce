// Package retrieve implements multi-iteration retrieval-augmented
// candidate gathering: prefilter, score, aggregate with decay, refine
// the query from top-band terms, then hand the ranked list to the
// exploration selector.
package retrieve

import (
	"fmt"
	"log"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/noesis/pkg/noesis/explore"
	"github.com/cognicore/noesis/pkg/noesis/internalerr"
	"github.com/cognicore/noesis/pkg/noesis/score"
	"github.com/cognicore/noesis/pkg/noesis/store"
)

// Config controls the retrieval loop.
type Config struct {
	Iterations               int     // refinement iterations
	MaxCandidatesPerIter     int     // candidate cap per iteration
	CandidateGateMinTokenLen int     // query tokens shorter than this are ignored
	IterationDecay           float64 // (0,1] weight decay across iterations
	RefineTerms              int     // terms appended per refinement
	MinScore                 float64 // aggregated score floor
	EarlyStopConfidence      float64 // 0 disables; otherwise stop on top-1 dominance
	QualityFloor             float64 // 0 disables; low confidence halves k
	CacheCapacity            int     // LRU entries; 0 disables caching
	Parallel                 bool    // score candidates concurrently
	Parallelism              int     // concurrent scorers; 0 = GOMAXPROCS
	RefineDfCut              float64 // [0,1]; terms above this df fraction never refine

	RerankN int // 0 disables; top N re-scored against the original query
	RerankM int // cap after reranking; 0 keeps all N

	CompressSentencesPerStatement int // 0 disables; sentences kept per result
	CompressMaxCharsPerStatement  int // 0 disables; rune cap per result

	Explore explore.Config
}

// DefaultConfig returns standard retrieval settings.
func DefaultConfig() Config {
	return Config{
		Iterations:               3,
		MaxCandidatesPerIter:     512,
		CandidateGateMinTokenLen: 2,
		IterationDecay:           0.8,
		RefineTerms:              3,
		MinScore:                 0.0,
		EarlyStopConfidence:      0,
		QualityFloor:             0,
		CacheCapacity:            128,
		Parallel:                 false,
		Parallelism:              0,
		RefineDfCut:              0.5,
		Explore:                  explore.DefaultConfig(),
	}
}

// IterationTrace is per-iteration telemetry.
type IterationTrace struct {
	Query        string
	Candidates   int
	TopScore     float64
	EarlyStopped bool
}

// Trace describes one retrieval call.
type Trace struct {
	Iterations []IterationTrace
	Confidence float64
	CacheHit   bool
	SelectedK  int
}

// Retriever runs the retrieval loop against a store snapshot.
type Retriever struct {
	store  *store.Store
	scorer score.Scorer
	cfg    Config
	logger *log.Logger

	cache *lru.Cache[uint64, []store.Statement]

	prepOnce sync.Once
	prepErr  error
}

// New creates a retriever. Store and scorer are required.
func New(st *store.Store, sc score.Scorer, cfg Config) (*Retriever, error) {
	if st == nil || sc == nil {
		return nil, fmt.Errorf("retriever dependencies: %w", internalerr.ErrInvalidInput)
	}
	if cfg.Iterations < 1 {
		cfg.Iterations = 1
	}
	if cfg.MaxCandidatesPerIter < 1 {
		cfg.MaxCandidatesPerIter = DefaultConfig().MaxCandidatesPerIter
	}
	if cfg.CandidateGateMinTokenLen < 1 {
		cfg.CandidateGateMinTokenLen = 1
	}
	if cfg.IterationDecay <= 0 || cfg.IterationDecay > 1 {
		cfg.IterationDecay = DefaultConfig().IterationDecay
	}

	r := &Retriever{store: st, scorer: sc, cfg: cfg}
	if cfg.CacheCapacity > 0 {
		cache, err := lru.New[uint64, []store.Statement](cfg.CacheCapacity)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	return r, nil
}

// SetLogger installs an optional logger for degraded-path notices.
func (r *Retriever) SetLogger(l *log.Logger) { r.logger = l }

// Retrieve returns up to k statements for the query.
func (r *Retriever) Retrieve(query string, k int, seed uint64) []store.Statement {
	out, _ := r.RetrieveTrace(query, k, seed)
	return out
}

// RetrieveTrace returns the selection together with per-iteration
// telemetry.
func (r *Retriever) RetrieveTrace(query string, k int, seed uint64) ([]store.Statement, Trace) {
	var trace Trace
	if k < 1 || strings.TrimSpace(query) == "" {
		return nil, trace
	}

	cacheKey := explore.Mix64(seed, explore.StableHash(fmt.Sprintf("%s|%d", query, k)))
	if r.cache != nil {
		if hit, ok := r.cache.Get(cacheKey); ok {
			trace.CacheHit = true
			trace.SelectedK = len(hit)
			return cloneStatements(hit), trace
		}
	}

	snapshot := dedupeSnapshot(r.store.SnapshotSorted(), r.store.Now())

	r.prepOnce.Do(func() {
		if p, ok := r.scorer.(score.Preparer); ok {
			r.prepErr = p.Prepare(snapshot)
		}
	})
	if r.prepErr != nil && r.logger != nil {
		r.logger.Printf("retrieve: scorer prepare degraded: %v", r.prepErr)
	}

	type termSeen struct {
		iter    int
		ordinal int
	}

	agg := make(map[string]float64)
	byID := make(map[string]store.Statement)
	origTokens := toSet(r.queryTokens(query))

	iterQuery := query
	iterWeight := 1.0

	for iter := 0; iter < r.cfg.Iterations; iter++ {
		qTokens := r.queryTokens(iterQuery)
		it := IterationTrace{Query: iterQuery}

		candidates := r.gateCandidates(snapshot, qTokens)
		it.Candidates = len(candidates)
		if len(candidates) == 0 {
			trace.Iterations = append(trace.Iterations, it)
			iterWeight *= r.cfg.IterationDecay
			continue
		}

		scores := r.scoreCandidates(qTokens, candidates)

		type rankedItem struct {
			id    string
			score float64
		}
		ranked := make([]rankedItem, 0, len(candidates))
		for i, st := range candidates {
			w := scores[i] * iterWeight
			ranked = append(ranked, rankedItem{id: st.ID, score: w})
			agg[st.ID] += w
			if _, ok := byID[st.ID]; !ok {
				byID[st.ID] = st
			}
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].score != ranked[j].score {
				return ranked[i].score > ranked[j].score
			}
			return ranked[i].id < ranked[j].id
		})
		it.TopScore = ranked[0].score

		band := 4 * k
		if band < 16 {
			band = 16
		}
		if band > len(ranked) {
			band = len(ranked)
		}

		if r.cfg.EarlyStopConfidence > 0 && len(ranked) >= 2 {
			gap := ranked[0].score - ranked[1].score
			if conf := gap / (gap + 1); conf >= r.cfg.EarlyStopConfidence {
				it.EarlyStopped = true
				trace.Iterations = append(trace.Iterations, it)
				break
			}
		}
		trace.Iterations = append(trace.Iterations, it)

		if iter == r.cfg.Iterations-1 || r.cfg.RefineTerms <= 0 {
			iterWeight *= r.cfg.IterationDecay
			continue
		}

		// Refine: weight terms over the top band by summed score
		// contributions; ties break by first-seen order, then term.
		termWeight := make(map[string]float64)
		firstSeen := make(map[string]termSeen)
		ordinal := 0
		docCount := float64(len(snapshot))
		for _, ri := range ranked[:band] {
			st := byID[ri.id]
			for _, tok := range r.statementTokens(st) {
				if len([]rune(tok)) < r.cfg.CandidateGateMinTokenLen {
					continue
				}
				if r.cfg.RefineDfCut > 0 && r.cfg.RefineDfCut < 1 && docCount > 0 {
					df := float64(r.store.DocFreq(tok))
					if df/docCount > r.cfg.RefineDfCut {
						continue
					}
				}
				termWeight[tok] += ri.score
				if _, ok := firstSeen[tok]; !ok {
					firstSeen[tok] = termSeen{iter: iter, ordinal: ordinal}
					ordinal++
				}
			}
		}

		type term struct {
			token  string
			weight float64
			seen   termSeen
		}
		terms := make([]term, 0, len(termWeight))
		for tok, w := range termWeight {
			if _, ok := origTokens[tok]; ok {
				continue
			}
			terms = append(terms, term{token: tok, weight: w, seen: firstSeen[tok]})
		}
		sort.Slice(terms, func(i, j int) bool {
			if terms[i].weight != terms[j].weight {
				return terms[i].weight > terms[j].weight
			}
			if terms[i].seen.iter != terms[j].seen.iter {
				return terms[i].seen.iter < terms[j].seen.iter
			}
			if terms[i].seen.ordinal != terms[j].seen.ordinal {
				return terms[i].seen.ordinal < terms[j].seen.ordinal
			}
			return terms[i].token < terms[j].token
		})
		if len(terms) > r.cfg.RefineTerms {
			terms = terms[:r.cfg.RefineTerms]
		}

		cur := toSet(qTokens)
		var appended []string
		for _, tm := range terms {
			if _, ok := cur[tm.token]; ok {
				continue
			}
			appended = append(appended, tm.token)
		}
		if len(appended) > 0 {
			iterQuery = iterQuery + " " + strings.Join(appended, " ")
		}
		iterWeight *= r.cfg.IterationDecay
	}

	ranked := make([]explore.Scored, 0, len(agg))
	for id, sc := range agg {
		if sc < r.cfg.MinScore {
			continue
		}
		ranked = append(ranked, explore.Scored{Key: id, Score: sc, Text: byID[id].Text})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Key < ranked[j].Key
	})

	ranked = r.rerank(query, ranked, byID)

	trace.Confidence = confidence(ranked)

	kEff := k
	if r.cfg.QualityFloor > 0 && trace.Confidence < r.cfg.QualityFloor {
		kEff = k / 2
		if kEff < 1 {
			kEff = 1
		}
	}

	selected := explore.Select(ranked, kEff, r.cfg.Explore, seed)
	out := make([]store.Statement, 0, len(selected))
	for _, s := range selected {
		st := byID[s.Key].Clone()
		st.Text = compressText(st.Text, r.cfg.CompressSentencesPerStatement, r.cfg.CompressMaxCharsPerStatement)
		out = append(out, st)
	}
	trace.SelectedK = len(out)

	if r.cache != nil {
		r.cache.Add(cacheKey, cloneStatements(out))
	}
	return out, trace
}

// rerank re-scores the top RerankN aggregated results against the
// original query and optionally truncates to RerankM.
func (r *Retriever) rerank(query string, ranked []explore.Scored, byID map[string]store.Statement) []explore.Scored {
	if r.cfg.RerankN <= 0 || len(ranked) == 0 {
		return ranked
	}
	n := r.cfg.RerankN
	if n > len(ranked) {
		n = len(ranked)
	}

	qTokens := r.queryTokens(query)
	head := make([]explore.Scored, n)
	copy(head, ranked[:n])
	for i := range head {
		head[i].Score = r.scorer.Score(qTokens, byID[head[i].Key])
	}
	sort.Slice(head, func(i, j int) bool {
		if head[i].Score != head[j].Score {
			return head[i].Score > head[j].Score
		}
		return head[i].Key < head[j].Key
	})

	out := append(head, ranked[n:]...)
	if r.cfg.RerankM > 0 && len(out) > r.cfg.RerankM {
		out = out[:r.cfg.RerankM]
	}
	return out
}

// compressText keeps the first maxSentences sentences and caps the
// result at maxChars runes. Zero disables either bound.
func compressText(text string, maxSentences, maxChars int) string {
	if maxSentences > 0 {
		count := 0
		for i, r := range text {
			if r == '.' || r == '!' || r == '?' {
				count++
				if count >= maxSentences {
					text = text[:i+1]
					break
				}
			}
		}
	}
	if maxChars > 0 {
		runes := []rune(text)
		if len(runes) > maxChars {
			text = strings.TrimSpace(string(runes[:maxChars]))
		}
	}
	return text
}

// confidence estimates result quality from top-1 dominance over the
// top 16 aggregated scores: c = 1 − exp(−3·dominance).
func confidence(ranked []explore.Scored) float64 {
	if len(ranked) == 0 {
		return 0
	}
	n := len(ranked)
	if n > 16 {
		n = 16
	}
	sum := 0.0
	for _, r := range ranked[:n] {
		sum += r.Score
	}
	if sum <= 0 {
		return 0
	}
	dominance := ranked[0].Score / sum
	return 1 - math.Exp(-3*dominance)
}

func (r *Retriever) queryTokens(q string) []string {
	var tokens []string
	if tp, ok := r.scorer.(score.TokenProvider); ok {
		tokens = tp.Tokens(q)
	} else {
		tokens = r.store.Tokenizer().Tokenize(q)
	}
	out := tokens[:0]
	for _, tok := range tokens {
		if len([]rune(tok)) >= r.cfg.CandidateGateMinTokenLen {
			out = append(out, tok)
		}
	}
	return out
}

func (r *Retriever) statementTokens(st store.Statement) []string {
	if tp, ok := r.scorer.(score.TokenProvider); ok {
		return tp.Tokens(st.Text)
	}
	return r.store.Tokenizer().Tokenize(st.Text)
}

// gateCandidates keeps statements sharing at least one query token,
// in snapshot (id) order, capped at MaxCandidatesPerIter.
func (r *Retriever) gateCandidates(snapshot []store.Statement, qTokens []string) []store.Statement {
	if len(qTokens) == 0 {
		return nil
	}

	tp, hasTokens := r.scorer.(score.TokenProvider)
	qSet := toSet(qTokens)

	var out []store.Statement
	for _, st := range snapshot {
		match := false
		if hasTokens {
			for _, tok := range tp.Tokens(st.Text) {
				if _, ok := qSet[tok]; ok {
					match = true
					break
				}
			}
		} else {
			lower := strings.ToLower(st.Text)
			for tok := range qSet {
				if strings.Contains(lower, tok) {
					match = true
					break
				}
			}
		}
		if match {
			out = append(out, st)
			if len(out) >= r.cfg.MaxCandidatesPerIter {
				break
			}
		}
	}
	return out
}

// scoreCandidates produces index-aligned scores, sequentially through
// ScoreBatch or with order-preserving parallel writes.
func (r *Retriever) scoreCandidates(qTokens []string, candidates []store.Statement) []float64 {
	if r.cfg.Parallel && len(candidates) > 1 {
		scores := make([]float64, len(candidates))
		limit := r.cfg.Parallelism
		if limit <= 0 {
			limit = runtime.GOMAXPROCS(0)
		}
		var g errgroup.Group
		g.SetLimit(limit)
		for i := range candidates {
			i := i
			g.Go(func() error {
				scores[i] = r.scorer.Score(qTokens, candidates[i])
				return nil
			})
		}
		// Tasks never return errors; Wait is a join.
		_ = g.Wait()
		return scores
	}

	if bs, ok := r.scorer.(score.BatchScorer); ok {
		return bs.ScoreBatch(qTokens, candidates)
	}
	scores := make([]float64, len(candidates))
	for i, st := range candidates {
		scores[i] = r.scorer.Score(qTokens, st)
	}
	return scores
}

// dedupeSnapshot drops expired statements and duplicate ids and
// texts, keeping the first (lowest-id) occurrence.
func dedupeSnapshot(snapshot []store.Statement, now int64) []store.Statement {
	seenID := make(map[string]struct{}, len(snapshot))
	seenText := make(map[string]struct{}, len(snapshot))
	out := make([]store.Statement, 0, len(snapshot))
	for _, st := range snapshot {
		if st.IsExpired(now) {
			continue
		}
		if _, ok := seenID[st.ID]; ok {
			continue
		}
		if _, ok := seenText[st.Text]; ok {
			continue
		}
		seenID[st.ID] = struct{}{}
		seenText[st.Text] = struct{}{}
		out = append(out, st)
	}
	return out
}

func cloneStatements(in []store.Statement) []store.Statement {
	out := make([]store.Statement, len(in))
	for i, st := range in {
		out[i] = st.Clone()
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	set := make(map[string]struct{}, len(in))
	for _, v := range in {
		set[v] = struct{}{}
	}
	return set
}
