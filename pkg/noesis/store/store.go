package store

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cognicore/noesis/pkg/noesis/ingest"
)

// Config holds ranking parameters for the knowledge store.
type Config struct {
	K1 float64 // BM25 term-frequency saturation
	B  float64 // BM25 length normalization

	WBM25     float64 // weight of the BM25 signal
	WTag      float64 // weight of tag similarity
	WRecency  float64 // weight of recency decay
	WStrength float64 // weight of weight*confidence

	RecencyHalfLifeMs float64 // half-life of the recency signal, millis

	MaxQueryTokens      int // query tokens kept when building from a prompt
	CandidateCap        int // hard cap on the BM25 candidate set
	ExpandTokensPerStep int // query tokens added per iterative step

	MMREnabled bool
	MMRLambda  float64 // relevance/diversity trade-off
}

// DefaultConfig returns standard store settings.
func DefaultConfig() Config {
	return Config{
		K1:                  1.2,
		B:                   0.75,
		WBM25:               1.0,
		WTag:                0.4,
		WRecency:            0.2,
		WStrength:           0.3,
		RecencyHalfLifeMs:   30 * 24 * float64(time.Hour/time.Millisecond),
		MaxQueryTokens:      24,
		CandidateCap:        2048,
		ExpandTokensPerStep: 4,
		MMREnabled:          true,
		MMRLambda:           0.7,
	}
}

// Store is the in-memory knowledge store: a statement index with BM25
// ranked search and MMR diversification. Many readers and occasional
// writers are admitted concurrently; the inverted index, document
// frequencies and per-statement term frequencies stay consistent at
// every observable moment.
type Store struct {
	mu  sync.RWMutex
	cfg Config
	tok *ingest.Tokenizer

	byID    map[string]Statement
	tfByID  map[string]map[string]int
	lenByID map[string]int
	posting map[string]map[string]struct{}
	docFreq map[string]int

	totalTokens int64

	now func() int64 // epoch millis, injectable for tests
}

// New creates an empty store.
func New(cfg Config, tok *ingest.Tokenizer) *Store {
	if tok == nil {
		tok = ingest.NewDefault()
	}
	if cfg.K1 <= 0 {
		cfg.K1 = DefaultConfig().K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = DefaultConfig().B
	}
	if cfg.CandidateCap <= 0 {
		cfg.CandidateCap = DefaultConfig().CandidateCap
	}
	if cfg.MaxQueryTokens <= 0 {
		cfg.MaxQueryTokens = DefaultConfig().MaxQueryTokens
	}
	return &Store{
		cfg:     cfg,
		tok:     tok,
		byID:    make(map[string]Statement),
		tfByID:  make(map[string]map[string]int),
		lenByID: make(map[string]int),
		posting: make(map[string]map[string]struct{}),
		docFreq: make(map[string]int),
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the store clock. Intended for tests and for hosts
// that need reproducible recency scoring.
func (s *Store) SetClock(now func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

// Tokenizer returns the tokenizer the store indexes with.
func (s *Store) Tokenizer() *ingest.Tokenizer { return s.tok }

// Now returns the store's current time in epoch millis.
func (s *Store) Now() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Upsert validates and stores a statement, reindexing its terms.
// It reports whether the stored content changed.
func (s *Store) Upsert(st Statement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rawUpdated := st.UpdatedAt
	if err := st.Validate(now); err != nil {
		return false, err
	}

	old, exists := s.byID[st.ID]
	if exists && !contentChanged(old, st) && (rawUpdated == 0 || rawUpdated == old.UpdatedAt) {
		return false, nil
	}

	if exists {
		st.CreatedAt = old.CreatedAt
		if st.UpdatedAt <= old.UpdatedAt {
			st.UpdatedAt = now
		}
		s.unindexLocked(st.ID)
	}

	st = st.Clone()
	tf := termFrequencies(s.tok.Tokenize(st.Text))
	s.byID[st.ID] = st
	s.tfByID[st.ID] = tf

	docLen := 0
	for tok, count := range tf {
		docLen += count
		ids, ok := s.posting[tok]
		if !ok {
			ids = make(map[string]struct{})
			s.posting[tok] = ids
		}
		ids[st.ID] = struct{}{}
		s.docFreq[tok]++
	}
	s.lenByID[st.ID] = docLen
	s.totalTokens += int64(docLen)

	return true, nil
}

// Get returns the statement with the given id.
func (s *Store) Get(id string) (Statement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byID[id]
	if !ok {
		return Statement{}, false
	}
	return st.Clone(), true
}

// Delete removes a statement and its index contributions.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	s.unindexLocked(id)
	delete(s.byID, id)
	return true
}

// Size returns the number of stored statements.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// SnapshotSorted returns a stable copy of all statements sorted by id.
func (s *Store) SnapshotSorted() []Statement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Statement, 0, len(s.byID))
	for _, st := range s.byID {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BuildQueryFromPrompt tokenizes a prompt and caps it to MaxQueryTokens.
// Prompts carry no tags.
func (s *Store) BuildQueryFromPrompt(prompt string) Query {
	tokens := s.tok.Tokenize(prompt)
	tokens = uniqueInOrder(tokens)
	if len(tokens) > s.cfg.MaxQueryTokens {
		tokens = tokens[:s.cfg.MaxQueryTokens]
	}
	return Query{Tokens: tokens}
}

// DocFreq returns the number of statements containing the token.
func (s *Store) DocFreq(token string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.docFreq[token]
}

// IDF returns the BM25 inverse document frequency of a token:
// ln(1 + (N - df + 0.5)/(df + 0.5)) with N = max(1, totalDocs).
func (s *Store) IDF(token string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idfLocked(token)
}

func (s *Store) idfLocked(token string) float64 {
	n := float64(len(s.byID))
	if n < 1 {
		n = 1
	}
	df := float64(s.docFreq[token])
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// Search ranks statements against the query. The candidate set is the
// union of inverted-index postings over query tokens, capped at
// CandidateCap with ties cut by ascending id; expired statements are
// skipped. Scores combine BM25 with tag similarity, recency decay and
// statement strength.
func (s *Store) Search(q Query) []ScoredStatement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.searchLocked(q)
}

func (s *Store) searchLocked(q Query) []ScoredStatement {
	if len(q.Tokens) == 0 && len(q.Tags) == 0 {
		return nil
	}

	candidateSet := make(map[string]struct{})
	for _, tok := range q.Tokens {
		for id := range s.posting[tok] {
			candidateSet[id] = struct{}{}
		}
	}
	candidates := make([]string, 0, len(candidateSet))
	for id := range candidateSet {
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)
	if len(candidates) > s.cfg.CandidateCap {
		candidates = candidates[:s.cfg.CandidateCap]
	}

	now := s.now()
	avgLen := 1.0
	if len(s.byID) > 0 {
		avgLen = float64(s.totalTokens) / float64(len(s.byID))
		if avgLen <= 0 {
			avgLen = 1.0
		}
	}

	results := make([]ScoredStatement, 0, len(candidates))
	for _, id := range candidates {
		st := s.byID[id]
		if st.IsExpired(now) {
			continue
		}

		bm25 := s.bm25Locked(q.Tokens, id, avgLen)
		tagSim := tagSimilarity(q.Tags, st.Tags)
		recency := s.recency(st.UpdatedAt, now)
		strength := st.EffectiveWeight()

		score := s.cfg.WBM25*bm25 + s.cfg.WTag*tagSim + s.cfg.WRecency*recency + s.cfg.WStrength*strength
		results = append(results, ScoredStatement{
			Statement: st.Clone(),
			Score:     score,
			Features: map[string]float64{
				"bm25":     bm25,
				"tag":      tagSim,
				"recency":  recency,
				"strength": strength,
			},
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Statement.ID < results[j].Statement.ID
	})
	return results
}

func (s *Store) bm25Locked(queryTokens []string, id string, avgLen float64) float64 {
	tf := s.tfByID[id]
	docLen := float64(s.lenByID[id])
	score := 0.0
	for _, tok := range queryTokens {
		f := float64(tf[tok])
		if f == 0 {
			continue
		}
		idf := s.idfLocked(tok)
		denom := f + s.cfg.K1*(1-s.cfg.B+s.cfg.B*docLen/avgLen)
		score += idf * f * (s.cfg.K1 + 1) / denom
	}
	return score
}

func (s *Store) recency(updatedAt, now int64) float64 {
	if s.cfg.RecencyHalfLifeMs <= 0 {
		return 0
	}
	age := float64(now - updatedAt)
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / s.cfg.RecencyHalfLifeMs)
}

// RetrieveIterative runs multi-step retrieval: each step searches,
// diversifies with MMR, then expands the query tags from evidence and
// its tokens by IDF rank over evidence terms.
func (s *Store) RetrieveIterative(prompt string, iterations, topK int) RetrievalReport {
	if iterations < 1 {
		iterations = 1
	}
	if topK < 1 {
		topK = 1
	}

	query := s.BuildQueryFromPrompt(prompt)
	var report RetrievalReport

	for i := 0; i < iterations; i++ {
		if len(query.Tokens) > s.cfg.MaxQueryTokens {
			query.Tokens = query.Tokens[:s.cfg.MaxQueryTokens]
		}

		ranked := s.Search(query)
		evidence := ranked
		if s.cfg.MMREnabled {
			evidence = MMRSelect(ranked, topK, s.cfg.MMRLambda, s.tok)
		} else if len(evidence) > topK {
			evidence = evidence[:topK]
		}

		report.Steps = append(report.Steps, RetrievalStep{Query: query, Evidence: evidence})
		query = s.expandQuery(query, evidence)
	}

	return report
}

// expandQuery widens a query with tags found in evidence and the
// highest-IDF evidence tokens not already present.
func (s *Store) expandQuery(q Query, evidence []ScoredStatement) Query {
	tagSet := make(map[string]struct{}, len(q.Tags))
	tags := append([]string(nil), q.Tags...)
	for _, tag := range q.Tags {
		tagSet[tag] = struct{}{}
	}
	for _, ev := range evidence {
		for _, tag := range ev.Statement.Tags {
			if _, ok := tagSet[tag]; !ok {
				tagSet[tag] = struct{}{}
				tags = append(tags, tag)
			}
		}
	}

	have := make(map[string]struct{}, len(q.Tokens))
	for _, tok := range q.Tokens {
		have[tok] = struct{}{}
	}

	type cand struct {
		token string
		idf   float64
	}
	seen := make(map[string]struct{})
	var cands []cand

	s.mu.RLock()
	for _, ev := range evidence {
		for tok := range s.tfByID[ev.Statement.ID] {
			if _, ok := have[tok]; ok {
				continue
			}
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			cands = append(cands, cand{token: tok, idf: s.idfLocked(tok)})
		}
	}
	s.mu.RUnlock()

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].idf != cands[j].idf {
			return cands[i].idf > cands[j].idf
		}
		return cands[i].token < cands[j].token
	})
	if len(cands) > s.cfg.ExpandTokensPerStep {
		cands = cands[:s.cfg.ExpandTokensPerStep]
	}

	tokens := append([]string(nil), q.Tokens...)
	for _, c := range cands {
		tokens = append(tokens, c.token)
	}
	return Query{Tokens: tokens, Tags: tags}
}

func (s *Store) unindexLocked(id string) {
	tf := s.tfByID[id]
	for tok := range tf {
		if ids, ok := s.posting[tok]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(s.posting, tok)
			}
		}
		if s.docFreq[tok] <= 1 {
			delete(s.docFreq, tok)
		} else {
			s.docFreq[tok]--
		}
	}
	s.totalTokens -= int64(s.lenByID[id])
	delete(s.tfByID, id)
	delete(s.lenByID, id)
}

// contentChanged compares the fields that participate in change
// detection: text, type, weight, confidence, tags, meta, expiry and
// the caller-supplied updatedAt.
func contentChanged(old, next Statement) bool {
	if old.Text != next.Text || old.Type != next.Type {
		return true
	}
	if old.Weight != next.Weight || old.Confidence != next.Confidence {
		return true
	}
	if old.ExpiresAt != next.ExpiresAt {
		return true
	}
	if len(old.Tags) != len(next.Tags) {
		return true
	}
	for i := range old.Tags {
		if old.Tags[i] != next.Tags[i] {
			return true
		}
	}
	if len(old.Meta) != len(next.Meta) {
		return true
	}
	for k, v := range old.Meta {
		if next.Meta[k] != v {
			return true
		}
	}
	return false
}

// tagSimilarity is |a∩b| / sqrt(|a|·|b|).
func tagSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	inter := 0
	for _, t := range b {
		if _, ok := set[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}

func termFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}

func uniqueInOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
