package think

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cognicore/noesis/pkg/noesis/evaluate"
	"github.com/cognicore/noesis/pkg/noesis/explore"
	"github.com/cognicore/noesis/pkg/noesis/internalerr"
	"github.com/cognicore/noesis/pkg/noesis/memory"
	"github.com/cognicore/noesis/pkg/noesis/score"
	"github.com/cognicore/noesis/pkg/noesis/store"
)

// Generator produces a draft answer. Implementations must be
// deterministic for identical (userText, context, state) and may use
// state.Seed and state.DraftIndex as conditioning.
type Generator interface {
	Generate(userText string, context []store.Statement, state ThoughtState) string
}

// MultiGenerator produces n sibling drafts at once.
type MultiGenerator interface {
	GenerateN(userText string, context []store.Statement, state ThoughtState, n int) []string
}

// Engine turns a user utterance into a ThoughtResult.
type Engine interface {
	Think(userText string, seed uint64) ThoughtResult
}

// Retriever is the engine-side retrieval contract.
type Retriever interface {
	Retrieve(query string, k int, seed uint64) []store.Statement
}

// Config holds engine options. Normalize clamps every field to its
// documented range.
type Config struct {
	Orchestrator       string  // "iterative" (default) or "beam"
	Iterations         int     // [1,8]
	RetrieveK          int     // [1,128]
	DraftsPerIteration int     // [1,32]
	Patience           int     // [0,6]
	TargetScore        float64 // terminate once best reaches this
	RefineRounds       int     // [0,8]
	RefineQueryBudget  int     // [1,128] tokens in a refined query

	Parallelism     int           // evaluation pool size
	ShutdownTimeout time.Duration // pool release bound

	BeamWidth           int     // [1,32]
	DraftsPerBeam       int     // [1,16]
	MaxDraftsPerIter    int     // [1,256]
	DiversityPenalty    float64 // [0,1]
	MinDiversityJaccard float64 // [0,1]
	VerifyPassEnabled   bool

	LTMEnabled              bool
	LTMRecallK              int     // [0,128]
	LTMWriteMinGroundedness float64 // [0,1]
}

// DefaultConfig returns standard engine settings.
func DefaultConfig() Config {
	return Config{
		Orchestrator:            "iterative",
		Iterations:              4,
		RetrieveK:               6,
		DraftsPerIteration:      3,
		Patience:                2,
		TargetScore:             0.75,
		RefineRounds:            2,
		RefineQueryBudget:       24,
		Parallelism:             4,
		ShutdownTimeout:         2 * time.Second,
		BeamWidth:               3,
		DraftsPerBeam:           2,
		MaxDraftsPerIter:        32,
		DiversityPenalty:        0.3,
		MinDiversityJaccard:     0.25,
		VerifyPassEnabled:       true,
		LTMEnabled:              true,
		LTMRecallK:              3,
		LTMWriteMinGroundedness: 0.45,
	}
}

// Normalize clamps the configuration into valid ranges.
func (c *Config) Normalize() {
	if c.Orchestrator != "beam" {
		c.Orchestrator = "iterative"
	}
	c.Iterations = clampInt(c.Iterations, 1, 8)
	c.RetrieveK = clampInt(c.RetrieveK, 1, 128)
	c.DraftsPerIteration = clampInt(c.DraftsPerIteration, 1, 32)
	c.Patience = clampInt(c.Patience, 0, 6)
	c.RefineRounds = clampInt(c.RefineRounds, 0, 8)
	c.RefineQueryBudget = clampInt(c.RefineQueryBudget, 1, 128)
	if c.Parallelism < 1 {
		c.Parallelism = 1
	}
	c.BeamWidth = clampInt(c.BeamWidth, 1, 32)
	c.DraftsPerBeam = clampInt(c.DraftsPerBeam, 1, 16)
	c.MaxDraftsPerIter = clampInt(c.MaxDraftsPerIter, 1, 256)
	c.DiversityPenalty = clampFloat(c.DiversityPenalty, 0, 1)
	c.MinDiversityJaccard = clampFloat(c.MinDiversityJaccard, 0, 1)
	c.LTMRecallK = clampInt(c.LTMRecallK, 0, 128)
	c.LTMWriteMinGroundedness = clampFloat(c.LTMWriteMinGroundedness, 0, 1)
}

// IterativeEngine is the default orchestrator: one line of refinement
// with best-so-far tracking and patience-bounded stagnation.
type IterativeEngine struct {
	cfg     Config
	store   *store.Store
	retr    Retriever
	eval    *evaluate.Evaluator
	gen     Generator
	intents IntentDetector
	ltm     *memory.LTM
	scorer  score.Scorer
	pool    *evalPool
	logger  *log.Logger
	clock   func() int64
}

// Deps bundles engine collaborators.
type Deps struct {
	Store     *store.Store
	Retriever Retriever
	Evaluator *evaluate.Evaluator
	Generator Generator
	Intents   IntentDetector
	LTM       *memory.LTM
	Scorer    score.Scorer
	Logger    *log.Logger
	Clock     func() int64
}

// NewIterative creates the iterative engine.
func NewIterative(cfg Config, deps Deps) (*IterativeEngine, error) {
	cfg.Normalize()
	if deps.Store == nil || deps.Retriever == nil || deps.Evaluator == nil || deps.Generator == nil {
		return nil, fmt.Errorf("engine dependencies: %w", internalerr.ErrInvalidInput)
	}
	if deps.Intents == nil {
		deps.Intents = NewLexiconDetector()
	}
	if deps.Scorer == nil {
		deps.Scorer = score.NewTokenOverlap(deps.Store.Tokenizer())
	}
	if deps.Clock == nil {
		deps.Clock = func() int64 { return time.Now().UnixMilli() }
	}

	pool, err := newEvalPool(cfg.Parallelism)
	if err != nil {
		return nil, err
	}

	return &IterativeEngine{
		cfg:     cfg,
		store:   deps.Store,
		retr:    deps.Retriever,
		eval:    deps.Evaluator,
		gen:     deps.Generator,
		intents: deps.Intents,
		ltm:     deps.LTM,
		scorer:  deps.Scorer,
		pool:    pool,
		logger:  deps.Logger,
		clock:   deps.Clock,
	}, nil
}

// Close releases the evaluation pool.
func (e *IterativeEngine) Close() {
	e.pool.release(e.cfg.ShutdownTimeout)
}

// Think runs the full loop for one request. It always returns a
// result; catastrophic emptiness yields valid=false with an annotated
// trace.
func (e *IterativeEngine) Think(userText string, seed uint64) ThoughtResult {
	state := &ThoughtState{
		Seed:      seed,
		Phase:     PhaseExplore,
		Diversity: DiversityHigh,
		Tags:      map[string]string{},
	}
	state.Intent = e.intents.Detect(userText)

	if e.cfg.LTMEnabled && e.ltm != nil && e.cfg.LTMRecallK > 0 {
		state.RecalledMemory = e.ltm.Recall(userText, e.scorer, e.cfg.LTMRecallK)
	}

	query := userText
	refineLeft := e.cfg.RefineRounds
	var trace []IterationTrace
	var bestContext []store.Statement
	iterationsRun := 0

	for iter := 0; iter < e.cfg.Iterations; iter++ {
		state.Iteration = iter
		iterationsRun = iter + 1

		context := e.retr.Retrieve(query, e.cfg.RetrieveK, state.Seed)
		context = mergeContext(context, state.RecalledMemory, e.cfg.RetrieveK)

		drafts := e.generateDrafts(userText, context, state, e.cfg.DraftsPerIteration)

		it := IterationTrace{
			Iteration: iter,
			Query:     query,
			Phase:     state.Phase.String(),
			Retrieved: len(context),
			Recalled:  len(state.RecalledMemory),
			Drafts:    len(drafts),
		}

		if len(drafts) == 0 {
			if e.logger != nil {
				e.logger.Printf("think: generator produced no drafts at iteration %d", iter)
			}
			state.Stagnation++
			it.Stagnation = state.Stagnation
			trace = append(trace, it)
			if state.Stagnation > e.cfg.Patience {
				break
			}
			continue
		}

		evals := e.evaluateDrafts(userText, drafts, context)

		bestIdx := 0
		for i := 1; i < len(evals); i++ {
			if evals[i].EffectiveScore > evals[bestIdx].EffectiveScore {
				bestIdx = i
			}
		}

		cand := Candidate{
			Query:      query,
			Text:       drafts[bestIdx],
			Iteration:  iter,
			Seed:       state.Seed,
			DraftIndex: bestIdx,
			Evaluation: evals[bestIdx],
			Score:      evals[bestIdx].EffectiveScore,
		}
		cand.Critique = EncodeHint(critiqueHint(cand.Evaluation, state, len(drafts)))

		prevBest := 0.0
		improved := state.BestSoFar == nil
		if state.BestSoFar != nil {
			prevBest = state.BestEvaluation.EffectiveScore
			improved = cand.Score > prevBest
		}
		if improved {
			state.BestSoFar = &cand
			state.BestEvaluation = cand.Evaluation
			state.Stagnation = 0
			bestContext = context
		} else {
			state.Stagnation++
		}
		state.ScoreDelta = cand.Score - prevBest
		state.LastCandidate = &cand
		state.LastEvaluation = cand.Evaluation
		state.LastCritique = cand.Critique

		it.BestScore = state.BestEvaluation.EffectiveScore
		it.Improved = improved
		it.Stagnation = state.Stagnation
		it.Critique = cand.Critique
		trace = append(trace, it)

		if state.BestEvaluation.EffectiveScore >= e.cfg.TargetScore {
			break
		}
		if state.Stagnation > e.cfg.Patience {
			break
		}
		if iter == e.cfg.Iterations-1 {
			break
		}

		// REFINE: posture, hint and seed for the next iteration, plus
		// optional query replacement from current top evidence.
		state.Phase = e.nextPhase(state)
		state.Diversity = diversityFor(state.Phase)
		state.GenerationHint = EncodeHint(critiqueHint(state.LastEvaluation, state, e.cfg.DraftsPerIteration))
		state.Seed = explore.Mix64(seed, uint64(iter+1))

		if refineLeft > 0 && len(context) > 0 {
			query = e.refineQuery(userText, context)
			refineLeft--
		}
	}

	result := ThoughtResult{Iterations: iterationsRun, Trace: trace}
	if state.BestSoFar == nil {
		result.Evaluation = evaluate.Evaluation{
			Score: -1, EffectiveScore: -1,
			ValidationNotes: []string{"no drafts produced"},
		}
		result.Trace = append(result.Trace, IterationTrace{
			Iteration: iterationsRun,
			Critique:  "terminated without candidates",
		})
		return result
	}

	result.Answer = state.BestSoFar.Text
	result.Evaluation = state.BestEvaluation

	if e.cfg.LTMEnabled && e.ltm != nil &&
		state.BestEvaluation.Groundedness >= e.cfg.LTMWriteMinGroundedness {
		e.writeEpisodes(state.BestSoFar, bestContext)
	}

	return result
}

// generateDrafts asks the generator for n siblings, dropping empties.
func (e *IterativeEngine) generateDrafts(userText string, context []store.Statement, state *ThoughtState, n int) []string {
	var raw []string
	if mg, ok := e.gen.(MultiGenerator); ok {
		raw = mg.GenerateN(userText, context, state.CopyForDraft(0), n)
	} else {
		raw = make([]string, 0, n)
		for i := 0; i < n; i++ {
			raw = append(raw, e.gen.Generate(userText, context, state.CopyForDraft(i)))
		}
	}

	out := raw[:0]
	for _, d := range raw {
		if strings.TrimSpace(d) == "" {
			if e.logger != nil {
				e.logger.Printf("think: generator returned an empty draft")
			}
			continue
		}
		out = append(out, d)
	}
	return out
}

// evaluateDrafts scores drafts on the pool with order-preserving
// writes; tasks are pure and never touch engine state.
func (e *IterativeEngine) evaluateDrafts(userText string, drafts []string, context []store.Statement) []evaluate.Evaluation {
	evals := make([]evaluate.Evaluation, len(drafts))
	var wg sync.WaitGroup
	wg.Add(len(drafts))
	for i := range drafts {
		i := i
		e.pool.run(func() {
			evals[i] = e.eval.Evaluate(userText, drafts[i], context)
		}, &wg)
	}
	wg.Wait()
	return evals
}

// refineQuery rebuilds the retriever query from the original prompt
// plus the highest-IDF evidence terms, bounded by RefineQueryBudget.
func (e *IterativeEngine) refineQuery(userText string, context []store.Statement) string {
	tok := e.store.Tokenizer()
	budget := e.cfg.RefineQueryBudget

	base := tok.Tokenize(userText)
	have := make(map[string]struct{}, len(base))
	kept := make([]string, 0, budget)
	for _, t := range base {
		if _, ok := have[t]; ok {
			continue
		}
		have[t] = struct{}{}
		kept = append(kept, t)
		if len(kept) >= budget {
			return strings.Join(kept, " ")
		}
	}

	type term struct {
		token string
		idf   float64
	}
	var terms []term
	seen := make(map[string]struct{})
	for _, st := range context {
		for _, t := range tok.Tokenize(st.Text) {
			if _, ok := have[t]; ok {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			terms = append(terms, term{token: t, idf: e.store.IDF(t)})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].idf != terms[j].idf {
			return terms[i].idf > terms[j].idf
		}
		return terms[i].token < terms[j].token
	})

	for _, tm := range terms {
		if len(kept) >= budget {
			break
		}
		kept = append(kept, tm.token)
	}
	return strings.Join(kept, " ")
}

// writeEpisodes persists compact evidence units supporting the best
// draft. Writes happen only on terminate, once per request.
func (e *IterativeEngine) writeEpisodes(best *Candidate, context []store.Statement) {
	tok := e.store.Tokenizer()
	answerTokens := tok.Tokenize(best.Text)
	now := e.clock()

	written := 0
	for _, st := range context {
		if written >= 3 {
			break
		}
		if e.scorer.Score(answerTokens, st) <= 0 {
			continue
		}
		unit := store.Statement{
			Text:       st.Text,
			Type:       "episode",
			Weight:     st.Weight,
			Confidence: best.Evaluation.Groundedness,
			Tags:       append(append([]string(nil), st.Tags...), "ltm"),
			Source:     st.ID,
		}
		ok, err := e.ltm.Write(unit, best.Evaluation.Groundedness, now)
		if err != nil && e.logger != nil {
			e.logger.Printf("think: ltm write degraded: %v", err)
		}
		if ok {
			written++
		}
	}
}

func (e *IterativeEngine) nextPhase(state *ThoughtState) Phase {
	switch {
	case state.Stagnation > 0:
		return PhaseRepair
	case e.cfg.TargetScore > 0 && state.BestEvaluation.EffectiveScore >= 0.8*e.cfg.TargetScore:
		return PhaseVerify
	case state.Iteration >= 1:
		return PhaseExploit
	default:
		return PhaseExplore
	}
}

func diversityFor(p Phase) Diversity {
	switch p {
	case PhaseExplore, PhaseRepair:
		return DiversityHigh
	case PhaseExploit:
		return DiversityMed
	default:
		return DiversityLow
	}
}

// mergeContext appends recalled memory after retrieved evidence,
// deduplicating by id and text and capping at k.
func mergeContext(retrieved, recalled []store.Statement, k int) []store.Statement {
	seenID := make(map[string]struct{}, len(retrieved))
	seenText := make(map[string]struct{}, len(retrieved))
	out := make([]store.Statement, 0, len(retrieved)+len(recalled))

	add := func(st store.Statement) {
		if len(out) >= k {
			return
		}
		if _, ok := seenID[st.ID]; ok {
			return
		}
		if _, ok := seenText[st.Text]; ok {
			return
		}
		seenID[st.ID] = struct{}{}
		seenText[st.Text] = struct{}{}
		out = append(out, st)
	}
	for _, st := range retrieved {
		add(st)
	}
	for _, st := range recalled {
		add(st)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
