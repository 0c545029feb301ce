package think

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cognicore/noesis/pkg/noesis/evaluate"
	"github.com/cognicore/noesis/pkg/noesis/explore"
	"github.com/cognicore/noesis/pkg/noesis/internalerr"
	"github.com/cognicore/noesis/pkg/noesis/store"
)

// BeamEngine keeps a beam of candidates per iteration, expands each by
// DraftsPerBeam children with deterministic sibling diversity, and
// prunes back to the beam width by effective score. An optional final
// verify pass re-gates the beam with the strict evaluator.
type BeamEngine struct {
	inner *IterativeEngine
}

// NewBeam creates the beam engine over the same dependency set as the
// iterative one.
func NewBeam(cfg Config, deps Deps) (*BeamEngine, error) {
	cfg.Orchestrator = "beam"
	inner, err := NewIterative(cfg, deps)
	if err != nil {
		return nil, err
	}
	return &BeamEngine{inner: inner}, nil
}

// Close releases the evaluation pool.
func (b *BeamEngine) Close() { b.inner.Close() }

// Think runs beam search for one request.
func (b *BeamEngine) Think(userText string, seed uint64) ThoughtResult {
	e := b.inner
	cfg := e.cfg

	state := &ThoughtState{
		Seed:      seed,
		Phase:     PhaseExplore,
		Diversity: DiversityHigh,
		Tags:      map[string]string{},
	}
	state.Intent = e.intents.Detect(userText)

	if cfg.LTMEnabled && e.ltm != nil && cfg.LTMRecallK > 0 {
		state.RecalledMemory = e.ltm.Recall(userText, e.scorer, cfg.LTMRecallK)
	}

	var beam []Candidate
	var trace []IterationTrace
	var bestContext []store.Statement
	query := userText
	refineLeft := cfg.RefineRounds
	stagnation := 0
	bestScore := negInf()
	iterationsRun := 0

	for iter := 0; iter < cfg.Iterations; iter++ {
		state.Iteration = iter
		iterationsRun = iter + 1

		context := e.retr.Retrieve(query, cfg.RetrieveK, state.Seed)
		context = mergeContext(context, state.RecalledMemory, cfg.RetrieveK)

		// Expand: the empty beam seeds one expansion line.
		lines := len(beam)
		if lines == 0 {
			lines = 1
		}
		budget := cfg.MaxDraftsPerIter

		var drafts []string
		for line := 0; line < lines && budget > 0; line++ {
			n := cfg.DraftsPerBeam
			if n > budget {
				n = budget
			}
			lineState := state.CopyForDraft(line)
			lineState.Seed = explore.Mix64(state.Seed, uint64(line))
			if line < len(beam) {
				lineState.GenerationHint = beam[line].Critique
			}
			children := e.generateDrafts(userText, context, &lineState, n)
			drafts = append(drafts, children...)
			budget -= n
		}
		drafts = dedupeDrafts(drafts)

		it := IterationTrace{
			Iteration: iter,
			Query:     query,
			Phase:     state.Phase.String(),
			Retrieved: len(context),
			Recalled:  len(state.RecalledMemory),
			Drafts:    len(drafts),
		}

		if len(drafts) == 0 {
			stagnation++
			it.Stagnation = stagnation
			trace = append(trace, it)
			if stagnation > cfg.Patience {
				break
			}
			continue
		}

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

		children := make([]Candidate, len(drafts))
		for i := range drafts {
			children[i] = Candidate{
				Query:      query,
				Text:       drafts[i],
				Iteration:  iter,
				Seed:       state.Seed,
				DraftIndex: i,
				Evaluation: evals[i],
				Score:      evals[i].EffectiveScore,
			}
			children[i].Critique = EncodeHint(critiqueHint(evals[i], state, len(drafts)))
		}

		applySiblingDiversity(children, cfg.MinDiversityJaccard, cfg.DiversityPenalty)

		// Prune: merge surviving beam and children, keep width W.
		merged := append(append([]Candidate(nil), beam...), children...)
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].Score > merged[j].Score
		})
		if len(merged) > cfg.BeamWidth {
			merged = merged[:cfg.BeamWidth]
		}
		beam = merged

		improved := beam[0].Score > bestScore
		if improved {
			bestScore = beam[0].Score
			stagnation = 0
			bestContext = context
		} else {
			stagnation++
		}

		state.LastCandidate = &beam[0]
		state.LastEvaluation = beam[0].Evaluation
		state.LastCritique = beam[0].Critique
		state.BestSoFar = &beam[0]
		state.BestEvaluation = beam[0].Evaluation
		state.Stagnation = stagnation

		it.BestScore = bestScore
		it.Improved = improved
		it.Stagnation = stagnation
		it.Critique = beam[0].Critique
		trace = append(trace, it)

		if bestScore >= cfg.TargetScore {
			break
		}
		if stagnation > cfg.Patience {
			break
		}
		if iter == cfg.Iterations-1 {
			break
		}

		state.Phase = e.nextPhase(state)
		state.Diversity = diversityFor(state.Phase)
		state.Seed = explore.Mix64(seed, uint64(iter+1))
		if refineLeft > 0 && len(context) > 0 {
			query = e.refineQuery(userText, context)
			refineLeft--
		}
	}

	result := ThoughtResult{Iterations: iterationsRun, Trace: trace}
	if len(beam) == 0 {
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

	best := beam[0]
	if cfg.VerifyPassEnabled {
		best = b.verifyPass(userText, beam, bestContext)
	}

	result.Answer = best.Text
	result.Evaluation = best.Evaluation

	if cfg.LTMEnabled && e.ltm != nil &&
		best.Evaluation.Groundedness >= cfg.LTMWriteMinGroundedness {
		e.writeEpisodes(&best, bestContext)
	}
	return result
}

// verifyPass re-evaluates the beam with strict gates and returns the
// best strictly-valid candidate, falling back to the beam head.
func (b *BeamEngine) verifyPass(userText string, beam []Candidate, context []store.Statement) Candidate {
	strict := b.inner.eval.Strict()

	best := beam[0]
	bestStrict := negInf()
	found := false
	for _, cand := range beam {
		ev := strict.Evaluate(userText, cand.Text, context)
		if !ev.Valid {
			continue
		}
		if !found || ev.EffectiveScore > bestStrict {
			found = true
			bestStrict = ev.EffectiveScore
			cand.Evaluation = ev
			cand.Score = ev.EffectiveScore
			best = cand
		}
	}
	return best
}

// applySiblingDiversity penalizes children that sit too close to a
// higher-scored sibling: when the Jaccard distance between their
// texts falls below the minimum, the penalty is subtracted.
func applySiblingDiversity(children []Candidate, minDistance, penalty float64) {
	if penalty <= 0 || minDistance <= 0 || len(children) < 2 {
		return
	}

	order := make([]int, len(children))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return children[order[a]].Score > children[order[b]].Score
	})

	sets := make([]map[string]struct{}, len(children))
	for i, c := range children {
		sets[i] = draftTokenSet(c.Text)
	}

	kept := make([]int, 0, len(children))
	for _, idx := range order {
		tooClose := false
		for _, j := range kept {
			if 1-jaccardSet(sets[idx], sets[j]) < minDistance {
				tooClose = true
				break
			}
		}
		if tooClose {
			children[idx].Score -= penalty
		} else {
			kept = append(kept, idx)
		}
	}
}

func dedupeDrafts(drafts []string) []string {
	seen := make(map[string]struct{}, len(drafts))
	out := drafts[:0]
	for _, d := range drafts {
		key := strings.Join(strings.Fields(strings.ToLower(d)), " ")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}

func draftTokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]")
		if len(w) >= 3 {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccardSet(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func negInf() float64 {
	return -1e18
}

// NewEngine builds the orchestrator selected by cfg.Orchestrator.
// Any value other than "beam" selects the iterative engine.
func NewEngine(cfg Config, deps Deps) (Engine, error) {
	cfg.Normalize()
	switch cfg.Orchestrator {
	case "beam":
		return NewBeam(cfg, deps)
	case "iterative":
		return NewIterative(cfg, deps)
	default:
		return nil, fmt.Errorf("orchestrator %q: %w", cfg.Orchestrator, internalerr.ErrInvalidConfig)
	}
}
