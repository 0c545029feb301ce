// Package think orchestrates one request: intent detection, retrieval,
// drafting through a generator, evaluation, best-so-far tracking and
// critique-driven refinement, with iterative and beam variants.
package think

import (
	"github.com/cognicore/noesis/pkg/noesis/evaluate"
	"github.com/cognicore/noesis/pkg/noesis/store"
)

// Phase is the engine's search posture for the current iteration.
type Phase int

const (
	PhaseExplore Phase = iota
	PhaseExploit
	PhaseVerify
	PhaseRepair
)

func (p Phase) String() string {
	switch p {
	case PhaseExplore:
		return "explore"
	case PhaseExploit:
		return "exploit"
	case PhaseVerify:
		return "verify"
	case PhaseRepair:
		return "repair"
	default:
		return "unknown"
	}
}

// Diversity is the requested spread between sibling drafts.
type Diversity int

const (
	DiversityLow Diversity = iota
	DiversityMed
	DiversityHigh
)

// Candidate is one generated draft with its evaluation.
type Candidate struct {
	Query      string
	Text       string
	Iteration  int
	Seed       uint64
	DraftIndex int
	Evaluation evaluate.Evaluation
	Score      float64
	Critique   string
}

// ThoughtState is the mutable per-request state owned by a single
// engine invocation. Drafts receive copies via CopyForDraft.
type ThoughtState struct {
	Seed       uint64
	Iteration  int
	DraftIndex int
	Phase      Phase
	Diversity  Diversity
	Intent     string

	GenerationHint string
	Tags           map[string]string

	RecalledMemory []store.Statement

	BestSoFar      *Candidate
	BestEvaluation evaluate.Evaluation
	LastCandidate  *Candidate
	LastEvaluation evaluate.Evaluation
	LastCritique   string

	Stagnation int
	ScoreDelta float64
}

// CopyForDraft returns a value copy with tags deep-copied; evidence
// lists are shared read-only.
func (s *ThoughtState) CopyForDraft(draftIndex int) ThoughtState {
	out := *s
	out.DraftIndex = draftIndex
	if s.Tags != nil {
		out.Tags = make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			out.Tags[k] = v
		}
	}
	return out
}

// IterationTrace records one engine iteration.
type IterationTrace struct {
	Iteration  int
	Query      string
	Phase      string
	Retrieved  int
	Recalled   int
	Drafts     int
	BestScore  float64
	Improved   bool
	Stagnation int
	Critique   string
}

// ThoughtResult is the engine's answer for one request.
type ThoughtResult struct {
	Answer     string
	Evaluation evaluate.Evaluation
	Iterations int
	Trace      []IterationTrace
}
