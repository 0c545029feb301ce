// Package config loads engine configuration from YAML and maps it
// onto the per-component config values, applying defaults and clamps.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/noesis/pkg/noesis/evaluate"
	"github.com/cognicore/noesis/pkg/noesis/explore"
	"github.com/cognicore/noesis/pkg/noesis/ingest"
	"github.com/cognicore/noesis/pkg/noesis/memory"
	"github.com/cognicore/noesis/pkg/noesis/retrieve"
	"github.com/cognicore/noesis/pkg/noesis/store"
	"github.com/cognicore/noesis/pkg/noesis/think"
)

// Config is the full YAML-facing configuration tree. Zero values mean
// "use the default".
type Config struct {
	Thinking  Thinking  `yaml:"thinking"`
	Beam      Beam      `yaml:"beam"`
	LTM       LTM       `yaml:"ltm"`
	Retrieval Retrieval `yaml:"retrieval"`
	Store     Store     `yaml:"store"`
	Evaluator Evaluator `yaml:"evaluator"`
	Tokenizer Tokenizer `yaml:"tokenizer"`
}

// Thinking mirrors the engine options.
type Thinking struct {
	Orchestrator       string  `yaml:"orchestrator"` // iterative | beam; any other value selects iterative
	Iterations         int     `yaml:"iterations"`
	RetrieveK          int     `yaml:"retrieve_k"`
	DraftsPerIteration int     `yaml:"drafts_per_iteration"`
	Patience           int     `yaml:"patience"`
	TargetScore        float64 `yaml:"target_score"`
	RefineRounds       int     `yaml:"refine_rounds"`
	RefineQueryBudget  int     `yaml:"refine_query_budget"`
	Parallelism        int     `yaml:"parallelism"`
	ShutdownTimeoutMs  int     `yaml:"shutdown_timeout_ms"`
}

// Beam mirrors the beam-search options.
type Beam struct {
	Width               int     `yaml:"width"`
	DraftsPerBeam       int     `yaml:"drafts_per_beam"`
	MaxDraftsPerIter    int     `yaml:"max_drafts_per_iter"`
	DiversityPenalty    float64 `yaml:"diversity_penalty"`
	MinDiversityJaccard float64 `yaml:"min_diversity_jaccard"`
	VerifyPassEnabled   *bool   `yaml:"verify_pass_enabled"`
}

// LTM mirrors long-term memory options.
type LTM struct {
	Enabled            *bool   `yaml:"enabled"`
	Capacity           int     `yaml:"capacity"`
	RecallK            int     `yaml:"recall_k"`
	WriteMinGrounded   float64 `yaml:"write_min_groundedness"`
}

// Retrieval mirrors retriever and exploration options.
type Retrieval struct {
	Iterations               int     `yaml:"iterations"`
	MaxCandidatesPerIter     int     `yaml:"max_candidates_per_iter"`
	CandidateGateMinTokenLen int     `yaml:"candidate_gate_min_token_len"`
	IterationDecay           float64 `yaml:"iteration_decay"`
	RefineTerms              int     `yaml:"refine_terms"`
	MinScore                 float64 `yaml:"min_score"`
	EarlyStopConfidence      float64 `yaml:"early_stop_confidence"`
	QualityFloor             float64 `yaml:"quality_floor"`
	CacheCapacity            int     `yaml:"cache_capacity"`
	Parallel                 bool    `yaml:"parallel"`
	Parallelism              int     `yaml:"parallelism"`
	RefineDfCut              float64 `yaml:"refine_df_cut"`

	RerankN                       int `yaml:"rerank_n"`
	RerankM                       int `yaml:"rerank_m"`
	CompressSentencesPerStatement int `yaml:"compress_sentences_per_statement"`
	CompressMaxCharsPerStatement  int `yaml:"compress_max_chars_per_statement"`

	Temperature         float64 `yaml:"temperature"`
	TopK                int     `yaml:"top_k"`
	CandidateMultiplier int     `yaml:"candidate_multiplier"`
	Diversity           float64 `yaml:"diversity"`
}

// Store mirrors knowledge-store ranking options.
type Store struct {
	K1                  float64 `yaml:"k1"`
	B                   float64 `yaml:"b"`
	WBM25               float64 `yaml:"w_bm25"`
	WTag                float64 `yaml:"w_tag"`
	WRecency            float64 `yaml:"w_recency"`
	WStrength           float64 `yaml:"w_strength"`
	RecencyHalfLifeMs   float64 `yaml:"recency_half_life_ms"`
	MaxQueryTokens      int     `yaml:"max_query_tokens"`
	CandidateCap        int     `yaml:"candidate_cap"`
	ExpandTokensPerStep int     `yaml:"expand_tokens_per_step"`
	MMREnabled          *bool   `yaml:"mmr_enabled"`
	MMRLambda           float64 `yaml:"mmr_lambda"`
}

// Evaluator mirrors evaluation gates.
type Evaluator struct {
	MinGroundedness float64 `yaml:"min_groundedness"`
	MaxRisk         float64 `yaml:"max_risk"`
	MinCoverage     float64 `yaml:"min_coverage"`
	MaxNovelty      float64 `yaml:"max_novelty"`
	MaxRepetition   float64 `yaml:"max_repetition"`
	MinChars        int     `yaml:"min_chars"`
	MaxCharsHard    int     `yaml:"max_chars_hard"`
	CoherenceWeight float64 `yaml:"coherence_weight"`
	EntropyWeight   float64 `yaml:"entropy_weight"`
	RiskWeight      float64 `yaml:"risk_weight"`
}

// Tokenizer mirrors tokenizer options.
type Tokenizer struct {
	MinTokenLen int   `yaml:"min_token_len"`
	MaxTokenLen int   `yaml:"max_token_len"`
	KeepMarks   bool  `yaml:"keep_marks"`
}

// Load reads YAML from path. A missing file yields the zero Config,
// which resolves entirely to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("load config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// TokenizerConfig resolves the tokenizer settings.
func (c *Config) TokenizerConfig() ingest.Config {
	out := ingest.DefaultConfig()
	if c.Tokenizer.MinTokenLen > 0 {
		out.MinTokenLen = c.Tokenizer.MinTokenLen
	}
	if c.Tokenizer.MaxTokenLen > 0 {
		out.MaxTokenLen = c.Tokenizer.MaxTokenLen
	}
	if c.Tokenizer.KeepMarks {
		out.StripMarks = false
	}
	return out
}

// StoreConfig resolves knowledge-store settings.
func (c *Config) StoreConfig() store.Config {
	out := store.DefaultConfig()
	s := c.Store
	if s.K1 > 0 {
		out.K1 = s.K1
	}
	if s.B > 0 && s.B <= 1 {
		out.B = s.B
	}
	if s.WBM25 > 0 {
		out.WBM25 = s.WBM25
	}
	if s.WTag > 0 {
		out.WTag = s.WTag
	}
	if s.WRecency > 0 {
		out.WRecency = s.WRecency
	}
	if s.WStrength > 0 {
		out.WStrength = s.WStrength
	}
	if s.RecencyHalfLifeMs > 0 {
		out.RecencyHalfLifeMs = s.RecencyHalfLifeMs
	}
	if s.MaxQueryTokens > 0 {
		out.MaxQueryTokens = s.MaxQueryTokens
	}
	if s.CandidateCap > 0 {
		out.CandidateCap = s.CandidateCap
	}
	if s.ExpandTokensPerStep > 0 {
		out.ExpandTokensPerStep = s.ExpandTokensPerStep
	}
	if s.MMREnabled != nil {
		out.MMREnabled = *s.MMREnabled
	}
	if s.MMRLambda > 0 && s.MMRLambda <= 1 {
		out.MMRLambda = s.MMRLambda
	}
	return out
}

// RetrieveConfig resolves retriever and exploration settings.
func (c *Config) RetrieveConfig() retrieve.Config {
	out := retrieve.DefaultConfig()
	r := c.Retrieval
	if r.Iterations > 0 {
		out.Iterations = r.Iterations
	}
	if r.MaxCandidatesPerIter > 0 {
		out.MaxCandidatesPerIter = r.MaxCandidatesPerIter
	}
	if r.CandidateGateMinTokenLen > 0 {
		out.CandidateGateMinTokenLen = r.CandidateGateMinTokenLen
	}
	if r.IterationDecay > 0 && r.IterationDecay <= 1 {
		out.IterationDecay = r.IterationDecay
	}
	if r.RefineTerms > 0 {
		out.RefineTerms = r.RefineTerms
	}
	if r.MinScore > 0 {
		out.MinScore = r.MinScore
	}
	if r.EarlyStopConfidence > 0 {
		out.EarlyStopConfidence = r.EarlyStopConfidence
	}
	if r.QualityFloor > 0 {
		out.QualityFloor = r.QualityFloor
	}
	if r.CacheCapacity > 0 {
		out.CacheCapacity = r.CacheCapacity
	}
	out.Parallel = r.Parallel
	if r.Parallelism > 0 {
		out.Parallelism = r.Parallelism
	}
	if r.RefineDfCut > 0 && r.RefineDfCut <= 1 {
		out.RefineDfCut = r.RefineDfCut
	}
	if r.RerankN > 0 {
		out.RerankN = r.RerankN
	}
	if r.RerankM > 0 {
		out.RerankM = r.RerankM
	}
	if r.CompressSentencesPerStatement > 0 {
		out.CompressSentencesPerStatement = r.CompressSentencesPerStatement
	}
	if r.CompressMaxCharsPerStatement > 0 {
		out.CompressMaxCharsPerStatement = r.CompressMaxCharsPerStatement
	}

	ex := explore.DefaultConfig()
	if r.Temperature > 0 {
		ex.Temperature = r.Temperature
	}
	if r.TopK > 0 {
		ex.TopK = r.TopK
	}
	if r.CandidateMultiplier >= 1 {
		ex.CandidateMultiplier = r.CandidateMultiplier
	}
	if r.Diversity > 0 && r.Diversity <= 1 {
		ex.Diversity = r.Diversity
	}
	out.Explore = ex
	return out
}

// EvaluateConfig resolves evaluator settings.
func (c *Config) EvaluateConfig() evaluate.Config {
	out := evaluate.DefaultConfig()
	e := c.Evaluator
	if e.MinGroundedness > 0 {
		out.MinGroundedness = e.MinGroundedness
	}
	if e.MaxRisk > 0 {
		out.MaxRisk = e.MaxRisk
	}
	if e.MinCoverage > 0 {
		out.MinCoverage = e.MinCoverage
	}
	if e.MaxNovelty > 0 {
		out.MaxNovelty = e.MaxNovelty
	}
	if e.MaxRepetition > 0 {
		out.MaxRepetition = e.MaxRepetition
	}
	if e.MinChars > 0 {
		out.MinChars = e.MinChars
	}
	if e.MaxCharsHard > 0 {
		out.MaxCharsHard = e.MaxCharsHard
	}
	if e.CoherenceWeight > 0 {
		out.CoherenceWeight = e.CoherenceWeight
	}
	if e.EntropyWeight > 0 {
		out.EntropyWeight = e.EntropyWeight
	}
	if e.RiskWeight > 0 {
		out.RiskWeight = e.RiskWeight
	}
	return out
}

// MemoryConfig resolves long-term memory settings.
func (c *Config) MemoryConfig() memory.Config {
	out := memory.DefaultConfig()
	if c.LTM.Capacity > 0 {
		out.Capacity = c.LTM.Capacity
	}
	if out.Capacity > 200000 {
		out.Capacity = 200000
	}
	if c.LTM.RecallK > 0 {
		out.RecallK = c.LTM.RecallK
	}
	if c.LTM.WriteMinGrounded > 0 {
		out.MinGroundedness = c.LTM.WriteMinGrounded
	}
	return out
}

// ThinkConfig resolves engine settings; think.Config.Normalize applies
// the documented range clamps afterwards.
func (c *Config) ThinkConfig() think.Config {
	out := think.DefaultConfig()
	t := c.Thinking
	if t.Orchestrator != "" {
		out.Orchestrator = t.Orchestrator
	}
	if t.Iterations > 0 {
		out.Iterations = t.Iterations
	}
	if t.RetrieveK > 0 {
		out.RetrieveK = t.RetrieveK
	}
	if t.DraftsPerIteration > 0 {
		out.DraftsPerIteration = t.DraftsPerIteration
	}
	if t.Patience > 0 {
		out.Patience = t.Patience
	}
	if t.TargetScore != 0 {
		out.TargetScore = t.TargetScore
	}
	if t.RefineRounds > 0 {
		out.RefineRounds = t.RefineRounds
	}
	if t.RefineQueryBudget > 0 {
		out.RefineQueryBudget = t.RefineQueryBudget
	}
	if t.Parallelism > 0 {
		out.Parallelism = t.Parallelism
	}
	if t.ShutdownTimeoutMs > 0 {
		out.ShutdownTimeout = time.Duration(t.ShutdownTimeoutMs) * time.Millisecond
	}

	b := c.Beam
	if b.Width > 0 {
		out.BeamWidth = b.Width
	}
	if b.DraftsPerBeam > 0 {
		out.DraftsPerBeam = b.DraftsPerBeam
	}
	if b.MaxDraftsPerIter > 0 {
		out.MaxDraftsPerIter = b.MaxDraftsPerIter
	}
	if b.DiversityPenalty > 0 {
		out.DiversityPenalty = b.DiversityPenalty
	}
	if b.MinDiversityJaccard > 0 {
		out.MinDiversityJaccard = b.MinDiversityJaccard
	}
	if b.VerifyPassEnabled != nil {
		out.VerifyPassEnabled = *b.VerifyPassEnabled
	}

	if c.LTM.Enabled != nil {
		out.LTMEnabled = *c.LTM.Enabled
	}
	if c.LTM.RecallK > 0 {
		out.LTMRecallK = c.LTM.RecallK
	}
	if c.LTM.WriteMinGrounded > 0 {
		out.LTMWriteMinGroundedness = c.LTM.WriteMinGrounded
	}

	out.Normalize()
	return out
}
