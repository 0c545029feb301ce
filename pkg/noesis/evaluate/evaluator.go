// Package evaluate scores a draft answer against the user query and
// the retrieved context with deterministic lexical signals:
// groundedness, coverage, structure, novelty, repetition, echo,
// contradiction risk and a coherence/entropy overlay.
package evaluate

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/cognicore/noesis/pkg/noesis/ingest"
	"github.com/cognicore/noesis/pkg/noesis/score"
	"github.com/cognicore/noesis/pkg/noesis/store"
)

// Config holds evaluation gates and overlay weights.
type Config struct {
	MinGroundedness float64 // validity gate on g
	MaxRisk         float64 // validity gate on contradiction risk
	MinCoverage     float64 // validity gate on query coverage
	MaxNovelty      float64 // validity gate on novelty; also the risk normalizer
	MaxRepetition   float64 // validity gate on repetition
	MinChars        int     // too-short cutoff in context mode
	MaxCharsHard    int     // hard length cap

	CoherenceWeight float64
	EntropyWeight   float64
	RiskWeight      float64

	StrictDelta float64 // strict mode raises MinGroundedness and MinCoverage
}

// DefaultConfig returns standard evaluator settings.
func DefaultConfig() Config {
	return Config{
		MinGroundedness: 0.25,
		MaxRisk:         0.65,
		MinCoverage:     0.2,
		MaxNovelty:      0.85,
		MaxRepetition:   0.6,
		MinChars:        40,
		MaxCharsHard:    6000,
		CoherenceWeight: 0.10,
		EntropyWeight:   0.05,
		RiskWeight:      0.10,
		StrictDelta:     0.10,
	}
}

// Evaluation is the full scored verdict for one draft. All [0,1]
// fields are clamped; Score and EffectiveScore may be negative.
type Evaluation struct {
	Score             float64
	EffectiveScore    float64
	Groundedness      float64
	ContradictionRisk float64
	StructureScore    float64
	Coverage          float64
	ContextSupport    float64
	StylePenalty      float64
	Novelty           float64
	Repetition        float64
	Coherence         float64
	Valid             bool
	ValidationNotes   []string
	Tokens            int
	Nanos             int64
}

// Evaluator scores drafts. It is stateless between calls and safe for
// concurrent use.
type Evaluator struct {
	cfg    Config
	tok    *ingest.Tokenizer
	scorer score.Scorer
	strict bool
}

// New creates an evaluator. Nil tokenizer or scorer fall back to
// defaults.
func New(cfg Config, tok *ingest.Tokenizer, sc score.Scorer) *Evaluator {
	if tok == nil {
		tok = ingest.NewDefault()
	}
	if sc == nil {
		sc = score.NewTokenOverlap(tok)
	}
	if cfg.MaxCharsHard <= 0 {
		cfg.MaxCharsHard = DefaultConfig().MaxCharsHard
	}
	if cfg.MaxNovelty <= 0 {
		cfg.MaxNovelty = DefaultConfig().MaxNovelty
	}
	return &Evaluator{cfg: cfg, tok: tok, scorer: sc}
}

// Strict returns a copy whose validity gates are tightened for the
// final verify pass.
func (e *Evaluator) Strict() *Evaluator {
	out := *e
	out.strict = true
	return &out
}

// Evaluate scores a candidate answer. Context mode (non-empty context)
// applies the full gate schema; without context a relaxed schema is
// used and groundedness is zero.
func (e *Evaluator) Evaluate(userText, answer string, context []store.Statement) Evaluation {
	start := time.Now()

	if strings.TrimSpace(answer) == "" {
		return Evaluation{
			Score: -1, EffectiveScore: -1,
			ValidationNotes: []string{"empty answer"},
			Nanos:           time.Since(start).Nanoseconds(),
		}
	}

	chars := len([]rune(answer))
	contextMode := len(context) > 0

	if contextMode && chars < e.cfg.MinChars {
		return Evaluation{
			Score: -0.8, EffectiveScore: -0.8,
			ValidationNotes: []string{"answer too short"},
			Tokens:          len(e.tok.Tokenize(answer)),
			Nanos:           time.Since(start).Nanoseconds(),
		}
	}
	if chars > e.cfg.MaxCharsHard {
		return Evaluation{
			Score: -0.6, EffectiveScore: -0.6,
			ValidationNotes: []string{"answer over hard length cap"},
			Tokens:          len(e.tok.Tokenize(answer)),
			Nanos:           time.Since(start).Nanoseconds(),
		}
	}

	aTokens := e.tok.Tokenize(answer)
	qTokens := e.tok.Tokenize(userText)
	aSet := toSet(aTokens)
	qSet := toSet(qTokens)

	// Groundedness: 0.7·maxOverlap + 0.3·mean of top-K overlaps.
	var g, contextSupport float64
	if contextMode {
		overlaps := make([]float64, 0, len(context))
		for _, st := range context {
			overlaps = append(overlaps, clamp01(e.scorer.Score(aTokens, st)))
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(overlaps)))
		topK := len(overlaps)
		if topK > 4 {
			topK = 4
		}
		sum := 0.0
		for _, v := range overlaps[:topK] {
			sum += v
		}
		mean := sum / float64(topK)
		g = clamp01(0.7*overlaps[0] + 0.3*mean)
		contextSupport = clamp01(mean)
	}

	// Query coverage.
	coverage := 0.0
	if len(qSet) > 0 {
		hit := 0
		for tok := range qSet {
			if _, ok := aSet[tok]; ok {
				hit++
			}
		}
		coverage = float64(hit) / float64(len(qSet))
	}

	// Structure.
	sectioned := countNumberedSections(answer) >= 3 || countHeadings(answer) >= 3
	bullets := countBullets(answer)
	actionability := math.Min(1, float64(bullets)/8)
	structurePenalty := 0.6
	switch {
	case sectioned:
		structurePenalty = 0
	case bullets > 0:
		structurePenalty = 0.3
	}
	structure := 0.8*(1-structurePenalty) + 0.2*actionability
	if sectioned {
		structure += 0.05
	}
	structure = clamp01(structure)

	// Novelty: answer tokens absent from the context token set.
	ctxSet := make(map[string]struct{})
	for _, st := range context {
		for _, tok := range e.tok.Tokenize(st.Text) {
			ctxSet[tok] = struct{}{}
		}
	}
	novelty := 0.0
	if len(aSet) > 0 {
		absent := 0
		for tok := range aSet {
			if _, ok := ctxSet[tok]; !ok {
				absent++
			}
		}
		novelty = float64(absent) / float64(len(aSet))
	}

	// Repetition: dominance of the most frequent token.
	repetition := 0.0
	if len(aTokens) > 0 {
		counts := make(map[string]int, len(aTokens))
		maxCount := 0
		for _, tok := range aTokens {
			counts[tok]++
			if counts[tok] > maxCount {
				maxCount = counts[tok]
			}
		}
		denom := float64(len(aTokens)) / 6
		if denom < 1 {
			denom = 1
		}
		repetition = clamp01(float64(maxCount) / denom)
	}

	// Echo: query/answer Jaccard; penalized as style.
	echo := jaccardSets(qSet, aSet)
	stylePenalty := 0.0
	if contextMode {
		stylePenalty = clamp01(0.5 * math.Max(0, echo-0.5))
	} else {
		stylePenalty = clamp01(echo)
	}

	// Contradiction risk.
	numericDensity := densityOf(answer, unicode.IsDigit)
	punctDensity := densityOf(answer, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	noSections := 1.0
	if sectioned {
		noSections = 0
	}
	risk := 0.15 +
		0.40*norm(numericDensity/0.18) +
		0.15*norm(punctDensity/0.22) +
		0.225*norm(novelty/e.cfg.MaxNovelty) +
		0.10*noSections -
		0.55*g
	risk = clamp01(risk)

	// Coherence/entropy overlay across the four channels.
	channels := []float64{g, structure, coverage, actionability}
	entropy := channelEntropy(channels)
	coherence := clamp01(1 - math.Sqrt(variance(channels)))

	// Validity gates.
	minG := e.cfg.MinGroundedness
	minQC := e.cfg.MinCoverage
	if e.strict {
		minG += e.cfg.StrictDelta
		minQC += e.cfg.StrictDelta
	}

	valid := true
	var notes []string
	fail := func(note string) {
		valid = false
		notes = append(notes, note)
	}
	if contextMode {
		if !sectioned {
			fail("no sections")
		}
		if structure < 0.35 {
			fail("structure below 0.35")
		}
		if g < minG {
			fail("groundedness below minimum")
		}
		if risk > e.cfg.MaxRisk {
			fail("contradiction risk above maximum")
		}
		if coverage < minQC {
			fail("coverage below minimum")
		}
		if novelty > e.cfg.MaxNovelty {
			fail("novelty above maximum")
		}
		if repetition > e.cfg.MaxRepetition {
			fail("repetition above maximum")
		}
	} else {
		if coverage < minQC {
			fail("coverage below minimum")
		}
		if repetition > e.cfg.MaxRepetition {
			fail("repetition above maximum")
		}
		if echo > 0.9 {
			fail("echoes the query")
		}
	}

	// Base score and overlay.
	base := 0.50*g + 0.25*coverage + 0.15*structure + 0.10*actionability -
		0.55*risk - 0.55*stylePenalty - 0.35*novelty - 0.35*repetition
	if contextMode && !sectioned {
		base -= 0.35
	}
	effective := base +
		e.cfg.CoherenceWeight*coherence -
		e.cfg.EntropyWeight*entropy -
		e.cfg.RiskWeight*risk

	return Evaluation{
		Score:             base,
		EffectiveScore:    effective,
		Groundedness:      g,
		ContradictionRisk: risk,
		StructureScore:    structure,
		Coverage:          clamp01(coverage),
		ContextSupport:    contextSupport,
		StylePenalty:      stylePenalty,
		Novelty:           clamp01(novelty),
		Repetition:        repetition,
		Coherence:         coherence,
		Valid:             valid,
		ValidationNotes:   notes,
		Tokens:            len(aTokens),
		Nanos:             time.Since(start).Nanoseconds(),
	}
}

// countNumberedSections counts distinct "n)" markers at line starts.
func countNumberedSections(text string) int {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		i := 0
		for i < len(line) && line[i] >= '0' && line[i] <= '9' {
			i++
		}
		if i > 0 && i < len(line) && line[i] == ')' {
			seen[line[:i]] = struct{}{}
		}
	}
	return len(seen)
}

// countHeadings counts markdown H2/H3 lines.
func countHeadings(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") || strings.HasPrefix(trimmed, "### ") {
			n++
		}
	}
	return n
}

func countBullets(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "• ") {
			n++
		}
	}
	return n
}

func densityOf(text string, pred func(rune) bool) float64 {
	total, hits := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if pred(r) {
			hits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// channelEntropy is H(p)/ln(n) over the normalized channel vector.
func channelEntropy(channels []float64) float64 {
	sum := 0.0
	for _, c := range channels {
		if c > 0 {
			sum += c
		}
	}
	if sum <= 0 {
		return 0
	}
	h := 0.0
	for _, c := range channels {
		if c <= 0 {
			continue
		}
		p := c / sum
		h -= p * math.Log(p)
	}
	return clamp01(h / math.Log(float64(len(channels))))
}

func variance(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	acc := 0.0
	for _, v := range vals {
		d := v - mean
		acc += d * d
	}
	return acc / float64(len(vals))
}

func jaccardSets(a, b map[string]struct{}) float64 {
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

func toSet(in []string) map[string]struct{} {
	set := make(map[string]struct{}, len(in))
	for _, v := range in {
		set[v] = struct{}{}
	}
	return set
}

func norm(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
