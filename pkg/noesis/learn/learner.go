// Package learn extracts durable statements from free text: sentences
// are split, gated for quality, scored with deterministic heuristics,
// deduplicated by signature and upserted with reinforcement.
package learn

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/net/html"

	"github.com/cognicore/noesis/pkg/noesis/ingest"
	"github.com/cognicore/noesis/pkg/noesis/store"
)

// Config controls extraction and reinforcement.
type Config struct {
	MinSentenceLen  int     // runes; shorter sentences are dropped
	MaxSentenceLen  int     // runes; longer sentences are clause-split
	MinTokens       int     // sentences with fewer tokens are dropped
	MinScore        float64 // candidate score floor
	TopKPerRound    int     // selections per round
	Rounds          int     // selection rounds
	NewWeight       float64 // weight of a freshly learned statement
	ReinforceStep   float64 // base step on reinforcement
	MaxWeight       float64 // reinforcement ceiling
	MaxDigitRatio   float64 // sentences denser in digits are dropped
	MaxPunctRatio   float64 // sentences denser in punctuation are dropped
	StructureWords  []string
}

// DefaultConfig returns standard learner settings.
func DefaultConfig() Config {
	return Config{
		MinSentenceLen: 24,
		MaxSentenceLen: 280,
		MinTokens:      4,
		MinScore:       0.35,
		TopKPerRound:   4,
		Rounds:         2,
		NewWeight:      1.0,
		ReinforceStep:  0.25,
		MaxWeight:      5.0,
		MaxDigitRatio:  0.3,
		MaxPunctRatio:  0.25,
		StructureWords: []string{
			"because", "therefore", "means", "causes", "requires",
			"consists", "defined", "always", "never", "must",
		},
	}
}

// Learner turns raw text into stored statements.
type Learner struct {
	cfg Config
	tok *ingest.Tokenizer
	st  *store.Store
}

// New creates a learner bound to a store.
func New(cfg Config, tok *ingest.Tokenizer, st *store.Store) *Learner {
	if tok == nil {
		tok = ingest.NewDefault()
	}
	if cfg.Rounds < 1 {
		cfg.Rounds = 1
	}
	if cfg.TopKPerRound < 1 {
		cfg.TopKPerRound = 1
	}
	return &Learner{cfg: cfg, tok: tok, st: st}
}

// candidate is a scored sentence with its dedup signature.
type candidate struct {
	text string
	sig  uint32
	sc   float64
}

// LearnFromText extracts statements from text and upserts them under
// the given tag. Context statements bias scoring toward the current
// domain. Returns the upserted statements.
func (l *Learner) LearnFromText(text, tag string, context []store.Statement) ([]store.Statement, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		tag = "note"
	}

	normalized := l.normalize(text, tag)
	if normalized == "" {
		return nil, nil
	}

	sentences := splitSentences(normalized)
	var expanded []string
	for _, s := range sentences {
		if len([]rune(s)) > l.cfg.MaxSentenceLen {
			expanded = append(expanded, splitClauses(s)...)
		} else {
			expanded = append(expanded, s)
		}
	}

	domain := l.domainTokens(context)

	var cands []candidate
	seenSig := make(map[uint32]struct{})
	for _, s := range expanded {
		s = strings.TrimSpace(s)
		if !l.passesGates(s) {
			continue
		}
		sig := signature(s)
		if _, dup := seenSig[sig]; dup {
			continue
		}
		seenSig[sig] = struct{}{}
		cands = append(cands, candidate{text: s, sig: sig, sc: l.scoreSentence(s, domain)})
	}

	var out []store.Statement
	picked := make(map[uint32]struct{})
	for round := 0; round < l.cfg.Rounds; round++ {
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].sc != cands[j].sc {
				return cands[i].sc > cands[j].sc
			}
			return cands[i].sig < cands[j].sig
		})

		taken := 0
		for _, c := range cands {
			if taken >= l.cfg.TopKPerRound {
				break
			}
			if c.sc < l.cfg.MinScore {
				break
			}
			if _, dup := picked[c.sig]; dup {
				continue
			}
			picked[c.sig] = struct{}{}
			taken++

			st, err := l.upsertLearned(c, tag)
			if err != nil {
				return out, err
			}
			out = append(out, st)
		}
	}

	return out, nil
}

// upsertLearned inserts a new learned statement or reinforces the
// existing one: w ← clamp(w + step·(0.6 + 0.4·score), 0, maxWeight).
func (l *Learner) upsertLearned(c candidate, tag string) (store.Statement, error) {
	id := fmt.Sprintf("learn:%s:%08x", tag, c.sig)

	st, exists := l.st.Get(id)
	if exists {
		st.Weight += l.cfg.ReinforceStep * (0.6 + 0.4*c.sc)
		if st.Weight > l.cfg.MaxWeight {
			st.Weight = l.cfg.MaxWeight
		}
		st.Tags = store.NormalizeTags(append(st.Tags, "learned", tag))
	} else {
		st = store.Statement{
			ID:         id,
			Text:       c.text,
			Type:       "learned",
			Weight:     l.cfg.NewWeight,
			Confidence: c.sc,
			Tags:       []string{"learned", tag},
			Source:     tag,
		}
	}

	if _, err := l.st.Upsert(st); err != nil {
		return store.Statement{}, err
	}
	got, _ := l.st.Get(id)
	return got, nil
}

// normalize strips control characters, collapses whitespace, removes
// markdown scaffolding for assistant text and extracts plain text
// from HTML input.
func (l *Learner) normalize(text, tag string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if tag == "html" || strings.HasPrefix(text, "<") {
		if plain := extractHTMLText(text); plain != "" {
			text = plain
		}
	}

	var b strings.Builder
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	text = b.String()

	if tag == "assistant" {
		text = stripMarkdown(text)
	}

	return strings.Join(strings.Fields(text), " ")
}

// passesGates rejects short, token-poor, digit-heavy, punctuation-heavy
// and letter-poor sentences.
func (l *Learner) passesGates(s string) bool {
	runes := []rune(s)
	if len(runes) < l.cfg.MinSentenceLen {
		return false
	}
	if len(l.tok.Tokenize(s)) < l.cfg.MinTokens {
		return false
	}

	digits, punct, letters := 0, 0, 0
	for _, r := range runes {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			punct++
		case unicode.IsLetter(r):
			letters++
		}
	}
	n := float64(len(runes))
	if float64(digits)/n > l.cfg.MaxDigitRatio {
		return false
	}
	if float64(punct)/n > l.cfg.MaxPunctRatio {
		return false
	}
	if float64(letters)/n < 0.5 {
		return false
	}
	return true
}

// scoreSentence rates a sentence in [0,1] with deterministic
// heuristics: token content, structure-word and domain bonuses, and
// noise penalties, normalized by length.
func (l *Learner) scoreSentence(s string, domain map[string]struct{}) float64 {
	tokens := l.tok.Tokenize(s)
	if len(tokens) == 0 {
		return 0
	}
	runes := []rune(s)

	// Token content: distinct tokens against a 12-token reference.
	distinct := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		distinct[t] = struct{}{}
	}
	content := float64(len(distinct)) / 12
	if content > 1 {
		content = 1
	}

	structureBonus := 0.0
	for _, w := range l.cfg.StructureWords {
		if _, ok := distinct[w]; ok {
			structureBonus += 0.08
		}
	}
	if structureBonus > 0.24 {
		structureBonus = 0.24
	}

	domainBonus := 0.0
	if len(domain) > 0 {
		hits := 0
		for t := range distinct {
			if _, ok := domain[t]; ok {
				hits++
			}
		}
		domainBonus = 0.2 * float64(hits) / float64(len(distinct))
	}

	penalty := 0.0
	letters := 0
	weird := 0
	punctRun := 0
	maxPunctRun := 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			letters++
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) && !unicode.IsPunct(r) {
			weird++
		}
		if unicode.IsPunct(r) {
			punctRun++
			if punctRun > maxPunctRun {
				maxPunctRun = punctRun
			}
		} else {
			punctRun = 0
		}
	}
	if float64(letters)/float64(len(runes)) < 0.6 {
		penalty += 0.2
	}
	if weird > 2 {
		penalty += 0.15
	}
	if maxPunctRun >= 3 {
		penalty += 0.15
	}
	if strings.HasSuffix(strings.TrimSpace(s), "?") {
		penalty += 0.25
	}

	// Length normalization: favor mid-length sentences.
	length := float64(len(runes))
	ideal := 120.0
	lengthFactor := 1 - minf(1, absf(length-ideal)/(ideal*2))

	raw := 0.55*content + structureBonus + domainBonus - penalty
	raw *= 0.7 + 0.3*lengthFactor
	if raw < 0 {
		return 0
	}
	if raw > 1 {
		return 1
	}
	return raw
}

func (l *Learner) domainTokens(context []store.Statement) map[string]struct{} {
	if len(context) == 0 {
		return nil
	}
	set := make(map[string]struct{})
	for _, st := range context {
		for _, t := range l.tok.Tokenize(st.Text) {
			set[t] = struct{}{}
		}
	}
	return set
}

// signature is the CRC32 of the lowercased, space-collapsed sentence.
func signature(s string) uint32 {
	canon := strings.ToLower(strings.Join(strings.Fields(s), " "))
	return crc32.ChecksumIEEE([]byte(canon))
}

// splitSentences breaks text on sentence terminators, keeping
// abbreviating periods inside tokens intact where possible.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// Terminator only when followed by whitespace or end.
			if i+1 >= len(runes) {
				break
			}
			if unicode.IsSpace(runes[i+1]) {
				s := strings.TrimSpace(b.String())
				if s != "" {
					out = append(out, s)
				}
				b.Reset()
			}
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// splitClauses splits an over-long sentence on clause separators.
func splitClauses(s string) []string {
	f := func(r rune) bool {
		return r == ';' || r == ':' || r == ',' || r == '—'
	}
	parts := strings.FieldsFunc(s, f)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// stripMarkdown removes fences, heading markers, emphasis and list
// scaffolding from assistant-generated text.
func stripMarkdown(text string) string {
	var out []string
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		trimmed = strings.TrimLeft(trimmed, "#>-* ")
		trimmed = strings.ReplaceAll(trimmed, "**", "")
		trimmed = strings.ReplaceAll(trimmed, "`", "")
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, " ")
}

// extractHTMLText returns the concatenated text nodes of an HTML
// document, skipping script and style subtrees.
func extractHTMLText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String())
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
