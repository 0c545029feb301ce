// Package generate provides the default generator backend: a
// deterministic extractive composer that builds sectioned answers from
// retrieved evidence. It exists so the engine runs end-to-end without
// an external model; hosts plug richer generators through the same
// contract.
package generate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cognicore/noesis/pkg/noesis/ingest"
	"github.com/cognicore/noesis/pkg/noesis/store"
	"github.com/cognicore/noesis/pkg/noesis/think"
)

// Extractive composes answers from context statements. It is
// deterministic for identical (userText, context, state); drafts vary
// through state.Seed and state.DraftIndex, which rotate the evidence
// ordering.
type Extractive struct {
	tok *ingest.Tokenizer

	// MaxSections bounds the number of numbered sections per draft.
	MaxSections int
}

// NewExtractive creates the generator.
func NewExtractive(tok *ingest.Tokenizer) *Extractive {
	if tok == nil {
		tok = ingest.NewDefault()
	}
	return &Extractive{tok: tok, MaxSections: 4}
}

// Generate produces one draft.
func (g *Extractive) Generate(userText string, context []store.Statement, state think.ThoughtState) string {
	if len(context) == 0 {
		return g.noContextAnswer(userText, state)
	}

	ordered := g.orderEvidence(userText, context)

	// Rotate the starting point per (seed, draft) for sibling variety.
	offset := int((state.Seed + uint64(state.DraftIndex)) % uint64(len(ordered)))
	if state.DraftIndex == 0 {
		offset = 0 // the first sibling always leads with the best evidence
	}

	sections := g.MaxSections
	if sections < 3 {
		sections = 3
	}
	if sections > len(ordered) {
		sections = len(ordered)
	}

	var b strings.Builder
	topic := topicLine(g.tok, userText)
	if topic != "" {
		b.WriteString(topic)
		b.WriteString("\n")
	}

	for i := 0; i < sections; i++ {
		st := ordered[(offset+i)%len(ordered)]
		fmt.Fprintf(&b, "%d) %s\n", i+1, sentenceOf(st.Text))
		fmt.Fprintf(&b, "- evidence %s\n", st.ID)
	}

	// Pad very small corpora so the draft still carries three sections.
	for i := sections; i < 3; i++ {
		st := ordered[i%len(ordered)]
		fmt.Fprintf(&b, "%d) %s\n", i+1, sentenceOf(st.Text))
	}

	return strings.TrimRight(b.String(), "\n")
}

// GenerateN produces n sibling drafts with rotated evidence.
func (g *Extractive) GenerateN(userText string, context []store.Statement, state think.ThoughtState, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ds := state.CopyForDraft(i)
		out = append(out, g.Generate(userText, context, ds))
	}
	return out
}

// noContextAnswer composes a reply from the prompt alone. It restates
// the topic without pure echo so the relaxed schema can judge it.
func (g *Extractive) noContextAnswer(userText string, state think.ThoughtState) string {
	tokens := g.tok.Tokenize(userText)
	if len(tokens) == 0 {
		return "There is nothing to work with in this request; nothing is stored on the topic either."
	}

	topic := strings.Join(capTokens(tokens, 6), " ")
	switch state.Intent {
	case "smalltalk":
		return fmt.Sprintf("Acknowledged; happy to pick up the thread on %s. No stored knowledge was needed for this.", topic)
	case "question", "howto", "compare", "troubleshoot":
		return fmt.Sprintf("Nothing relevant is stored yet about %s, so no grounded answer can be produced; ingesting material on the topic first would let retrieval support one.", topic)
	default:
		return fmt.Sprintf("Noted the statement about %s; nothing stored relates to it yet, so it stands unverified.", topic)
	}
}

// orderEvidence ranks context by lexical overlap with the prompt,
// ties broken by id.
func (g *Extractive) orderEvidence(userText string, context []store.Statement) []store.Statement {
	qSet := make(map[string]struct{})
	for _, t := range g.tok.Tokenize(userText) {
		qSet[t] = struct{}{}
	}

	type ranked struct {
		st      store.Statement
		overlap int
	}
	items := make([]ranked, len(context))
	for i, st := range context {
		n := 0
		for _, t := range g.tok.Tokenize(st.Text) {
			if _, ok := qSet[t]; ok {
				n++
			}
		}
		items[i] = ranked{st: st, overlap: n}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].overlap != items[j].overlap {
			return items[i].overlap > items[j].overlap
		}
		return items[i].st.ID < items[j].st.ID
	})

	out := make([]store.Statement, len(items))
	for i, r := range items {
		out[i] = r.st
	}
	return out
}

// sentenceOf returns the first sentence of a statement, capped.
func sentenceOf(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+1]
		}
	}
	runes := []rune(text)
	if len(runes) > 240 {
		return string(runes[:240])
	}
	return text
}

func topicLine(tok *ingest.Tokenizer, userText string) string {
	tokens := capTokens(tok.Tokenize(userText), 8)
	if len(tokens) == 0 {
		return ""
	}
	return "Grounded findings on " + strings.Join(tokens, " ") + ":"
}

func capTokens(tokens []string, n int) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, n)
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) >= n {
			break
		}
	}
	return out
}
