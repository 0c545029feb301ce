package think

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// IntentDetector tags a user utterance with a coarse intent label.
type IntentDetector interface {
	Detect(text string) string
}

// intentEntry couples a label with its trigger lexicon.
type intentEntry struct {
	label    string
	triggers []string
}

// LexiconDetector classifies by exact keyword hits first, then by
// fuzzy match over the trigger lexicon. Entries are checked in fixed
// order, so classification is deterministic.
type LexiconDetector struct {
	entries []intentEntry
	index   []string // flattened triggers for fuzzy lookup
	owner   []int    // index -> entry
}

// NewLexiconDetector creates the default detector.
func NewLexiconDetector() *LexiconDetector {
	entries := []intentEntry{
		{label: "howto", triggers: []string{"how", "steps", "guide", "install", "configure", "setup"}},
		{label: "compare", triggers: []string{"versus", "vs", "compare", "difference", "better", "tradeoff"}},
		{label: "troubleshoot", triggers: []string{"error", "fails", "failing", "broken", "fix", "crash", "debug", "why"}},
		{label: "question", triggers: []string{"what", "when", "where", "who", "which", "explain", "define"}},
		{label: "smalltalk", triggers: []string{"hello", "hi", "hey", "thanks", "thank", "goodbye", "bye"}},
	}

	d := &LexiconDetector{entries: entries}
	for i, e := range entries {
		for _, trig := range e.triggers {
			d.index = append(d.index, trig)
			d.owner = append(d.owner, i)
		}
	}
	return d
}

// Detect returns the intent label, or "statement" when nothing fires.
func (d *LexiconDetector) Detect(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return "statement"
	}

	// Exact hits, earliest entry wins.
	best := -1
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?")
		for i, e := range d.entries {
			if best >= 0 && i >= best {
				break
			}
			for _, trig := range e.triggers {
				if w == trig {
					best = i
					break
				}
			}
		}
	}
	if best >= 0 {
		return d.entries[best].label
	}

	// Fuzzy fallback over the lexicon; only near matches count.
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?")
		if len(w) < 4 {
			continue
		}
		matches := fuzzy.Find(w, d.index)
		if len(matches) == 0 {
			continue
		}
		m := matches[0] // Find returns matches best-first
		// Require the match to span most of the trigger.
		if len(m.MatchedIndexes) >= len(d.index[m.Index])-1 && len(m.MatchedIndexes) >= 4 {
			return d.entries[d.owner[m.Index]].label
		}
	}

	if strings.HasSuffix(strings.TrimSpace(text), "?") {
		return "question"
	}
	return "statement"
}

// intentCode maps labels onto the numeric hint alphabet.
func intentCode(label string) int {
	switch label {
	case "question":
		return 1
	case "howto":
		return 2
	case "compare":
		return 3
	case "troubleshoot":
		return 4
	case "smalltalk":
		return 5
	default:
		return 0
	}
}
