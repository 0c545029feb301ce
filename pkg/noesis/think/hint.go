package think

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cognicore/noesis/pkg/noesis/evaluate"
)

// hintKeyOrder fixes the emission order of the generation-hint grammar.
// Hints are numeric-only so they stay retrieval-safe: no free text may
// leak back into the generator conditioning.
var hintKeyOrder = []string{
	"v", "g", "r", "st", "cov", "cs", "sp", "tok",
	"phase", "div", "seed", "drafts", "beam", "maxTok",
	"evs", "reqSec", "noGen", "format", "intent", "iter",
}

// Hint is a numeric key=value map conforming to the hint grammar.
type Hint map[string]float64

// EncodeHint renders the hint as "key=value;…" in fixed key order.
// Integer values render bare; others use two decimals.
func EncodeHint(h Hint) string {
	if len(h) == 0 {
		return ""
	}
	var parts []string
	for _, key := range hintKeyOrder {
		v, ok := h[key]
		if !ok {
			continue
		}
		if v == float64(int64(v)) {
			parts = append(parts, fmt.Sprintf("%s=%d", key, int64(v)))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%.2f", key, v))
		}
	}
	return strings.Join(parts, ";")
}

// ParseHint parses "key=value;…"; unknown keys and malformed pairs are
// skipped rather than rejected.
func ParseHint(s string) Hint {
	h := Hint{}
	for _, part := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := kv[0]
		if !isHintKey(key) {
			continue
		}
		v, err := strconv.ParseFloat(kv[1], 64)
		if err != nil {
			continue
		}
		h[key] = v
	}
	return h
}

func isHintKey(key string) bool {
	for _, k := range hintKeyOrder {
		if k == key {
			return true
		}
	}
	return false
}

// critiqueHint summarizes an evaluation as a numeric critique for the
// next iteration's generator conditioning.
func critiqueHint(ev evaluate.Evaluation, state *ThoughtState, drafts int) Hint {
	valid := 0.0
	if ev.Valid {
		valid = 1
	}
	return Hint{
		"v":      valid,
		"g":      ev.Groundedness,
		"r":      ev.ContradictionRisk,
		"st":     ev.StructureScore,
		"cov":    ev.Coverage,
		"cs":     ev.ContextSupport,
		"sp":     ev.StylePenalty,
		"tok":    float64(ev.Tokens),
		"phase":  float64(state.Phase),
		"div":    float64(state.Diversity),
		"seed":   float64(state.Seed % 100000),
		"drafts": float64(drafts),
		"intent": float64(intentCode(state.Intent)),
		"iter":   float64(state.Iteration),
	}
}
