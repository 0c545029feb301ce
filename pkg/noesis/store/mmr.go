package store

import (
	"math"

	"github.com/cognicore/noesis/pkg/noesis/ingest"
)

// MMRSelect picks up to k items from a ranked list with maximal
// marginal relevance: the top-ranked item first, then repeatedly the
// candidate maximizing λ·rel − (1−λ)·maxSim against the selection.
// Similarity is cosine over token-set indicators; ties break by
// ascending id. Selecting k = len(ranked) returns a permutation of
// the input.
func MMRSelect(ranked []ScoredStatement, k int, lambda float64, tok *ingest.Tokenizer) []ScoredStatement {
	if k <= 0 || len(ranked) == 0 {
		return nil
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	if tok == nil {
		tok = ingest.NewDefault()
	}
	if k > len(ranked) {
		k = len(ranked)
	}

	tokenSets := make([]map[string]struct{}, len(ranked))
	for i, ss := range ranked {
		tokenSets[i] = tokenSet(tok.Tokenize(ss.Statement.Text))
	}

	selected := make([]ScoredStatement, 0, k)
	selectedIdx := make([]int, 0, k)
	used := make([]bool, len(ranked))

	// The best-ranked item is always taken first.
	selected = append(selected, ranked[0])
	selectedIdx = append(selectedIdx, 0)
	used[0] = true

	for len(selected) < k {
		bestIdx := -1
		bestVal := math.Inf(-1)
		for i := range ranked {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, j := range selectedIdx {
				sim := setCosine(tokenSets[i], tokenSets[j])
				if sim > maxSim {
					maxSim = sim
				}
			}
			val := lambda*ranked[i].Score - (1-lambda)*maxSim
			if val > bestVal || (val == bestVal && bestIdx >= 0 && ranked[i].Statement.ID < ranked[bestIdx].Statement.ID) {
				bestVal = val
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		used[bestIdx] = true
		selected = append(selected, ranked[bestIdx])
		selectedIdx = append(selectedIdx, bestIdx)
	}

	return selected
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// setCosine is |a∩b| / sqrt(|a|·|b|), the cosine of set indicators.
func setCosine(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for t := range small {
		if _, ok := large[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}
