// Package explore implements deterministic exploration over ranked
// candidates: relevance divided by temperature, a Jaccard diversity
// penalty against already-selected items, and Gumbel-shaped noise
// derived purely from (seed, stable key). There is no RNG state; the
// same inputs always produce the same selection.
package explore

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Config controls selection behavior.
type Config struct {
	Temperature         float64 // softens relevance; must be > 0
	TopK                int     // nominal selection size used to bound the pool
	CandidateMultiplier int     // pool = TopK * CandidateMultiplier
	Diversity           float64 // [0,1] weight of the Jaccard penalty
}

// DefaultConfig returns standard exploration settings.
func DefaultConfig() Config {
	return Config{
		Temperature:         0.7,
		TopK:                8,
		CandidateMultiplier: 4,
		Diversity:           0.3,
	}
}

// Scored is one ranked candidate. Key must be a stable identifier;
// Text feeds the diversity penalty.
type Scored struct {
	Key   string
	Score float64
	Text  string
}

// Select picks up to k items from the ranked list. The pool is the
// first TopK·CandidateMultiplier entries; each pick maximizes
// score/temperature − diversity·maxJaccard(selected) + gumbel(seed, key),
// ties broken by first-encountered order.
func Select(ranked []Scored, k int, cfg Config, seed uint64) []Scored {
	if k <= 0 || len(ranked) == 0 {
		return nil
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultConfig().Temperature
	}
	if cfg.TopK < 1 {
		cfg.TopK = k
	}
	if cfg.CandidateMultiplier < 1 {
		cfg.CandidateMultiplier = 1
	}
	if cfg.Diversity < 0 {
		cfg.Diversity = 0
	}
	if cfg.Diversity > 1 {
		cfg.Diversity = 1
	}

	poolSize := cfg.TopK * cfg.CandidateMultiplier
	if poolSize > len(ranked) {
		poolSize = len(ranked)
	}
	pool := ranked[:poolSize]
	if k > len(pool) {
		k = len(pool)
	}

	// Noise is fixed per (seed, key) pair, computed up front.
	noise := make([]float64, len(pool))
	for i, item := range pool {
		noise[i] = gumbel(Mix64(seed, StableHash(item.Key)))
	}

	var tokens []map[string]struct{} // lazily filled per candidate
	tokens = make([]map[string]struct{}, len(pool))
	tokensOf := func(i int) map[string]struct{} {
		if tokens[i] == nil {
			tokens[i] = diversityTokens(pool[i].Text)
		}
		return tokens[i]
	}

	used := make([]bool, len(pool))
	var selectedIdx []int
	out := make([]Scored, 0, k)

	for len(out) < k {
		bestIdx := -1
		bestVal := math.Inf(-1)
		for i := range pool {
			if used[i] {
				continue
			}
			val := pool[i].Score/cfg.Temperature + noise[i]
			if cfg.Diversity > 0 && len(selectedIdx) > 0 {
				maxSim := 0.0
				for _, j := range selectedIdx {
					sim := jaccard(tokensOf(i), tokensOf(j))
					if sim > maxSim {
						maxSim = sim
					}
				}
				val -= cfg.Diversity * maxSim
			}
			// Strict > keeps the first-encountered item on ties.
			if val > bestVal {
				bestVal = val
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		used[bestIdx] = true
		selectedIdx = append(selectedIdx, bestIdx)
		out = append(out, pool[bestIdx])
	}

	return out
}

// StableHash is the 64-bit FNV-1a hash of a stable key.
func StableHash(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

// Mix64 combines two 64-bit values with a splitmix64-style finalizer.
func Mix64(a, b uint64) uint64 {
	z := a ^ (b + 0x9e3779b97f4a7c15 + (a << 6) + (a >> 2))
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// gumbel maps a hash to Gumbel noise: g = −ln(−ln(u)) with u ∈ (0,1)
// taken from the top 53 bits of the hash.
func gumbel(h uint64) float64 {
	u := float64(h>>11)/float64(1<<53) + 1e-12
	if u >= 1 {
		u = 1 - 1e-12
	}
	return -math.Log(-math.Log(u))
}

// diversityTokens extracts lowercase word-character runs of at least
// three runes.
func diversityTokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tok := b.String()
			if len([]rune(tok)) >= 3 {
				set[tok] = struct{}{}
			}
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
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
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
