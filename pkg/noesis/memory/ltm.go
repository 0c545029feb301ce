// Package memory implements the bounded long-term memory: an episodic
// store of high-groundedness evidence, recalled by lexical scoring and
// evicted oldest-first when full.
package memory

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"github.com/cognicore/noesis/pkg/noesis/ingest"
	"github.com/cognicore/noesis/pkg/noesis/score"
	"github.com/cognicore/noesis/pkg/noesis/store"
)

// Config controls memory capacity and policy.
type Config struct {
	Capacity        int     // maximum entries; 0 disables writes
	RecallK         int     // entries returned per recall
	MinGroundedness float64 // write threshold
}

// DefaultConfig returns standard LTM settings.
func DefaultConfig() Config {
	return Config{
		Capacity:        4096,
		RecallK:         3,
		MinGroundedness: 0.45,
	}
}

// LTM is the process-wide episodic memory. It shares the Statement
// schema with the knowledge store and follows the same readers-writer
// discipline.
type LTM struct {
	cfg Config
	tok *ingest.Tokenizer

	mu     sync.RWMutex
	byID   map[string]store.Statement
	byHash map[uint32]string
}

// New creates an empty memory.
func New(cfg Config, tok *ingest.Tokenizer) *LTM {
	if tok == nil {
		tok = ingest.NewDefault()
	}
	if cfg.RecallK < 0 {
		cfg.RecallK = 0
	}
	return &LTM{
		cfg:    cfg,
		tok:    tok,
		byID:   make(map[string]store.Statement),
		byHash: make(map[uint32]string),
	}
}

// Write stores an evidence unit when groundedness clears the threshold
// and the text is not already present. At capacity the entry with the
// oldest updatedAt is evicted first. Reports whether a write happened.
func (m *LTM) Write(st store.Statement, groundedness float64, now int64) (bool, error) {
	if m.cfg.Capacity <= 0 {
		return false, nil
	}
	if groundedness < m.cfg.MinGroundedness {
		return false, nil
	}

	h := textHash(st.Text)
	if st.ID == "" {
		st.ID = fmt.Sprintf("ltm:%08x", h)
	}
	if err := st.Validate(now); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byHash[h]; ok {
		// Duplicate text: refresh recency only.
		entry := m.byID[existing]
		if now > entry.UpdatedAt {
			entry.UpdatedAt = now
			m.byID[existing] = entry
		}
		return false, nil
	}

	for len(m.byID) >= m.cfg.Capacity {
		m.evictOldestLocked()
	}

	st = st.Clone()
	st.UpdatedAt = now
	m.byID[st.ID] = st
	m.byHash[h] = st.ID
	return true, nil
}

// Recall scores the prompt against all entries with the given scorer
// and returns the top k (by score desc, id asc).
func (m *LTM) Recall(prompt string, sc score.Scorer, k int) []store.Statement {
	if k <= 0 {
		k = m.cfg.RecallK
	}
	if k <= 0 || strings.TrimSpace(prompt) == "" {
		return nil
	}
	if sc == nil {
		sc = score.NewTokenOverlap(m.tok)
	}

	qTokens := m.tok.Tokenize(prompt)
	if len(qTokens) == 0 {
		return nil
	}

	m.mu.RLock()
	entries := make([]store.Statement, 0, len(m.byID))
	for _, st := range m.byID {
		entries = append(entries, st)
	}
	m.mu.RUnlock()

	type scored struct {
		st store.Statement
		sc float64
	}
	ranked := make([]scored, 0, len(entries))
	for _, st := range entries {
		s := sc.Score(qTokens, st)
		if s <= 0 {
			continue
		}
		ranked = append(ranked, scored{st: st, sc: s})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].sc != ranked[j].sc {
			return ranked[i].sc > ranked[j].sc
		}
		return ranked[i].st.ID < ranked[j].st.ID
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]store.Statement, len(ranked))
	for i, r := range ranked {
		out[i] = r.st.Clone()
	}
	return out
}

// Size returns the number of stored entries.
func (m *LTM) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Snapshot returns all entries sorted by id, for export.
func (m *LTM) Snapshot() []store.Statement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]store.Statement, 0, len(m.byID))
	for _, st := range m.byID {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load replaces memory contents, for host-side restore.
func (m *LTM) Load(entries []store.Statement, now int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID = make(map[string]store.Statement, len(entries))
	m.byHash = make(map[uint32]string, len(entries))
	for _, st := range entries {
		if err := st.Validate(now); err != nil {
			return err
		}
		st = st.Clone()
		m.byID[st.ID] = st
		m.byHash[textHash(st.Text)] = st.ID
	}
	return nil
}

func (m *LTM) evictOldestLocked() {
	oldestID := ""
	var oldestAt int64
	for id, st := range m.byID {
		if oldestID == "" || st.UpdatedAt < oldestAt ||
			(st.UpdatedAt == oldestAt && id < oldestID) {
			oldestID = id
			oldestAt = st.UpdatedAt
		}
	}
	if oldestID == "" {
		return
	}
	evicted := m.byID[oldestID]
	delete(m.byID, oldestID)
	delete(m.byHash, textHash(evicted.Text))
}

func textHash(text string) uint32 {
	canon := strings.ToLower(strings.Join(strings.Fields(text), " "))
	return crc32.ChecksumIEEE([]byte(canon))
}
