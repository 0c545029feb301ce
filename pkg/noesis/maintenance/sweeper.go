// Package maintenance provides offline housekeeping over the
// knowledge store: expired statements are removed and stale learned
// statements decay until they fall out.
package maintenance

import (
	"errors"

	"github.com/cognicore/noesis/pkg/noesis/store"
)

// Config controls sweeping behavior.
type Config struct {
	DecayFactor    float64 // multiplier applied to stale learned weights
	DecayAfterMs   int64   // statements untouched longer than this decay
	DropBelow      float64 // learned statements below this weight are removed
	LearnedTypeTag string  // statement type that is subject to decay
}

// DefaultConfig returns standard sweeper settings.
func DefaultConfig() Config {
	return Config{
		DecayFactor:    0.9,
		DecayAfterMs:   30 * 24 * 3600 * 1000,
		DropBelow:      0.05,
		LearnedTypeTag: "learned",
	}
}

// Sweeper replays the store snapshot and applies expiry and decay.
type Sweeper struct {
	Store *store.Store
	Cfg   Config
}

// Result summarizes one sweep.
type Result struct {
	Scanned int
	Expired int
	Decayed int
	Dropped int
}

// Sweep removes expired statements, decays stale learned weights and
// drops learned statements whose weight fell under the floor.
func (s *Sweeper) Sweep(now int64) (Result, error) {
	var res Result
	if s.Store == nil {
		return res, errors.New("sweeper: store is nil")
	}
	cfg := s.Cfg
	if cfg.DecayFactor <= 0 || cfg.DecayFactor > 1 {
		cfg.DecayFactor = DefaultConfig().DecayFactor
	}
	if cfg.LearnedTypeTag == "" {
		cfg.LearnedTypeTag = DefaultConfig().LearnedTypeTag
	}

	for _, st := range s.Store.SnapshotSorted() {
		res.Scanned++

		if st.IsExpired(now) {
			if s.Store.Delete(st.ID) {
				res.Expired++
			}
			continue
		}

		if st.Type != cfg.LearnedTypeTag {
			continue
		}
		if cfg.DecayAfterMs <= 0 || now-st.UpdatedAt < cfg.DecayAfterMs {
			continue
		}

		st.Weight *= cfg.DecayFactor
		if st.Weight < cfg.DropBelow {
			if s.Store.Delete(st.ID) {
				res.Dropped++
			}
			continue
		}
		if _, err := s.Store.Upsert(st); err != nil {
			return res, err
		}
		res.Decayed++
	}
	return res, nil
}
