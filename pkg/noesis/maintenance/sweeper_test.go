package maintenance

import (
	"testing"

	"github.com/cognicore/noesis/pkg/noesis/store"
)

const baseTime = int64(1_700_000_000_000)

func sweepStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(store.DefaultConfig(), nil)
	s.SetClock(func() int64 { return baseTime })
	return s
}

func TestSweepRemovesExpired(t *testing.T) {
	s := sweepStore(t)
	s.Upsert(store.Statement{ID: "live", Text: "still fresh content", Weight: 1, Confidence: 1})
	s.Upsert(store.Statement{ID: "dead", Text: "already expired content", Weight: 1, Confidence: 1, ExpiresAt: baseTime - 1})

	res, err := (&Sweeper{Store: s, Cfg: DefaultConfig()}).Sweep(baseTime)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Expired != 1 {
		t.Errorf("expired = %d, want 1", res.Expired)
	}
	if _, ok := s.Get("dead"); ok {
		t.Error("expired statement survived the sweep")
	}
	if _, ok := s.Get("live"); !ok {
		t.Error("live statement removed")
	}
}

func TestSweepDecaysStaleLearned(t *testing.T) {
	s := sweepStore(t)
	old := baseTime - 90*24*3600*1000
	s.Upsert(store.Statement{
		ID: "learn:doc:1", Text: "stale learned statement text",
		Type: "learned", Weight: 2, Confidence: 1,
		CreatedAt: old, UpdatedAt: old,
	})
	s.Upsert(store.Statement{
		ID: "fact:1", Text: "plain facts never decay",
		Type: "fact", Weight: 2, Confidence: 1,
		CreatedAt: old, UpdatedAt: old,
	})

	res, err := (&Sweeper{Store: s, Cfg: DefaultConfig()}).Sweep(baseTime)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Decayed != 1 {
		t.Errorf("decayed = %d, want 1", res.Decayed)
	}

	learned, _ := s.Get("learn:doc:1")
	if learned.Weight >= 2 {
		t.Errorf("stale learned weight did not decay: %f", learned.Weight)
	}
	fact, _ := s.Get("fact:1")
	if fact.Weight != 2 {
		t.Errorf("fact weight changed: %f", fact.Weight)
	}
}

func TestSweepDropsBelowFloor(t *testing.T) {
	s := sweepStore(t)
	old := baseTime - 90*24*3600*1000
	s.Upsert(store.Statement{
		ID: "learn:doc:2", Text: "nearly weightless learned statement",
		Type: "learned", Weight: 0.05, Confidence: 1,
		CreatedAt: old, UpdatedAt: old,
	})

	res, err := (&Sweeper{Store: s, Cfg: DefaultConfig()}).Sweep(baseTime)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", res.Dropped)
	}
	if s.Size() != 0 {
		t.Errorf("size = %d", s.Size())
	}
}

func TestSweepNilStore(t *testing.T) {
	if _, err := (&Sweeper{}).Sweep(baseTime); err == nil {
		t.Error("nil store should error")
	}
}
