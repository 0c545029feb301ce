package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "noesis.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tc := cfg.ThinkConfig()
	if tc.Orchestrator != "iterative" {
		t.Errorf("default orchestrator = %q", tc.Orchestrator)
	}
	if tc.Iterations < 1 || tc.Iterations > 8 {
		t.Errorf("default iterations out of range: %d", tc.Iterations)
	}
	sc := cfg.StoreConfig()
	if sc.K1 <= 0 || sc.B < 0 || sc.B > 1 {
		t.Errorf("default BM25 params wrong: k1=%f b=%f", sc.K1, sc.B)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
thinking:
  orchestrator: beam
  iterations: 6
  retrieve_k: 12
  target_score: 0.9
beam:
  width: 5
ltm:
  enabled: false
  recall_k: 7
retrieval:
  iterations: 2
  parallel: true
  temperature: 1.5
store:
  k1: 1.6
  mmr_lambda: 0.4
evaluator:
  min_groundedness: 0.5
tokenizer:
  min_token_len: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tc := cfg.ThinkConfig()
	if tc.Orchestrator != "beam" || tc.Iterations != 6 || tc.RetrieveK != 12 {
		t.Errorf("thinking overrides lost: %+v", tc)
	}
	if tc.TargetScore != 0.9 || tc.BeamWidth != 5 {
		t.Errorf("target/beam overrides lost: %+v", tc)
	}
	if tc.LTMEnabled {
		t.Error("ltm.enabled=false ignored")
	}
	if tc.LTMRecallK != 7 {
		t.Errorf("recall_k = %d", tc.LTMRecallK)
	}

	rc := cfg.RetrieveConfig()
	if rc.Iterations != 2 || !rc.Parallel || rc.Explore.Temperature != 1.5 {
		t.Errorf("retrieval overrides lost: %+v", rc)
	}

	sc := cfg.StoreConfig()
	if sc.K1 != 1.6 || sc.MMRLambda != 0.4 {
		t.Errorf("store overrides lost: %+v", sc)
	}

	ec := cfg.EvaluateConfig()
	if ec.MinGroundedness != 0.5 {
		t.Errorf("evaluator override lost: %+v", ec)
	}

	ic := cfg.TokenizerConfig()
	if ic.MinTokenLen != 3 {
		t.Errorf("tokenizer override lost: %+v", ic)
	}
}

func TestLoadClampsOutOfRange(t *testing.T) {
	path := writeConfig(t, `
thinking:
  iterations: 50
  retrieve_k: 9999
  patience: 100
ltm:
  capacity: 999999999
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tc := cfg.ThinkConfig()
	if tc.Iterations != 8 {
		t.Errorf("iterations not clamped: %d", tc.Iterations)
	}
	if tc.RetrieveK != 128 {
		t.Errorf("retrieve_k not clamped: %d", tc.RetrieveK)
	}
	if tc.Patience != 6 {
		t.Errorf("patience not clamped: %d", tc.Patience)
	}
	mc := cfg.MemoryConfig()
	if mc.Capacity != 200000 {
		t.Errorf("ltm capacity not clamped: %d", mc.Capacity)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "thinking: [not a map")
	if _, err := Load(path); err == nil {
		t.Error("malformed yaml should fail")
	}
}
