package think

import "testing"

func TestDetectIntents(t *testing.T) {
	d := NewLexiconDetector()

	cases := map[string]string{
		"how do I configure the index":          "howto",
		"what is a knowledge store":             "question",
		"redis versus sqlite for this":          "compare",
		"the build fails with an error":         "troubleshoot",
		"hello there":                           "smalltalk",
		"the sky is blue":                       "statement",
		"statements carry weights and tags":     "statement",
		"is this thing on?":                     "question", // trailing question mark fallback
	}
	for in, want := range cases {
		if got := d.Detect(in); got != want {
			t.Errorf("Detect(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectEmpty(t *testing.T) {
	d := NewLexiconDetector()
	if got := d.Detect(""); got != "statement" {
		t.Errorf("empty input = %q", got)
	}
}

func TestDetectDeterministic(t *testing.T) {
	d := NewLexiconDetector()
	for i := 0; i < 5; i++ {
		if got := d.Detect("how do things compare when errors happen"); got != "howto" {
			t.Errorf("earliest entry should win, got %q", got)
		}
	}
}

func TestIntentCodes(t *testing.T) {
	for label, want := range map[string]int{
		"question": 1, "howto": 2, "compare": 3,
		"troubleshoot": 4, "smalltalk": 5, "statement": 0, "": 0,
	} {
		if got := intentCode(label); got != want {
			t.Errorf("intentCode(%q) = %d, want %d", label, got, want)
		}
	}
}

func TestCopyForDraftDeepCopiesTags(t *testing.T) {
	s := &ThoughtState{Seed: 1, Tags: map[string]string{"a": "1"}}
	c := s.CopyForDraft(3)

	c.Tags["a"] = "mutated"
	c.Tags["b"] = "new"
	if s.Tags["a"] != "1" {
		t.Error("draft copy mutated parent tags")
	}
	if _, ok := s.Tags["b"]; ok {
		t.Error("draft copy inserted into parent tags")
	}
	if c.DraftIndex != 3 {
		t.Errorf("draft index = %d", c.DraftIndex)
	}
}
