package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Config controls tokenizer behavior.
type Config struct {
	MinTokenLen int  // tokens shorter than this are dropped
	MaxTokenLen int  // tokens longer than this are truncated
	StripMarks  bool // remove combining marks after decomposition
}

// DefaultConfig returns the standard tokenizer settings.
func DefaultConfig() Config {
	return Config{
		MinTokenLen: 2,
		MaxTokenLen: 64,
		StripMarks:  true,
	}
}

// Tokenizer converts text into an ordered sequence of normalized tokens.
// Normalization is NFKC with root-locale lowercasing; URLs, emails,
// #tags and @mentions are kept as whole tokens; inner connectors
// (- _ ' ’) are accepted between token characters so forms like
// foo-bar, it's and snake_case survive.
type Tokenizer struct {
	cfg       Config
	normalize transform.Transformer
}

// New creates a tokenizer with the given configuration.
func New(cfg Config) *Tokenizer {
	if cfg.MinTokenLen < 1 {
		cfg.MinTokenLen = 1
	}
	if cfg.MaxTokenLen < cfg.MinTokenLen {
		cfg.MaxTokenLen = cfg.MinTokenLen
	}

	var t transform.Transformer
	if cfg.StripMarks {
		t = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	} else {
		t = norm.NFKC
	}

	return &Tokenizer{cfg: cfg, normalize: t}
}

// NewDefault creates a tokenizer with DefaultConfig.
func NewDefault() *Tokenizer {
	return New(DefaultConfig())
}

// Tokenize splits text into normalized tokens in a single deterministic pass.
func (t *Tokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	normalized, _, err := transform.String(t.normalize, text)
	if err != nil {
		// Transform failures fall back to the raw input; the scanner
		// below still produces valid tokens.
		normalized = text
	}
	normalized = strings.ToLower(normalized)

	r := []rune(normalized)
	n := len(r)
	var tokens []string

	emit := func(tok string) {
		runeCount := len([]rune(tok))
		if runeCount < t.cfg.MinTokenLen {
			return
		}
		if runeCount > t.cfg.MaxTokenLen {
			tok = string([]rune(tok)[:t.cfg.MaxTokenLen])
		}
		tokens = append(tokens, tok)
	}

	i := 0
	for i < n {
		c := r[i]

		switch {
		case isTokenChar(c):
			if end, ok := urlEnd(r, i); ok {
				emit(string(r[i:end]))
				i = end
				continue
			}
			end := wordEnd(r, i)
			if end < n && r[end] == '@' && end+1 < n && isTokenChar(r[end+1]) {
				end = emailEnd(r, i)
				emit(trimTrailingPunct(string(r[i:end])))
				i = end
				continue
			}
			emit(string(r[i:end]))
			i = end

		case (c == '#' || c == '@') && i+1 < n && isTokenChar(r[i+1]):
			end := wordEnd(r, i+1)
			emit(string(r[i:end]))
			i = end

		default:
			i++
		}
	}

	return tokens
}

// wordEnd scans a maximal run of token characters starting at i,
// accepting inner connectors surrounded by token characters.
func wordEnd(r []rune, i int) int {
	n := len(r)
	j := i
	for j < n {
		c := r[j]
		if isTokenChar(c) {
			j++
			continue
		}
		if isConnector(c) && j > i && j+1 < n && isTokenChar(r[j+1]) {
			j++
			continue
		}
		break
	}
	return j
}

// urlEnd reports whether a URL starts at i and, if so, where it ends.
// URLs are consumed whole up to the next whitespace.
func urlEnd(r []rune, i int) (int, bool) {
	rest := string(r[i:])
	if !strings.HasPrefix(rest, "http://") &&
		!strings.HasPrefix(rest, "https://") &&
		!strings.HasPrefix(rest, "www.") {
		return 0, false
	}
	j := i
	for j < len(r) && !unicode.IsSpace(r[j]) {
		j++
	}
	return j, true
}

// emailEnd consumes an email-like run: local part, '@', and domain.
func emailEnd(r []rune, i int) int {
	n := len(r)
	j := i
	for j < n {
		c := r[j]
		if isTokenChar(c) || c == '@' || c == '.' || c == '+' || isConnector(c) {
			j++
			continue
		}
		break
	}
	return j
}

func trimTrailingPunct(s string) string {
	return strings.TrimRight(s, ".,;:!?")
}

func isTokenChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c)
}

func isConnector(c rune) bool {
	return c == '-' || c == '_' || c == '\'' || c == '’'
}
