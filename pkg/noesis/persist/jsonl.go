// Package persist reads and writes statements as JSON Lines: one JSON
// object per line, snapshots sorted by id. The long-term memory uses
// the same layout in a separate file.
package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cognicore/noesis/pkg/noesis/store"
)

// WriteStatements writes one JSON object per line.
func WriteStatements(w io.Writer, sts []store.Statement) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, st := range sts {
		if err := enc.Encode(st); err != nil {
			return fmt.Errorf("encode statement %s: %w", st.ID, err)
		}
	}
	return bw.Flush()
}

// ReadStatements parses a JSONL stream. Blank lines are skipped;
// malformed lines fail with their line number.
func ReadStatements(r io.Reader) ([]store.Statement, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out []store.Statement
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var st store.Statement
		if err := json.Unmarshal([]byte(line), &st); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		out = append(out, st)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveFile writes a snapshot to path, replacing any existing file.
func SaveFile(path string, sts []store.Statement) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteStatements(f, sts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads statements from path. A missing file is not an
// error; it yields an empty slice.
func LoadFile(path string) ([]store.Statement, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ReadStatements(f)
}
