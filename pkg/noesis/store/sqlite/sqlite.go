// Package sqlite provides the host-side archive: durable storage for
// statement snapshots, long-term memory episodes and run records. The
// in-memory retrieval index is never persisted; the archive holds JSON
// rows that reload into fresh stores.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/cognicore/noesis/pkg/noesis/store"
)

// Archive is a sqlite-backed statement and episode archive.
type Archive struct {
	db      *sql.DB
	entropy *ulid.MonotonicEntropy
}

// Open opens (or creates) an archive with WAL mode enabled.
func Open(ctx context.Context, path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Archive{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS statements (
	id TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS episodes (
	id TEXT PRIMARY KEY,
	body TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	answer TEXT NOT NULL,
	score REAL NOT NULL,
	grounded REAL NOT NULL,
	iterations INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_statements_updated ON statements(updated_at);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveStatements upserts a snapshot into the statements table.
func (a *Archive) SaveStatements(ctx context.Context, sts []store.Statement) error {
	return a.saveRows(ctx, "statements", sts)
}

// LoadStatements returns all archived statements ordered by id.
func (a *Archive) LoadStatements(ctx context.Context) ([]store.Statement, error) {
	return a.loadRows(ctx, "statements")
}

// SaveEpisodes upserts long-term memory entries.
func (a *Archive) SaveEpisodes(ctx context.Context, sts []store.Statement) error {
	return a.saveRows(ctx, "episodes", sts)
}

// LoadEpisodes returns all archived episodes ordered by id.
func (a *Archive) LoadEpisodes(ctx context.Context) ([]store.Statement, error) {
	return a.loadRows(ctx, "episodes")
}

// RunRecord summarizes one thinking request for the archive.
type RunRecord struct {
	ID           string
	Prompt       string
	Answer       string
	Score        float64
	Groundedness float64
	Iterations   int
	CreatedAt    int64
}

// RecordRun stores a run summary and returns its generated id.
func (a *Archive) RecordRun(ctx context.Context, rec RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = ulid.MustNew(ulid.Now(), a.entropy).String()
	}
	_, err := a.db.ExecContext(ctx, `
INSERT INTO runs (id, prompt, answer, score, grounded, iterations, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	prompt = excluded.prompt,
	answer = excluded.answer,
	score = excluded.score,
	grounded = excluded.grounded,
	iterations = excluded.iterations`,
		rec.ID, rec.Prompt, rec.Answer, rec.Score, rec.Groundedness, rec.Iterations, rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return rec.ID, nil
}

// RecentRuns returns the latest k run records, newest first.
func (a *Archive) RecentRuns(ctx context.Context, k int) ([]RunRecord, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT id, prompt, answer, score, grounded, iterations, created_at
FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.Prompt, &rec.Answer, &rec.Score,
			&rec.Groundedness, &rec.Iterations, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a *Archive) saveRows(ctx context.Context, table string, sts []store.Statement) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, body, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`, table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range sts {
		body, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", st.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, st.ID, string(body), st.UpdatedAt); err != nil {
			return fmt.Errorf("upsert %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

func (a *Archive) loadRows(ctx context.Context, table string) ([]store.Statement, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("SELECT body FROM %s ORDER BY id", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Statement
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var st store.Statement
		if err := json.Unmarshal([]byte(body), &st); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
