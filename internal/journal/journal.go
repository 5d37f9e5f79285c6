// Package journal persists diagnostics to SQLite so worker history survives
// an owner crash: the control channel is ephemeral, the journal is not.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Griphcode/vscode/internal/diag"
)

// Entry is one persisted diagnostic.
type Entry struct {
	ID        string        `json:"id"`
	Severity  diag.Severity `json:"severity"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Journal is a SQLite-backed diagnostics log.
type Journal struct {
	db *sql.DB
}

// Open opens (and creates if needed) the journal database at path and
// ensures the required table exists.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	// created_at is UnixNano: integer ordering is strictly monotonic, which
	// a textual timestamp with variable-width fractional seconds is not.
	if _, err := db.ExecContext(pctx, `
CREATE TABLE IF NOT EXISTS diagnostics (
  id         TEXT PRIMARY KEY,
  severity   TEXT NOT NULL,
  message    TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create diagnostics table: %w", err)
	}
	if _, err := db.ExecContext(pctx, `
CREATE INDEX IF NOT EXISTS idx_diagnostics_created ON diagnostics(created_at);
`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create diagnostics index: %w", err)
	}

	return &Journal{db: db}, nil
}

// Append records one diagnostic.
func (j *Journal) Append(ctx context.Context, severity diag.Severity, message string) error {
	id := uuid.NewString()
	now := time.Now().UnixNano()

	_, err := j.db.ExecContext(ctx, `
INSERT INTO diagnostics(id, severity, message, created_at) VALUES(?, ?, ?, ?);
`, id, string(severity), message, now)
	if err != nil {
		return fmt.Errorf("append diagnostic: %w", err)
	}
	return nil
}

// Tail returns the most recent limit entries, newest first.
func (j *Journal) Tail(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx, `
SELECT id, severity, message, created_at
FROM diagnostics
ORDER BY created_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var sev string
		var created int64
		if err := rows.Scan(&e.ID, &sev, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		e.Severity = diag.Severity(sev)
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}
	return out, nil
}

// Prune deletes entries older than retention.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixNano()
	res, err := j.db.ExecContext(ctx, `
DELETE FROM diagnostics WHERE created_at < ?;
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune diagnostics: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune diagnostics: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// appendTimeout bounds a single sink write; a wedged disk must not stall the
// relay callbacks reporting through the sink.
const appendTimeout = 5 * time.Second

// Sink adapts the journal to the diagnostics sink interface. Write failures
// are logged nowhere and dropped: journaling is best-effort.
func (j *Journal) Sink() diag.Sink {
	return journalSink{j}
}

type journalSink struct {
	journal *Journal
}

func (s journalSink) record(severity diag.Severity, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	_ = s.journal.Append(ctx, severity, msg)
}

func (s journalSink) Trace(msg string) { s.record(diag.SeverityTrace, msg) }
func (s journalSink) Warn(msg string)  { s.record(diag.SeverityWarn, msg) }
func (s journalSink) Error(msg string) { s.record(diag.SeverityError, msg) }
