// Package activity records the pipeline's per-issue event history in a
// sqlite database under the project dotdir, for auditing and for the status
// command.
package activity

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one recorded pipeline event for an issue.
type Entry struct {
	ID        string
	Issue     string
	EventType string
	FromPhase string
	ToPhase   string
	Detail    string
	CreatedAt time.Time
}

// Event types.
const (
	EventPhaseChange = "phase_change"
	EventDivergence  = "divergence"
	EventGate        = "gate"
	EventStale       = "stale"
	EventMerge       = "merge"
	EventSession     = "session"
)

const schema = `
CREATE TABLE IF NOT EXISTS activity_log (
	id TEXT PRIMARY KEY,
	issue TEXT NOT NULL,
	event_type TEXT NOT NULL,
	from_phase TEXT NOT NULL DEFAULT '',
	to_phase TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_activity_issue ON activity_log(issue);
`

// Log is the sqlite-backed activity store.
type Log struct {
	conn *sql.DB
}

// Open opens (creating if needed) the activity database at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening activity database: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running schema migration: %w", err)
	}
	return &Log{conn: conn}, nil
}

func (l *Log) Close() error {
	return l.conn.Close()
}

// Record appends an event to the log.
func (l *Log) Record(issue, eventType, fromPhase, toPhase, detail string) error {
	_, err := l.conn.Exec(`
		INSERT INTO activity_log (id, issue, event_type, from_phase, to_phase, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), issue, eventType, fromPhase, toPhase, detail,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

// List returns the most recent entries for an issue, newest first.
func (l *Log) List(issue string, limit int) ([]Entry, error) {
	rows, err := l.conn.Query(`
		SELECT id, issue, event_type, from_phase, to_phase, detail, created_at
		FROM activity_log WHERE issue = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, issue, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListRecent returns the most recent entries across all issues.
func (l *Log) ListRecent(limit int) ([]Entry, error) {
	rows, err := l.conn.Query(`
		SELECT id, issue, event_type, from_phase, to_phase, detail, created_at
		FROM activity_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent activity: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		err := rows.Scan(&e.ID, &e.Issue, &e.EventType, &e.FromPhase, &e.ToPhase, &e.Detail, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
