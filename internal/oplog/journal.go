package oplog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/krisshattanicole/kn3aux-code/opconsole"

	_ "modernc.org/sqlite"
)

// SQLiteJournal keeps every console entry in a local database, one row per
// entry, tagged with the session that produced it.
type SQLiteJournal struct {
	db      *sql.DB
	session string
}

// OpenJournal opens (or creates) the journal database at path.
func OpenJournal(path string, session string) (*SQLiteJournal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	j := &SQLiteJournal{db: db, session: session}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS console_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		seq INTEGER NOT NULL,
		captured_at TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL
	);`
	if _, err := j.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Record(ctx context.Context, e opconsole.LogEntry) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO console_log (session, seq, captured_at, severity, message) VALUES (?, ?, ?, ?, ?)`,
		j.session, e.Seq, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Severity.String(), e.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// JournalRecord is one persisted entry.
type JournalRecord struct {
	Session string
	Entry   opconsole.LogEntry
}

// Recent returns up to limit entries, oldest first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]JournalRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT session, seq, captured_at, message FROM (
			SELECT id, session, seq, captured_at, message FROM console_log ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []JournalRecord
	for rows.Next() {
		var (
			rec      JournalRecord
			captured string
		)
		if err := rows.Scan(&rec.Session, &rec.Entry.Seq, &captured, &rec.Entry.Message); err != nil {
			return nil, err
		}
		rec.Entry.Timestamp, _ = time.Parse(time.RFC3339Nano, captured)
		rec.Entry.Severity = opconsole.InferSeverity(rec.Entry.Message)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
