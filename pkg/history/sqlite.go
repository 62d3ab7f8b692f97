package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	command TEXT NOT NULL,
	response TEXT NOT NULL,
	module_id TEXT NOT NULL,
	success INTEGER NOT NULL,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_user_ts ON history (user_id, ts DESC);
`

// SQLiteStore persists conversation history in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the history database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append records one command/response pair.
func (s *SQLiteStore) Append(ctx context.Context, entry Entry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (user_id, command, response, module_id, success, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.Command, entry.Response, entry.ModuleID, boolToInt(entry.Success), ts.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// GetRecentHistory returns up to count entries for a user, newest first.
func (s *SQLiteStore) GetRecentHistory(ctx context.Context, userID string, count int) ([]Entry, error) {
	if count <= 0 {
		count = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, command, response, module_id, success, ts FROM history WHERE user_id = ? ORDER BY ts DESC, id DESC LIMIT ?`,
		userID, count,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var success int
		var ts int64
		if err := rows.Scan(&e.UserID, &e.Command, &e.Response, &e.ModuleID, &success, &ts); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Success = success != 0
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
