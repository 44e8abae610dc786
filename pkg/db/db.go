package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Pragmas applied at open time. WAL lets the dashboard read the event log
// while the trading loop is writing; busy_timeout covers the brief lock
// handoff between them.
var openPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

// Database owns the SQLite handle holding order history, trade cycles and
// the risk-event log.
type Database struct {
	DB *sql.DB
}

// New opens the trading database at path, creating the file and its parent
// directory on first run. ":memory:" opens an ephemeral database for tests
// and dry runs.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer: risk events, orders and cycles all funnel through
	// one connection so WAL readers never contend with each other.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &Database{DB: db}, nil
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range openPragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Close releases the underlying handle. Safe on a nil receiver.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
