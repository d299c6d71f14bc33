// Package audit records lab lifecycle events to a local SQLite database.
// The trail is append-only operational history; lab state itself lives in
// memory and is never restored from here.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Event represents one recorded lifecycle event
type Event struct {
	Timestamp time.Time
	LabID     string
	Owner     string
	Action    string
	Detail    string
}

// Log is a sqlite-backed append-only event log
type Log struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *logrus.Logger
}

// Open opens (creating if necessary) the audit database under dataDir
func Open(dataDir string, logger *logrus.Logger) (*Log, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "audit.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			lab_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			action TEXT NOT NULL,
			detail TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	return &Log{db: db, logger: logger}, nil
}

// Record appends an event to the log. The timestamp defaults to now when the
// caller leaves it zero.
func (l *Log) Record(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := l.db.Exec(
		"INSERT INTO audit_events (timestamp, lab_id, owner, action, detail) VALUES (?, ?, ?, ?, ?)",
		ts.Unix(), e.LabID, e.Owner, e.Action, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// Recent returns the most recent events, newest first
func (l *Log) Recent(limit int) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(
		"SELECT timestamp, lab_id, owner, action, detail FROM audit_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&ts, &e.LabID, &e.Owner, &e.Action, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// Close closes the underlying database
func (l *Log) Close() error {
	return l.db.Close()
}
