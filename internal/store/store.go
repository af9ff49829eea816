package store

import (
	"database/sql"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the single SQLite-backed home for all pipeline state: day
// snapshots, the checksum ledger, per-client decision memory, active
// sets and run records. Opened in WAL mode so report reads do not block
// a sync in progress. Use ":memory:" for tests.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS catalog (
		day TEXT PRIMARY KEY,
		checksum TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		day TEXT NOT NULL,
		tender_id TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		PRIMARY KEY (day, tender_id)
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_tender ON snapshots(tender_id, day DESC);

	CREATE TABLE IF NOT EXISTS decisions (
		client TEXT NOT NULL,
		rules_hash TEXT NOT NULL,
		tender_id TEXT NOT NULL,
		relevant INTEGER NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (client, rules_hash, tender_id)
	);

	CREATE TABLE IF NOT EXISTS active (
		client TEXT NOT NULL,
		tender_id TEXT NOT NULL,
		added_at TEXT NOT NULL DEFAULT (datetime('now')),
		PRIMARY KEY (client, tender_id)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		client TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_runs_client ON runs(client, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// builder is the statement builder for the SQLite dialect.
var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)
