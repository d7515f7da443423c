// Package store persists pipeline results in SQLite.
//
// The store is write-mostly: a pass saves its findings, verdict,
// recommendations and notifications, and the only later mutations are the
// recommendation workflow and notification acknowledgement. The pipeline
// never reads history to make a decision.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/exploopio/sentinel/pkg/compress"
	"github.com/exploopio/sentinel/pkg/core"
	serrors "github.com/exploopio/sentinel/pkg/errors"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Config configures the SQLite store.
type Config struct {
	// Path to the database file; ":memory:" for an in-memory database.
	Path string `yaml:"path"`

	// CompressThreshold is the JSON size above which list columns
	// (evidence, steps, entities) are stored zstd-compressed.
	CompressThreshold int `yaml:"compress_threshold"`

	Logger core.Logger `yaml:"-"`
}

// Store is a SQLite-backed result store. Safe for concurrent use.
type Store struct {
	db        *sql.DB
	path      string
	threshold int
	logger    core.Logger
}

// Open opens (creating if needed) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	const op = "store.Open"

	if cfg.Path == "" {
		return nil, serrors.E(serrors.KindInvalidInput, op, "database path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, serrors.E(serrors.KindStorage, op, "create storage directory", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, serrors.E(serrors.KindStorage, op, "open database", err)
	}
	if cfg.Path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, serrors.E(serrors.KindStorage, op, "set pragma", err)
		}
	}

	s := &Store{
		db:        db,
		path:      cfg.Path,
		threshold: cfg.CompressThreshold,
		logger:    core.OrNop(cfg.Logger),
	}
	if s.threshold <= 0 {
		s.threshold = compress.DefaultThreshold
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, serrors.E(serrors.KindStorage, op, "init schema", err)
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	category TEXT NOT NULL,
	severity TEXT NOT NULL,
	confidence REAL NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	evidence BLOB,
	affected_entities BLOB,
	detector TEXT NOT NULL DEFAULT '',
	source_id TEXT NOT NULL DEFAULT '',
	source_kind TEXT NOT NULL DEFAULT '',
	channel TEXT NOT NULL DEFAULT '',
	locale TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS verdicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	policy TEXT NOT NULL,
	score REAL NOT NULL,
	tier TEXT NOT NULL,
	grade TEXT NOT NULL,
	risk_points REAL NOT NULL,
	contributing BLOB,
	computed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recommendations (
	id TEXT PRIMARY KEY,
	finding_id TEXT NOT NULL,
	category TEXT NOT NULL,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	steps BLOB,
	priority TEXT NOT NULL,
	locale TEXT NOT NULL,
	status TEXT NOT NULL,
	drafted INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	recipient_id TEXT NOT NULL,
	finding_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	channel TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL,
	message TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	read_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_findings_source ON findings(source_id);
CREATE INDEX IF NOT EXISTS idx_recommendations_finding ON recommendations(finding_id);
CREATE INDEX IF NOT EXISTS idx_recommendations_status ON recommendations(status);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, status);
CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at);
`

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return serrors.E(serrors.KindStorage, "store.Ping", err)
	}
	return nil
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// inTx runs fn in a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serrors.E(serrors.KindStorage, op, "begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrNotFound) || serrors.GetKind(err) != serrors.KindUnknown {
			return err
		}
		return serrors.E(serrors.KindStorage, op, err)
	}
	if err := tx.Commit(); err != nil {
		return serrors.E(serrors.KindStorage, op, "commit", err)
	}
	return nil
}

// encodeList stores a string list as (possibly compressed) JSON.
func (s *Store) encodeList(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return compress.Pack(data, s.threshold)
}

func decodeList(blob []byte) ([]string, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	data, err := compress.Unpack(blob)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
