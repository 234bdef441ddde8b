// Package snapshotdb persists the last published terminology snapshot to a
// local SQLite file so a restarted process can serve searches before the bulk
// load and the first synchronization have finished.
package snapshotdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is a persisted code entry.
type Entry struct {
	System     string
	Code       string
	Display    string
	Definition string
	Synonyms   []string
	Confidence *float64
	Origin     string
}

// Mapping is a persisted mapping between two code entries.
type Mapping struct {
	SourceSystem string
	SourceCode   string
	TargetSystem string
	TargetCode   string
	Confidence   float64
	Relation     string
	Origin       string
}

// Snapshot is the full persisted content of one published generation.
type Snapshot struct {
	Generation uint64
	SavedAt    time.Time
	Entries    []Entry
	Mappings   []Mapping
}

// Store is a single-file SQLite snapshot store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the snapshot database at path.
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing snapshot path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS snapshot_meta (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  generation INTEGER NOT NULL,
  saved_at_unix_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS code_entries (
  system TEXT NOT NULL,
  code TEXT NOT NULL,
  display TEXT NOT NULL,
  definition TEXT NOT NULL DEFAULT '',
  synonyms_json TEXT NOT NULL DEFAULT '[]',
  confidence REAL,
  origin TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (system, code)
);
CREATE TABLE IF NOT EXISTS mappings (
  source_system TEXT NOT NULL,
  source_code TEXT NOT NULL,
  target_system TEXT NOT NULL,
  target_code TEXT NOT NULL,
  confidence REAL NOT NULL,
  relation TEXT NOT NULL,
  origin TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (source_system, source_code, target_system, target_code)
);
`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot with snap in one transaction.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DELETE FROM code_entries`, `DELETE FROM mappings`, `DELETE FROM snapshot_meta`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
	}

	entryStmt, err := tx.PrepareContext(ctx, `
INSERT INTO code_entries (system, code, display, definition, synonyms_json, confidence, origin)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer entryStmt.Close()
	for _, e := range snap.Entries {
		syn := e.Synonyms
		if syn == nil {
			syn = []string{}
		}
		b, err := json.Marshal(syn)
		if err != nil {
			return err
		}
		var conf sql.NullFloat64
		if e.Confidence != nil {
			conf = sql.NullFloat64{Float64: *e.Confidence, Valid: true}
		}
		if _, err := entryStmt.ExecContext(ctx, e.System, e.Code, e.Display, e.Definition, string(b), conf, e.Origin); err != nil {
			return fmt.Errorf("save entry %s/%s: %w", e.System, e.Code, err)
		}
	}

	mapStmt, err := tx.PrepareContext(ctx, `
INSERT INTO mappings (source_system, source_code, target_system, target_code, confidence, relation, origin)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer mapStmt.Close()
	for _, m := range snap.Mappings {
		if _, err := mapStmt.ExecContext(ctx, m.SourceSystem, m.SourceCode, m.TargetSystem, m.TargetCode, m.Confidence, m.Relation, m.Origin); err != nil {
			return fmt.Errorf("save mapping %s/%s->%s/%s: %w", m.SourceSystem, m.SourceCode, m.TargetSystem, m.TargetCode, err)
		}
	}

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_meta (id, generation, saved_at_unix_ms) VALUES (1, ?, ?)`,
		int64(snap.Generation), savedAt.UnixMilli()); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return tx.Commit()
}

// Load returns the stored snapshot. The boolean is false when nothing has
// been saved yet.
func (s *Store) Load(ctx context.Context) (*Snapshot, bool, error) {
	var (
		gen     int64
		savedMs int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT generation, saved_at_unix_ms FROM snapshot_meta WHERE id = 1`).Scan(&gen, &savedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load meta: %w", err)
	}
	snap := &Snapshot{Generation: uint64(gen), SavedAt: time.UnixMilli(savedMs).UTC()}

	rows, err := s.db.QueryContext(ctx, `
SELECT system, code, display, definition, synonyms_json, confidence, origin
FROM code_entries ORDER BY system, code`)
	if err != nil {
		return nil, false, fmt.Errorf("load entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e    Entry
			syn  string
			conf sql.NullFloat64
		)
		if err := rows.Scan(&e.System, &e.Code, &e.Display, &e.Definition, &syn, &conf, &e.Origin); err != nil {
			return nil, false, err
		}
		if err := json.Unmarshal([]byte(syn), &e.Synonyms); err != nil {
			return nil, false, fmt.Errorf("entry %s/%s synonyms: %w", e.System, e.Code, err)
		}
		if len(e.Synonyms) == 0 {
			e.Synonyms = nil
		}
		if conf.Valid {
			c := conf.Float64
			e.Confidence = &c
		}
		snap.Entries = append(snap.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	mrows, err := s.db.QueryContext(ctx, `
SELECT source_system, source_code, target_system, target_code, confidence, relation, origin
FROM mappings ORDER BY source_system, source_code, target_system, target_code`)
	if err != nil {
		return nil, false, fmt.Errorf("load mappings: %w", err)
	}
	defer mrows.Close()
	for mrows.Next() {
		var m Mapping
		if err := mrows.Scan(&m.SourceSystem, &m.SourceCode, &m.TargetSystem, &m.TargetCode, &m.Confidence, &m.Relation, &m.Origin); err != nil {
			return nil, false, err
		}
		snap.Mappings = append(snap.Mappings, m)
	}
	if err := mrows.Err(); err != nil {
		return nil, false, err
	}
	return snap, true, nil
}
