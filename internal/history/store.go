// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history keeps an index of finished captures in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/camshot/internal/persistence/sqlite"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS captures (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id       TEXT NOT NULL,
	camera       TEXT NOT NULL,
	player_url   TEXT NOT NULL,
	file         TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	strategy     TEXT NOT NULL DEFAULT '',
	attempts     INTEGER NOT NULL DEFAULT 0,
	kind         TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	relay_status INTEGER NOT NULL DEFAULT 0,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS captures_camera_created ON captures (camera, created_at DESC);
CREATE INDEX IF NOT EXISTS captures_created ON captures (created_at);
`

// Record is one finished capture. Kind and Error are empty on success.
type Record struct {
	ID          int64         `json:"id"`
	JobID       string        `json:"job_id"`
	Camera      string        `json:"camera"`
	PlayerURL   string        `json:"player_url"`
	File        string        `json:"file,omitempty"`
	URL         string        `json:"url,omitempty"`
	Strategy    string        `json:"strategy,omitempty"`
	Attempts    int           `json:"attempts"`
	Kind        string        `json:"kind,omitempty"`
	Error       string        `json:"error,omitempty"`
	RelayStatus int           `json:"relay_status,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Query filters Recent.
type Query struct {
	Camera string
	Limit  int
}

// Store is the SQLite-backed capture index.
type Store struct {
	db *sql.DB
}

// Open opens (and creates) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("history: create dir: %w", err)
	}
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Add inserts r. CreatedAt defaults to now.
func (s *Store) Add(ctx context.Context, r Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO captures (job_id, camera, player_url, file, url, strategy, attempts, kind, error, relay_status, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.JobID, r.Camera, r.PlayerURL, r.File, r.URL, r.Strategy, r.Attempts,
		r.Kind, r.Error, r.RelayStatus, r.Duration.Milliseconds(), r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (s *Store) Recent(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	const cols = `id, job_id, camera, player_url, file, url, strategy, attempts, kind, error, relay_status, duration_ms, created_at`
	var (
		rows *sql.Rows
		err  error
	)
	if q.Camera != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM captures WHERE camera = ? ORDER BY created_at DESC, id DESC LIMIT ?`, q.Camera, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM captures ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var (
			r          Record
			durationMS int64
			createdMS  int64
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.Camera, &r.PlayerURL, &r.File, &r.URL, &r.Strategy,
			&r.Attempts, &r.Kind, &r.Error, &r.RelayStatus, &durationMS, &createdMS); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.CreatedAt = time.UnixMilli(createdMS).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}

// Prune deletes records created before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM captures WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	return res.RowsAffected()
}

// Check verifies the database for the readiness probe.
func (s *Store) Check(ctx context.Context) error {
	return sqlite.QuickCheck(ctx, s.db)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
