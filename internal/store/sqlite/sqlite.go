// Package sqlite implements store.Store over modernc.org/sqlite (CGO-free),
// for single-host deployments that do not need a shared Postgres instance.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vrosnet/hadc/internal/store"
)

// DB implements store.Store for SQLite. DSN is a filesystem path; use
// ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worker_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			slot INTEGER NOT NULL,
			pid INTEGER NOT NULL,
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP NULL,
			running BOOLEAN NOT NULL,
			exit_err TEXT NULL,
			uniq TEXT NOT NULL UNIQUE,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_events_name_kind ON worker_events(name, kind);`,
		`CREATE INDEX IF NOT EXISTS idx_worker_events_running ON worker_events(running);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) RecordStart(ctx context.Context, rec store.Record) error {
	rec.Running = true
	rec.StoppedAt = sql.NullTime{}
	rec.ExitErr = sql.NullString{}
	rec.UpdatedAt = time.Now().UTC()
	uniq := rec.Key()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_events(name, kind, slot, pid, started_at, stopped_at, running, exit_err, uniq, updated_at)
		VALUES(?, ?, ?, ?, ?, NULL, 1, NULL, ?, ?)
		ON CONFLICT(uniq) DO UPDATE SET
			pid=excluded.pid,
			started_at=excluded.started_at,
			running=excluded.running,
			stopped_at=NULL,
			exit_err=NULL,
			updated_at=excluded.updated_at;`,
		rec.Name, rec.Kind, rec.Slot, rec.PID, rec.StartedAt.UTC(), uniq, rec.UpdatedAt)
	return err
}

func (s *DB) RecordStop(ctx context.Context, uniq string, stoppedAt time.Time, exitErr error) error {
	var errStr sql.NullString
	if exitErr != nil {
		errStr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE worker_events
		SET running=0, stopped_at=?, exit_err=?, updated_at=?
		WHERE uniq=?;`,
		stoppedAt.UTC(), errStr, time.Now().UTC(), uniq)
	return err
}

func (s *DB) UpsertStatus(ctx context.Context, rec store.Record) error {
	rec.UpdatedAt = time.Now().UTC()
	uniq := rec.Key()
	var stoppedAt any
	if rec.StoppedAt.Valid {
		stoppedAt = rec.StoppedAt.Time.UTC()
	}
	var exitErr any
	if rec.ExitErr.Valid {
		exitErr = rec.ExitErr.String
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_events(name, kind, slot, pid, started_at, stopped_at, running, exit_err, uniq, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uniq) DO UPDATE SET
			pid=excluded.pid,
			started_at=excluded.started_at,
			stopped_at=excluded.stopped_at,
			running=excluded.running,
			exit_err=excluded.exit_err,
			updated_at=excluded.updated_at;`,
		rec.Name, rec.Kind, rec.Slot, rec.PID, rec.StartedAt.UTC(), stoppedAt, rec.Running, exitErr, uniq, rec.UpdatedAt)
	return err
}

func (s *DB) GetByKind(ctx context.Context, name, kind string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, slot, pid, started_at, stopped_at, running, exit_err, updated_at
		FROM worker_events
		WHERE name=? AND kind=?
		ORDER BY started_at DESC
		LIMIT ?;`, name, kind, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *DB) GetRunning(ctx context.Context, name string) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, slot, pid, started_at, stopped_at, running, exit_err, updated_at
		FROM worker_events
		WHERE running=1 AND name=?
		ORDER BY updated_at DESC;`, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM worker_events WHERE running=0 AND updated_at < ?;`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.ID, &r.Name, &r.Kind, &r.Slot, &r.PID, &r.StartedAt, &r.StoppedAt, &r.Running, &r.ExitErr, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
