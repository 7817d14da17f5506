package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/pm2ctl/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver,
// CGO-free). Path is a filesystem location; use ":memory:" for tests.
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
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS op_audit(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			op TEXT NOT NULL,
			name TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			exit_code INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			stderr TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_op_audit_name ON op_audit(name);`,
		`CREATE INDEX IF NOT EXISTS idx_op_audit_at ON op_audit(at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) RecordOp(ctx context.Context, rec store.Record) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO op_audit(op, name, success, exit_code, attempts, stderr, duration_ms, at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Op, rec.Name, rec.Success, rec.ExitCode, rec.Attempts, rec.Stderr,
		rec.Duration.Milliseconds(), at.UTC())
	return err
}

func (s *DB) Recent(ctx context.Context, name string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT op, name, success, exit_code, attempts, stderr, duration_ms, at
		FROM op_audit`
	args := []any{}
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Record
	for rows.Next() {
		var rec store.Record
		var durMS int64
		if err := rows.Scan(&rec.Op, &rec.Name, &rec.Success, &rec.ExitCode,
			&rec.Attempts, &rec.Stderr, &durMS, &rec.At); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durMS) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) Close() error { return s.db.Close() }
