// Package history logs every query a client runs to a local SQLite
// database, for `prestocli history` style inspection. Grounded on the
// teacher's store.SQLiteStore bootstrap: pure-Go modernc.org/sqlite driver,
// WAL journal mode, a single open connection, and an embedded schema.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store is a local, append-mostly log of query executions.
type Store struct {
	db *sql.DB
}

// Open creates or attaches to the SQLite database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Entry is one recorded query execution.
type Entry struct {
	ID           string
	SQL          string
	Catalog      string
	Schema       string
	State        string
	SubmittedAt  time.Time
	FinishedAt   *time.Time
	RowCount     int
	ErrorMessage string
}

// RecordSubmitted inserts a new in-flight entry.
func (s *Store) RecordSubmitted(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history (id, sql_text, catalog, schema, state, submitted_at, row_count)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		e.ID, e.SQL, e.Catalog, e.Schema, e.State, e.SubmittedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("history: record submitted: %w", err)
	}
	return nil
}

// RecordFinished updates an entry with its terminal state.
func (s *Store) RecordFinished(ctx context.Context, id, state string, rowCount int, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE query_history SET state = ?, finished_at = ?, row_count = ?, error_message = ? WHERE id = ?`,
		state, time.Now().Unix(), rowCount, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("history: record finished: %w", err)
	}
	return nil
}

// Recent returns the most recently submitted entries, newest first, capped
// at limit.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sql_text, catalog, schema, state, submitted_at, finished_at, row_count, error_message
		 FROM query_history ORDER BY submitted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e             Entry
			submittedUnix int64
			finishedUnix  sql.NullInt64
			errMsg        sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SQL, &e.Catalog, &e.Schema, &e.State,
			&submittedUnix, &finishedUnix, &e.RowCount, &errMsg); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		e.SubmittedAt = time.Unix(submittedUnix, 0)
		if finishedUnix.Valid {
			t := time.Unix(finishedUnix.Int64, 0)
			e.FinishedAt = &t
		}
		e.ErrorMessage = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}
