package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/dota-collector/pkg/model"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS raw_records (
		target     TEXT    NOT NULL,
		record_id  INTEGER NOT NULL,
		run_id     TEXT    NOT NULL,
		endpoint   TEXT    NOT NULL,
		fetched_at TEXT    NOT NULL,
		record     TEXT    NOT NULL,
		PRIMARY KEY (target, record_id)
	);
`

// SQLite stores envelopes in a local raw_records table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database file at path.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Write inserts the page in one transaction, ignoring records already stored.
func (s *SQLite) Write(ctx context.Context, page model.Page) error {
	if len(page.Records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Safe to call even after Commit()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO raw_records (target, record_id, run_id, endpoint, fetched_at, record)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(target, record_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, env := range page.Envelopes() {
		if _, err := stmt.ExecContext(ctx,
			env.Target, env.RecordID, env.RunID, env.Endpoint,
			env.FetchedAt.UTC().Format(time.RFC3339Nano), string(env.Record),
		); err != nil {
			return fmt.Errorf("insert record %d: %w", env.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the number of records stored for target.
func (s *SQLite) Count(ctx context.Context, target string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_records WHERE target = ?`, target).Scan(&count)
	return count, err
}

// Close implements Sink.
func (s *SQLite) Close() error {
	return s.db.Close()
}
