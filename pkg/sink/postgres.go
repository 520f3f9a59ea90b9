package sink

import (
	"context"
	"fmt"

	"github.com/Sternrassler/dota-collector/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS raw_records (
		target     TEXT        NOT NULL,
		record_id  BIGINT      NOT NULL,
		run_id     TEXT        NOT NULL,
		endpoint   TEXT        NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL,
		record     JSONB       NOT NULL,
		PRIMARY KEY (target, record_id)
	)
`

// Postgres stores envelopes in the raw_records table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and creates the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Write inserts the page in one transaction. Records already stored for the
// target are left untouched.
func (s *Postgres) Write(ctx context.Context, page model.Page) error {
	if len(page.Records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, env := range page.Envelopes() {
		batch.Queue(`
			INSERT INTO raw_records (target, record_id, run_id, endpoint, fetched_at, record)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (target, record_id) DO NOTHING
		`, env.Target, env.RecordID, env.RunID, env.Endpoint, env.FetchedAt, string(env.Record))
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert records: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Count returns the number of records stored for target.
func (s *Postgres) Count(ctx context.Context, target string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_records WHERE target = $1`, target).Scan(&count)
	return count, err
}

// Close implements Sink.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
