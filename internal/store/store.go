package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS verdict_runs (
	id                 UUID PRIMARY KEY,
	batch_id           UUID,
	conversation_id    TEXT NOT NULL,
	client_name        TEXT NOT NULL DEFAULT '',
	success            BOOLEAN NOT NULL,
	skipped            BOOLEAN NOT NULL DEFAULT false,
	success_status     TEXT NOT NULL DEFAULT '',
	lead_status        TEXT NOT NULL DEFAULT '',
	message_count      INT NOT NULL DEFAULT 0,
	error_kind         TEXT NOT NULL DEFAULT '',
	error              TEXT NOT NULL DEFAULT '',
	report_paths       TEXT[] NOT NULL DEFAULT '{}',
	processed_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS verdict_runs_conversation_idx ON verdict_runs (conversation_id, processed_at DESC);

CREATE TABLE IF NOT EXISTS verdict_pending_improvements (
	token         TEXT PRIMARY KEY,
	improvements  TEXT[] NOT NULL,
	report_path   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the ledger tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
