// Package store persists definitions, vehicle hierarchy and ingest jobs in
// Postgres. It implements knowledge.Store and adds the curation operations
// (verify, revise) the HTTP API exposes.
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
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Bootstrap creates the schema if it does not exist yet. Safe to call on
// every startup.
func (s *Store) Bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oems (
			id         text PRIMARY KEY,
			name       text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS models (
			id         text PRIMARY KEY,
			oem_id     text NOT NULL REFERENCES oems(id),
			name       text NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS model_years (
			id         text PRIMARY KEY,
			model_id   text NOT NULL REFERENCES models(id),
			year       int NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS vehicles (
			id            text PRIMARY KEY,
			model_year_id text REFERENCES model_years(id),
			vin           text NOT NULL DEFAULT '',
			created_at    timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id          uuid PRIMARY KEY,
			vehicle_id  text NOT NULL,
			status      text NOT NULL,
			error       text NOT NULL DEFAULT '',
			lines       int NOT NULL DEFAULT 0,
			decoded     int NOT NULL DEFAULT 0,
			messages    int NOT NULL DEFAULT 0,
			ecus        int NOT NULL DEFAULT 0,
			definitions int NOT NULL DEFAULT 0,
			created_at  timestamptz NOT NULL DEFAULT now(),
			updated_at  timestamptz NOT NULL DEFAULT now(),
			finished_at timestamptz
		)`,
		`CREATE TABLE IF NOT EXISTS definitions (
			id          uuid PRIMARY KEY,
			kind        text NOT NULL,
			identifier  text NOT NULL,
			level       text NOT NULL,
			scope_id    text NOT NULL,
			ecu_address text NOT NULL DEFAULT '',
			name        text NOT NULL DEFAULT '',
			is_verified boolean NOT NULL DEFAULT false,
			confidence  text NOT NULL,
			version     int NOT NULL DEFAULT 1,
			payload     jsonb,
			source      text NOT NULL DEFAULT '',
			created_at  timestamptz NOT NULL DEFAULT now(),
			updated_at  timestamptz NOT NULL DEFAULT now(),
			UNIQUE (kind, identifier, level, scope_id, ecu_address, version)
		)`,
		`CREATE INDEX IF NOT EXISTS definitions_scope_idx
			ON definitions (level, scope_id, kind)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
