// Package postgres is the Postgres implementation of the Store capability,
// adapted from the teacher's internal/repository package: a pgxpool.Pool
// wrapper with typed query helpers, upsert-on-conflict patterns, and a
// single-file schema migration applied with pool.Exec.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a pgxpool.Pool and implements store.Store.
type Store struct {
	db *pgxpool.Pool
}

// New connects to databaseURL, applies the schema migration, and returns a
// ready Store.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if maxConnStr := os.Getenv("GRAPHIX_DB_MAX_CONNS"); maxConnStr != "" {
		if maxConn, err := strconv.Atoi(maxConnStr); err == nil {
			cfg.MaxConns = int32(maxConn)
		}
	}
	// Recycle connections periodically so a long-lived daemon doesn't hold
	// stale backends across database failovers.
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{db: pool}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() {
	s.db.Close()
}
