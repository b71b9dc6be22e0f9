// Package postgres opens the pgx connection pool and owns the relational schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homefit-remodel/api/internal/platform/config"
)

const defaultConnectTimeout = 10 * time.Second

// Open parses the DSN, applies pool limits and pings the server before returning.
func Open(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	connectCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Schema creates the price table and trace tables when they are missing.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS price_table (
		item_code  TEXT        NOT NULL,
		grade      TEXT        NOT NULL,
		unit_price BIGINT      NOT NULL CHECK (unit_price >= 0),
		valid      BOOLEAN     NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (item_code, grade)
	)`,
	`CREATE TABLE IF NOT EXISTS quantity_rules (
		item_code  TEXT             PRIMARY KEY,
		basis      TEXT             NOT NULL,
		per_unit   DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ      NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS trace_sessions (
		session_id TEXT        PRIMARY KEY,
		last_index BIGINT      NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS trace_questions (
		session_id    TEXT        NOT NULL REFERENCES trace_sessions (session_id),
		idx           BIGINT      NOT NULL,
		question_code TEXT        NOT NULL,
		asked_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS trace_answers (
		session_id    TEXT        NOT NULL,
		question_code TEXT        NOT NULL,
		value         TEXT        NOT NULL,
		answered_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, question_code)
	)`,
}

// Migrate applies Schema statement by statement.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("postgres: pool is required")
	}
	for i, stmt := range Schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
