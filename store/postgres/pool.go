// Package postgres provides a PostgreSQL-backed ledger.TxStore.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig holds connection pool configuration.
type PoolConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	// StatementTimeout bounds every statement inside WithTx/ReadTx.
	StatementTimeout time.Duration
}

// DefaultPoolConfig returns sensible defaults for a single shop server.
func DefaultPoolConfig(dsn string) PoolConfig {
	return PoolConfig{
		DSN:               dsn,
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		StatementTimeout:  10 * time.Second,
	}
}

func newPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET application_name = 'aurum-ledger'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		restriction TEXT NOT NULL,
		default_calc_mode TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		direction TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		gross_weight TEXT NOT NULL,
		percent TEXT NOT NULL,
		calc_mode TEXT NOT NULL,
		making_charge TEXT NOT NULL,
		manual_cash TEXT NOT NULL,
		metal_type TEXT NOT NULL DEFAULT '',
		pure_gold TEXT NOT NULL,
		silver TEXT NOT NULL,
		cash TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		reversed BOOLEAN NOT NULL DEFAULT FALSE,
		reversed_at TIMESTAMPTZ,
		reversal_note TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_obligations_account
		ON obligations(account_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS obligation_revisions (
		id TEXT PRIMARY KEY,
		obligation_id TEXT NOT NULL REFERENCES obligations(id),
		account_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		before_gold TEXT NOT NULL,
		before_silver TEXT NOT NULL,
		before_cash TEXT NOT NULL,
		after_gold TEXT NOT NULL,
		after_silver TEXT NOT NULL,
		after_cash TEXT NOT NULL,
		note TEXT,
		at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_revisions_account
		ON obligation_revisions(account_id, at)`,
	`CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		obligation_id TEXT REFERENCES obligations(id),
		direction TEXT NOT NULL,
		mode TEXT NOT NULL,
		paid_gold TEXT NOT NULL,
		paid_silver TEXT NOT NULL,
		paid_cash TEXT NOT NULL,
		applied_gold TEXT NOT NULL,
		applied_silver TEXT NOT NULL,
		applied_cash TEXT NOT NULL,
		rate TEXT,
		conversion_metal TEXT NOT NULL DEFAULT '',
		reverses_id TEXT REFERENCES settlements(id),
		note TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_settlements_account
		ON settlements(account_id, created_at, id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_settlements_reverses
		ON settlements(reverses_id) WHERE reverses_id IS NOT NULL`,
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
