// Package db connects to the optional Postgres database that records the
// domain event log.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the pool. Zero fields keep the defaults.
type PoolOptions struct {
	AppName  string
	MaxConns int32
}

// ConnectPostgres opens a pool sized for append-only event writes and pings
// it once.
func ConnectPostgres(ctx context.Context, dsn string, opts ...PoolOptions) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 4
	cfg.MinConns = 0
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.ConnConfig.RuntimeParams["application_name"] = "vector"
	for _, o := range opts {
		if o.AppName != "" {
			cfg.ConnConfig.RuntimeParams["application_name"] = o.AppName
		}
		if o.MaxConns > 0 {
			cfg.MaxConns = o.MaxConns
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	// fail at startup rather than on the first event
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", cfg.ConnConfig.Host, err)
	}

	return pool, nil
}
