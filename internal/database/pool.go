package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/config"
)

// NewPool 建立 pgxpool 連線池
//
// MaxConns 即服務同時處理請求的上限（每個請求最多一條連線）。
// tracer 為 nil 時不掛載查詢追蹤。
func NewPool(ctx context.Context, cfg *config.Config, tracer pgx.QueryTracer) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolConfig.MaxConns = cfg.Postgres.MaxConns
	poolConfig.MinConns = cfg.Postgres.MinConns
	if cfg.Postgres.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.Postgres.MaxConnLifetime
	}
	if cfg.Postgres.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.Postgres.MaxConnIdleTime
	}
	if tracer != nil {
		poolConfig.ConnConfig.Tracer = tracer
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}
