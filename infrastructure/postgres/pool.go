// Package postgres implements the graph and connector repositories on
// PostgreSQL with pgvector. Tenant isolation rides on row-level
// security policies keyed by a per-transaction session variable, with
// explicit tenant predicates in every query as a second fence.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

const (
	poolMaxConns        = 16
	poolMinConns        = 2
	poolMaxConnLifetime = time.Hour
	poolMaxConnIdle     = 10 * time.Minute
	poolPingTimeout     = 5 * time.Second
)

// NewPool opens a pgx connection pool against dsn and verifies
// connectivity. pgvector types are registered on every connection so
// embedding columns scan directly into vector values.
func NewPool(ctx context.Context, dsn string, logger *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, pkgerrors.NewConfigError("invalid database url").WithCause(err)
	}

	cfg.MaxConns = poolMaxConns
	cfg.MinConns = poolMinConns
	cfg.MaxConnLifetime = poolMaxConnLifetime
	cfg.MaxConnIdleTime = poolMaxConnIdle
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, pkgerrors.NewStorageError("create connection pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, poolPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, pkgerrors.NewStorageError("database unreachable", err)
	}

	logger.Info("database pool ready",
		zap.String("host", cfg.ConnConfig.Host),
		zap.Int32("max_conns", cfg.MaxConns))
	return pool, nil
}
