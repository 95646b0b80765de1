// Package redis implements the queue, dedup, throttle, and pub/sub
// ports over a shared Redis connection. Everything here degrades
// rather than blocks: limiters fail open and the subscriber reconnects
// on its own.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pkgerrors "github.com/ArpitMishra17/active-graph-kg/pkg/errors"
)

const pingTimeout = 5 * time.Second

// NewClient opens a client from a redis:// URL and verifies the
// connection before handing it out.
func NewClient(ctx context.Context, url string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, pkgerrors.NewConfigError("invalid REDIS_URL").WithCause(err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, pkgerrors.NewDependencyError("redis", err)
	}

	logger.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return client, nil
}
