package di

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/application/ports"
	"github.com/ArpitMishra17/active-graph-kg/application/services"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/connectors"
	redisinfra "github.com/ArpitMishra17/active-graph-kg/infrastructure/redis"
	"github.com/ArpitMishra17/active-graph-kg/interfaces/http/rest/handlers"
	"github.com/ArpitMishra17/active-graph-kg/pkg/observability"
)

// tracerFlushTimeout bounds the final span export on shutdown.
const tracerFlushTimeout = 5 * time.Second

// Container holds every long-lived component of one process. Both
// binaries build it through InitializeContainer, call Start for the
// background machinery, and Shutdown to unwind it.
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Collector
	Tracer  *observability.TracerProvider

	Pool  *pgxpool.Pool
	Redis redis.UniversalClient

	Queue     ports.IngestQueue
	Deduper   ports.WebhookDeduper
	Publisher ports.ConfigChangePublisher

	Catalog    *connectors.Catalog
	SNS        *connectors.SNSVerifier
	Payloads   *connectors.PayloadRefLoader
	Subscriber *redisinfra.Subscriber

	TuningWatcher *config.Watcher

	Nodes      *services.NodeService
	Edges      *services.EdgeService
	Retrieval  *services.RetrievalService
	Ask        *services.AskService
	Patterns   *services.PatternService
	Triggers   *services.TriggerEngine
	Refresh    *services.RefreshService
	Reporting  *services.ReportingService
	Connectors *services.ConnectorAdminService
	Rotation   *services.RotationService
	Purge      *services.PurgeService

	Migrate   handlers.MigrateFunc
	Scheduler *services.Scheduler
	Workers   []*services.Worker

	shutdownFunctions []func() error `wire:"-"`
}

// Start warms the connector cache and brings up the background
// machinery: tuning watcher, config-change subscriber, refresh
// scheduler when RUN_SCHEDULER is set, and the ingestion workers.
func (c *Container) Start(ctx context.Context) {
	c.addShutdownFunction(func() error {
		c.Pool.Close()
		return nil
	})
	c.addShutdownFunction(c.Redis.Close)
	if c.Tracer != nil {
		c.addShutdownFunction(func() error {
			flushCtx, cancel := context.WithTimeout(context.Background(), tracerFlushTimeout)
			defer cancel()
			return c.Tracer.Shutdown(flushCtx)
		})
	}

	if warmed, err := c.Catalog.Warm(ctx); err != nil {
		c.Logger.Warn("connector cache warm failed, starting cold", zap.Error(err))
	} else {
		c.Logger.Info("connector cache warmed", zap.Int("configs", warmed))
	}

	if c.TuningWatcher != nil {
		c.TuningWatcher.Start()
		c.addShutdownFunction(func() error {
			c.TuningWatcher.Stop()
			return nil
		})
	}

	subCtx, cancelSub := context.WithCancel(context.Background())
	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		c.Subscriber.Run(subCtx)
	}()

	if c.Config.Scheduler.Enabled {
		c.Scheduler.Start()
	}

	for _, w := range c.Workers {
		w.Start()
	}
	if n := len(c.Workers); n > 0 {
		c.Logger.Info("ingestion workers started", zap.Int("count", n))
	}

	// Stops registered so the reverse-order unwind quiesces the
	// subscriber first, then the scheduler, then drains the workers.
	if len(c.Workers) > 0 {
		workers := c.Workers
		c.addShutdownFunction(func() error {
			for _, w := range workers {
				w.Stop()
			}
			return nil
		})
	}
	if c.Config.Scheduler.Enabled {
		c.addShutdownFunction(func() error {
			c.Scheduler.Stop()
			return nil
		})
	}
	c.addShutdownFunction(func() error {
		cancelSub()
		<-subDone
		return nil
	})
}

// addShutdownFunction records a step for Shutdown to unwind.
func (c *Container) addShutdownFunction(fn func() error) {
	c.shutdownFunctions = append(c.shutdownFunctions, fn)
}

// Shutdown unwinds everything Start brought up, most recent first.
// Failed steps are logged and counted; the rest still run.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down container")

	var failures int
	for i := len(c.shutdownFunctions) - 1; i >= 0; i-- {
		if err := c.shutdownFunctions[i](); err != nil {
			failures++
			c.Logger.Error("shutdown step failed", zap.Error(err))
		}
	}
	if ctx.Err() != nil {
		c.Logger.Warn("shutdown ran past its deadline")
	}

	if failures > 0 {
		return fmt.Errorf("shutdown completed with %d errors", failures)
	}
	c.Logger.Info("container shutdown complete")
	return nil
}
