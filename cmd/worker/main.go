package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/di"
)

// shutdownBudget leaves room for a worker to finish its in-flight
// document before the process exits.
const shutdownBudget = 90 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.IngestWorkers < 1 {
		log.Fatalf("INGEST_WORKERS must be at least 1 for the worker binary")
	}

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize container: %v", err)
	}
	container.Start(ctx)

	container.Logger.Info("worker service started",
		zap.Int("workers", cfg.IngestWorkers),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
		zap.String("environment", cfg.Environment))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("shutting down worker service")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, shutdownBudget)
	defer shutdownCancel()

	if err := container.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("worker shutdown error", zap.Error(err))
	}

	if err := container.Logger.Sync(); err != nil {
		log.Printf("failed to sync logger: %v", err)
	}

	log.Println("worker service stopped")
}
