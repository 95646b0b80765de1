package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ArpitMishra17/active-graph-kg/infrastructure/config"
	"github.com/ArpitMishra17/active-graph-kg/infrastructure/di"
	"github.com/ArpitMishra17/active-graph-kg/interfaces/http/rest"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize container: %v", err)
	}
	container.Start(ctx)

	router, err := rest.NewRouter(rest.Deps{
		Config:     cfg,
		Logger:     container.Logger,
		Metrics:    container.Metrics,
		Redis:      container.Redis,
		Nodes:      container.Nodes,
		Edges:      container.Edges,
		Retrieval:  container.Retrieval,
		Ask:        container.Ask,
		Patterns:   container.Patterns,
		Triggers:   container.Triggers,
		Refresh:    container.Refresh,
		Reporting:  container.Reporting,
		Connectors: container.Connectors,
		Rotation:   container.Rotation,
		Purge:      container.Purge,
		Migrate:    container.Migrate,
		Queue:      container.Queue,
		Deduper:    container.Deduper,
		SNS:        container.SNS,
		Payloads:   container.Payloads,
		Subscriber: container.Subscriber,
	})
	if err != nil {
		log.Fatalf("failed to build router: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           router.Setup(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// No write deadline: /ask/stream holds the response open while
		// tokens arrive.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		container.Logger.Info("starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("server shutdown error", zap.Error(err))
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("container shutdown error", zap.Error(err))
	}

	if err := container.Logger.Sync(); err != nil {
		log.Printf("failed to sync logger: %v", err)
	}

	log.Println("server stopped")
}
