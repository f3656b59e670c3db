// Command memory runs the Memory Facade service (C3): the single HTTP
// surface every other service talks to for durable event storage, task
// state, semantic search, and cache/idempotency primitives. Grounded on
// original_source/services/memory_service/main.py.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/admadc/pipeline/internal/config"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memorystore"
	"github.com/admadc/pipeline/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "memory: fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewLogger("memory")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "memory", "")
	if err != nil {
		logger.Warn("memory: telemetry setup failed, continuing without it", logging.Fields{"error": err.Error()})
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	events, err := memorystore.NewEventLog(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := events.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}

	cache, err := memorystore.NewCache(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	vector, err := memorystore.NewVectorIndex(cfg.QdrantHost, cfg.QdrantPort, memorystore.HashEmbedder{})
	if err != nil {
		logger.Warn("memory: qdrant unavailable, semantic search degraded", logging.Fields{"error": err.Error()})
	}

	facade := memorystore.NewFacade(events, cache, vector, logger)
	server := memorystore.NewServer(facade, logger)

	addr := os.Getenv("MEMORY_HTTP_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	httpServer := &http.Server{Addr: addr, Handler: server, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("memory: listening", logging.Fields{"addr": addr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
