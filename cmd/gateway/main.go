// Command gateway runs the Gateway service (C8): the frontend's single
// entry point, broadcasting bus events over WebSocket and holding PRs for
// human approval. Grounded on original_source/services/gateway_service/main.py.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/admadc/pipeline/internal/broker"
	"github.com/admadc/pipeline/internal/config"
	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/gateway"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway: fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewLogger("gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "gateway", "")
	if err != nil {
		logger.Warn("gateway: telemetry setup failed, continuing without it", logging.Fields{"error": err.Error()})
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	memory := memoryclient.New(cfg.MemoryBaseURL, logger)
	ws := gateway.NewConnectionManager(logger)

	bus := broker.NewEventBus(cfg.AMQPURL, "gateway", broker.NewMemoryIdempotencyStore(), broker.WithLogger(logger))
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer bus.Close()

	svc := gateway.New(memory, bus, ws, logger)

	if err := bus.Subscribe(ctx, "gateway.security_approved", []string{string(contracts.EventSecurityApproved)},
		func(ctx context.Context, env *contracts.Envelope) error {
			var payload contracts.SecurityResultPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return err
			}
			return svc.HandleSecurityApproved(ctx, payload)
		}, cfg.MsgMaxRetries, cfg.RetryDelayBase); err != nil {
		return fmt.Errorf("subscribe security.approved: %w", err)
	}

	if err := bus.Subscribe(ctx, "gateway.all_events", []string{"#"},
		svc.HandleAnyEvent, cfg.MsgMaxRetries, cfg.RetryDelayBase); err != nil {
		return fmt.Errorf("subscribe all events: %w", err)
	}

	plannerBase := os.Getenv("PLANNER_BASE_URL")
	if plannerBase == "" {
		plannerBase = "http://localhost:8091"
	}

	server := gateway.NewServer(svc, plannerBase, cfg.MemoryBaseURL, gateway.DefaultCORSConfig(), logger)
	httpServer := &http.Server{Addr: cfg.GatewayHTTPAddr, Handler: server, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway: listening", logging.Fields{"addr": cfg.GatewayHTTPAddr})
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
