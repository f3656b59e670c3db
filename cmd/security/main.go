// Command security runs the Security service (C7): deterministic,
// LLM-free scanning of PR-requested files. Grounded on
// original_source/services/security_service/main.py.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/admadc/pipeline/internal/broker"
	"github.com/admadc/pipeline/internal/config"
	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/metrics"
	"github.com/admadc/pipeline/internal/security"
	"github.com/admadc/pipeline/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "security: fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewLogger("security")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "security", "")
	if err != nil {
		logger.Warn("security: telemetry setup failed, continuing without it", logging.Fields{"error": err.Error()})
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	memory := memoryclient.New(cfg.MemoryBaseURL, logger)
	metricsReg := metrics.New("security")

	bus := broker.NewEventBus(cfg.AMQPURL, "security", broker.NewMemoryIdempotencyStore(), broker.WithLogger(logger))
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer bus.Close()

	svc := security.New(memory, bus, metricsReg, logger)

	err = bus.Subscribe(ctx, "security.pr_requested", []string{string(contracts.EventPRRequested)},
		func(ctx context.Context, env *contracts.Envelope) error {
			var payload contracts.PRRequestedPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return err
			}
			return svc.HandlePRRequested(ctx, payload)
		}, cfg.MsgMaxRetries, cfg.RetryDelayBase)
	if err != nil {
		return fmt.Errorf("subscribe pr.requested: %w", err)
	}

	logger.Info("security: ready", logging.Fields{})
	<-ctx.Done()
	return nil
}
