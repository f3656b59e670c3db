// Command developer runs the Developer service (C5): generates code for
// assigned tasks and publishes code.generated. Grounded on
// original_source/services/dev_service/main.py.
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
	"github.com/admadc/pipeline/internal/developer"
	"github.com/admadc/pipeline/internal/llmadapter"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/metrics"
	"github.com/admadc/pipeline/internal/telemetry"
	"github.com/admadc/pipeline/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "developer: fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewLogger("developer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "developer", "")
	if err != nil {
		logger.Warn("developer: telemetry setup failed, continuing without it", logging.Fields{"error": err.Error()})
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	llm := newLLMProvider(cfg)
	memory := memoryclient.New(cfg.MemoryBaseURL, logger)
	metricsReg := metrics.New("developer")
	toolReg := tools.NewDevToolRegistry(cfg.RepoRoot)

	bus := broker.NewEventBus(cfg.AMQPURL, "developer", broker.NewMemoryIdempotencyStore(), broker.WithLogger(logger))
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer bus.Close()

	svc := developer.New(llm, memory, bus, toolReg, metricsReg, logger)

	err = bus.Subscribe(ctx, "developer.task_assigned", []string{string(contracts.EventTaskAssigned)},
		func(ctx context.Context, env *contracts.Envelope) error {
			var payload contracts.TaskAssignedPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return err
			}
			return svc.HandleTaskAssigned(ctx, payload)
		}, cfg.MsgMaxRetries, cfg.RetryDelayBase)
	if err != nil {
		return fmt.Errorf("subscribe task.assigned: %w", err)
	}

	logger.Info("developer: ready", logging.Fields{})
	<-ctx.Done()
	return nil
}

func newLLMProvider(cfg *config.Config) llmadapter.Provider {
	if cfg.LLMBaseURL == "" {
		return &llmadapter.MockProvider{}
	}
	return llmadapter.NewHTTPProvider(llmadapter.NewConfig(
		llmadapter.WithBaseURL(cfg.LLMBaseURL),
		llmadapter.WithAPIKey(cfg.LLMAPIKey),
		llmadapter.WithModel(cfg.LLMModel),
	))
}
