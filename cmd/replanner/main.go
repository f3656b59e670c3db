// Command replanner runs the Replanner service (C9): a read-only critic
// that proposes plan revisions after qa.failed or security.blocked.
// Grounded on original_source/services/replanner_service/main.py.
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
	"github.com/admadc/pipeline/internal/llmadapter"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/metrics"
	"github.com/admadc/pipeline/internal/replanner"
	"github.com/admadc/pipeline/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "replanner: fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewLogger("replanner")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "replanner", "")
	if err != nil {
		logger.Warn("replanner: telemetry setup failed, continuing without it", logging.Fields{"error": err.Error()})
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	llm := newLLMProvider(cfg)
	memory := memoryclient.New(cfg.MemoryBaseURL, logger)
	metricsReg := metrics.New("replanner")

	bus := broker.NewEventBus(cfg.AMQPURL, "replanner", broker.NewMemoryIdempotencyStore(), broker.WithLogger(logger))
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer bus.Close()

	svc := replanner.New(llm, memory, bus, metricsReg, logger)

	err = bus.Subscribe(ctx, "replanner.outcomes",
		[]string{string(contracts.EventQAFailed), string(contracts.EventSecurityBlocked)},
		func(ctx context.Context, env *contracts.Envelope) error {
			switch env.EventType {
			case contracts.EventQAFailed:
				var payload contracts.QAResultPayload
				if err := json.Unmarshal(env.Payload, &payload); err != nil {
					return err
				}
				return svc.HandleQAFailed(ctx, payload)
			case contracts.EventSecurityBlocked:
				var payload contracts.SecurityResultPayload
				if err := json.Unmarshal(env.Payload, &payload); err != nil {
					return err
				}
				return svc.HandleSecurityBlocked(ctx, payload)
			default:
				return nil
			}
		}, cfg.MsgMaxRetries, cfg.RetryDelayBase)
	if err != nil {
		return fmt.Errorf("subscribe qa.failed/security.blocked: %w", err)
	}

	logger.Info("replanner: ready", logging.Fields{})
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
