// Command qa runs the QA Reviewer service (C6): static lint plus LLM review
// of generated code, retry dispatch, and plan-ready PR aggregation.
// Grounded on original_source/services/qa_service/main.py.
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
	"github.com/admadc/pipeline/internal/qa"
	"github.com/admadc/pipeline/internal/telemetry"
	"github.com/admadc/pipeline/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "qa: fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewLogger("qa")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "qa", "")
	if err != nil {
		logger.Warn("qa: telemetry setup failed, continuing without it", logging.Fields{"error": err.Error()})
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	llm := newLLMProvider(cfg)
	memory := memoryclient.New(cfg.MemoryBaseURL, logger)
	metricsReg := metrics.New("qa")
	toolReg := tools.NewDevToolRegistry(cfg.RepoRoot)

	bus := broker.NewEventBus(cfg.AMQPURL, "qa", broker.NewMemoryIdempotencyStore(), broker.WithLogger(logger))
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer bus.Close()

	svc := qa.New(llm, memory, bus, toolReg, metricsReg, logger, cfg.MaxQARetries)

	err = bus.Subscribe(ctx, "qa.code_generated", []string{string(contracts.EventCodeGenerated)},
		func(ctx context.Context, env *contracts.Envelope) error {
			var payload contracts.CodeGeneratedPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return err
			}
			return svc.HandleCodeGenerated(ctx, payload)
		}, cfg.MsgMaxRetries, cfg.RetryDelayBase)
	if err != nil {
		return fmt.Errorf("subscribe code.generated: %w", err)
	}

	logger.Info("qa: ready", logging.Fields{})
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
