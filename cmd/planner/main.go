// Command planner runs the Planner service (C4): decomposes prompts into
// tasks and reacts to replanner-suggested revisions. Grounded on
// original_source/services/meta_planner/main.py.
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
	"github.com/admadc/pipeline/internal/llmadapter"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/planner"
	"github.com/admadc/pipeline/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "planner: fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewLogger("planner")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "planner", "")
	if err != nil {
		logger.Warn("planner: telemetry setup failed, continuing without it", logging.Fields{"error": err.Error()})
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	llm := newLLMProvider(cfg)
	memory := memoryclient.New(cfg.MemoryBaseURL, logger)

	bus := broker.NewEventBus(cfg.AMQPURL, "planner", broker.NewMemoryIdempotencyStore(), broker.WithLogger(logger))
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer bus.Close()

	svc := planner.New(llm, memory, bus, logger, cfg.PlanIdempotencyTTL)

	err = bus.Subscribe(ctx, "planner.plan_revision_suggested", []string{string(contracts.EventPlanRevisionSuggested)},
		func(ctx context.Context, env *contracts.Envelope) error {
			var payload contracts.PlanRevisionPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return err
			}
			return svc.ConsumeRevisionSuggested(ctx, payload)
		}, cfg.MsgMaxRetries, cfg.RetryDelayBase)
	if err != nil {
		return fmt.Errorf("subscribe plan.revision_suggested: %w", err)
	}

	err = bus.Subscribe(ctx, "planner.plan_requested", []string{string(contracts.EventPlanRequested)},
		func(ctx context.Context, env *contracts.Envelope) error {
			var payload contracts.PlanRequestedPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return err
			}
			_, err := svc.ExecutePlan(ctx, payload.UserPrompt, payload.ProjectName, payload.RepoURL)
			return err
		}, cfg.MsgMaxRetries, cfg.RetryDelayBase)
	if err != nil {
		return fmt.Errorf("subscribe plan.requested: %w", err)
	}

	server := planner.NewServer(svc, logger)
	addr := os.Getenv("PLANNER_HTTP_ADDR")
	if addr == "" {
		addr = ":8091"
	}
	httpServer := &http.Server{Addr: addr, Handler: server, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("planner: listening", logging.Fields{"addr": addr})
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
