// Command sourcecontrol runs the Source Control service (C10): opens the
// pull request for a human-approved plan and publishes pr.created.
// Grounded on original_source/services/github_service/{config.py,git_ops.py}.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/admadc/pipeline/internal/broker"
	"github.com/admadc/pipeline/internal/config"
	"github.com/admadc/pipeline/internal/contracts"
	"github.com/admadc/pipeline/internal/logging"
	"github.com/admadc/pipeline/internal/memoryclient"
	"github.com/admadc/pipeline/internal/metrics"
	"github.com/admadc/pipeline/internal/sourcecontrol"
	"github.com/admadc/pipeline/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sourcecontrol: fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewLogger("sourcecontrol")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "sourcecontrol", "")
	if err != nil {
		logger.Warn("sourcecontrol: telemetry setup failed, continuing without it", logging.Fields{"error": err.Error()})
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	memory := memoryclient.New(cfg.MemoryBaseURL, logger)
	metricsReg := metrics.New("sourcecontrol")

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHubToken})
	ghClient := github.NewClient(oauth2.NewClient(ctx, tokenSource))

	bus := broker.NewEventBus(cfg.AMQPURL, "sourcecontrol", broker.NewMemoryIdempotencyStore(), broker.WithLogger(logger))
	if err := bus.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer bus.Close()

	authorName := os.Getenv("GIT_AUTHOR_NAME")
	if authorName == "" {
		authorName = "ADMADC Bot"
	}
	authorEmail := os.Getenv("GIT_AUTHOR_EMAIL")
	if authorEmail == "" {
		authorEmail = "admadc@localhost"
	}

	svc := sourcecontrol.New(sourcecontrol.NewGitHubAdapter(ghClient), memory, bus, metricsReg, logger,
		sourcecontrol.WithAuthor(authorName, authorEmail))

	err = bus.Subscribe(ctx, "sourcecontrol.pr_human_approved", []string{string(contracts.EventPRHumanApproved)},
		func(ctx context.Context, env *contracts.Envelope) error {
			var payload contracts.PRApprovalPayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				return err
			}
			return svc.HandlePRHumanApproved(ctx, payload)
		}, cfg.MsgMaxRetries, cfg.RetryDelayBase)
	if err != nil {
		return fmt.Errorf("subscribe pr.human_approved: %w", err)
	}

	logger.Info("sourcecontrol: ready", logging.Fields{})
	<-ctx.Done()
	return nil
}
