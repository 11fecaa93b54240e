// Package main provides the orchestrator-worker application entry point.
// It consumes stage jobs from Redpanda and runs them through the stage
// registry and orchestrator failure policy in queue-dispatched mode.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairyhunter13/po-workflow-core/internal/adapter/observability"
	"github.com/fairyhunter13/po-workflow-core/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/po-workflow-core/internal/app"
	"github.com/fairyhunter13/po-workflow-core/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	deps, err := app.Build(context.Background(), cfg, "po-workflow-orchestrator-worker")
	if err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer deps.Close()

	consumer, err := redpanda.NewConsumerWithConfig(
		cfg.KafkaBrokers,
		"po-workflow-stage-workers",
		"po-workflow-orchestrator-worker-consumer",
		deps.Stages,
		deps.Orchestrator,
		cfg.ConsumerMaxConcurrency/2+1,
		cfg.ConsumerMaxConcurrency,
	)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("consumer error", slog.Any("error", err))
		}
	}()

	checks := app.BuildReadinessChecks(cfg, deps.Pool, deps.KV)
	router := app.BuildControlRouter(cfg, checks, nil, nil)
	go func() {
		if err := http.ListenAndServe(":9090", router); err != nil {
			slog.Error("control surface server error", slog.Any("error", err))
		}
	}()

	slog.Info("orchestrator-worker started", slog.String("env", cfg.AppEnv))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
}
