// Package main provides the tick-dispatcher application entry point. It
// runs the periodic discovery-dedup-enqueue-janitor cycle (C8) on a fixed
// interval and exposes a control surface for ops and manual triggering.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairyhunter13/po-workflow-core/internal/adapter/observability"
	"github.com/fairyhunter13/po-workflow-core/internal/app"
	"github.com/fairyhunter13/po-workflow-core/internal/config"
	"github.com/fairyhunter13/po-workflow-core/internal/service/ratelimiter"
	"github.com/fairyhunter13/po-workflow-core/internal/tick"
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

	deps, err := app.Build(context.Background(), cfg, "po-workflow-tick-dispatcher")
	if err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer deps.Close()

	dispatcher := tick.New(deps.Uploads, deps.Orchestrator, deps.Janitor, deps.Workflows)
	dispatcher.Interval = cfg.TickInterval
	dispatcher.Budget = cfg.TickBudget

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go dispatcher.Run(ctx)

	limiter := ratelimiter.NewRedisLuaLimiter(deps.Redis, deps.Pool, map[string]ratelimiter.BucketConfig{
		"tick": ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitPerMin),
	})

	checks := app.BuildReadinessChecks(cfg, deps.Pool, deps.KV)
	router := app.BuildControlRouter(cfg, checks, dispatcher.Tick, limiter)
	go func() {
		if err := http.ListenAndServe(":9090", router); err != nil {
			slog.Error("control surface server error", slog.Any("error", err))
		}
	}()

	slog.Info("tick-dispatcher started", slog.String("env", cfg.AppEnv), slog.Duration("interval", dispatcher.Interval))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
}
