// Package main provides the sequential-runner application entry point: a
// one-shot, serverless-style invocation that starts a workflow and drives
// it in-process through the stage chain (C6), handing remaining work back
// to the queue if the execution budget runs out.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/fairyhunter13/po-workflow-core/internal/adapter/observability"
	"github.com/fairyhunter13/po-workflow-core/internal/app"
	"github.com/fairyhunter13/po-workflow-core/internal/config"
	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	"github.com/fairyhunter13/po-workflow-core/internal/orchestrator"
	"github.com/fairyhunter13/po-workflow-core/internal/sequential"
)

func main() {
	uploadID := flag.String("upload-id", "", "upload id to process")
	merchantID := flag.String("merchant-id", "", "merchant id that owns the upload")
	fileURL := flag.String("file-url", "", "source file url for the upload, if not already on record")
	flag.Parse()

	if *uploadID == "" || *merchantID == "" {
		slog.Error("upload-id and merchant-id are required")
		os.Exit(1)
	}

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

	ctx := context.Background()

	deps, err := app.Build(ctx, cfg, "po-workflow-sequential-runner")
	if err != nil {
		slog.Error("bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer deps.Close()

	workflowID, err := deps.Orchestrator.StartWorkflow(ctx, orchestrator.StartInput{
		UploadID:      *uploadID,
		MerchantID:    *merchantID,
		FileURL:       *fileURL,
		ExecutionMode: domain.ExecutionModeSequential,
	})
	if err != nil {
		slog.Error("start workflow failed", slog.Any("error", err))
		os.Exit(1)
	}

	runner := sequential.New(deps.Stages, deps.Queue, deps.Workflows)

	job := domain.StageJob{
		WorkflowID:    workflowID,
		MerchantID:    *merchantID,
		Stage:         domain.StageAIParsing,
		UploadID:      *uploadID,
		ExecutionMode: domain.ExecutionModeSequential,
	}

	report, err := runner.Run(ctx, job)
	if err != nil {
		slog.Error("sequential run failed", slog.String("workflow_id", workflowID), slog.Any("error", err))
		os.Exit(1)
	}

	if report.HandedOff {
		slog.Info("sequential run handed off remaining work to queue", slog.String("workflow_id", workflowID))
		return
	}

	slog.Info("sequential run completed", slog.String("workflow_id", workflowID), slog.Bool("success", report.Success))
}
