// Package sequential implements the in-process alternative to queue
// dispatch: stage processors run back-to-back within one execution,
// respecting a global time budget before handing remaining work back to
// the queue (C6).
package sequential

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	obsctx "github.com/fairyhunter13/po-workflow-core/internal/observability"
	"github.com/fairyhunter13/po-workflow-core/internal/stage"
)

// DefaultBudget leaves ~30s headroom under a 300s serverless execution
// limit.
const DefaultBudget = 270 * time.Second

// MaxStageAttempts bounds in-process retries of one stage before the
// runner gives up and fails the run.
const MaxStageAttempts = 5

// defaultStageBudgets mirrors the per-stage soft budgets.
var defaultStageBudgets = map[domain.WorkflowStage]time.Duration{
	domain.StageAIParsing:            90 * time.Second,
	domain.StageDatabaseSave:         10 * time.Second,
	domain.StageProductDraftCreation: 20 * time.Second,
	domain.StageImageAttachment:      40 * time.Second,
	domain.StageShopifySync:          60 * time.Second,
	domain.StageStatusUpdate:         5 * time.Second,
}

// StageTiming records how long one stage took within a run.
type StageTiming struct {
	Stage    domain.WorkflowStage
	Duration time.Duration
}

// Report summarizes a completed or handed-off sequential run.
type Report struct {
	Success   bool
	HandedOff bool
	Timings   []StageTiming
}

// Runner chains stage processors in-process, bounded by Budget.
type Runner struct {
	Stages       stage.Registry
	Queue        domain.Queue
	Workflows    domain.WorkflowRepository
	Budget       time.Duration
	StageBudgets map[domain.WorkflowStage]time.Duration

	// Now is overridable for deterministic tests.
	Now func() time.Time
	// Sleep is overridable so retry backoff doesn't block tests.
	Sleep func(time.Duration)
}

// New constructs a Runner with default budgets.
func New(stages stage.Registry, queue domain.Queue, workflows domain.WorkflowRepository) *Runner {
	return &Runner{
		Stages:       stages,
		Queue:        queue,
		Workflows:    workflows,
		Budget:       DefaultBudget,
		StageBudgets: defaultStageBudgets,
		Now:          time.Now,
		Sleep:        time.Sleep,
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) sleep(d time.Duration) {
	if r.Sleep != nil {
		r.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Run drives job through the stage chain until completion or until the
// remaining budget can't cover the next stage's estimate, at which point
// it hands the remaining stage off to the queue.
func (r *Runner) Run(ctx domain.Context, job domain.StageJob) (Report, error) {
	tr := otel.Tracer("sequential")
	ctx, span := tr.Start(ctx, "Runner.Run")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)
	start := r.now()
	var report Report

	current := job
	current.ExecutionMode = domain.ExecutionModeSequential

	for {
		estimate := r.StageBudgets[current.Stage]
		if r.now().Sub(start)+estimate > r.Budget {
			if err := r.handOff(ctx, current); err != nil {
				return report, err
			}
			lg.Info("sequential runner handed off remaining stage to queue",
				slog.String("workflow_id", current.WorkflowID),
				slog.String("stage", string(current.Stage)))
			report.HandedOff = true
			report.Success = true
			return report, nil
		}

		processor, ok := r.Stages.Get(current.Stage)
		if !ok {
			return report, fmt.Errorf("sequential: no processor registered for stage %s", current.Stage)
		}

		stageStart := r.now()
		result, err := processor.Process(ctx, current)
		report.Timings = append(report.Timings, StageTiming{Stage: current.Stage, Duration: r.now().Sub(stageStart)})

		if err != nil {
			if domain.IsNonFatal(err) {
				lg.Warn("sequential runner stage failed non-fatally, advancing",
					slog.String("stage", string(current.Stage)), slog.Any("error", err))
				result = domain.StageResult{MerchantID: current.MerchantID, PurchaseOrderID: current.PurchaseOrderID}
			} else if domain.IsRetryable(err, current.Attempt, MaxStageAttempts) {
				current.Attempt++
				r.sleep(backoffDelay(current.Attempt))
				continue
			} else {
				if r.Workflows != nil {
					_ = r.Workflows.MarkFailed(ctx, current.WorkflowID, err.Error())
				}
				report.Success = false
				return report, err
			}
		}

		next, ok := nextStage(current.Stage)
		if !ok || result.Done {
			if r.Workflows != nil {
				_ = r.Workflows.MarkCompleted(ctx, current.WorkflowID)
			}
			report.Success = true
			return report, nil
		}

		current = domain.StageJob{
			WorkflowID:      current.WorkflowID,
			MerchantID:      current.MerchantID,
			Stage:           next,
			PurchaseOrderID: result.PurchaseOrderID,
			UploadID:        current.UploadID,
			StageData:       result.NextStageData,
			ExecutionMode:   domain.ExecutionModeSequential,
		}
	}
}

func (r *Runner) handOff(ctx domain.Context, job domain.StageJob) error {
	handoff := job
	handoff.ExecutionMode = domain.ExecutionModeQueued
	if _, err := r.Queue.EnqueueStage(ctx, handoff); err != nil {
		return fmt.Errorf("sequential: hand off stage %s: %w", job.Stage, err)
	}
	if r.Workflows != nil {
		return r.Workflows.UpdateStage(ctx, job.WorkflowID, job.Stage, domain.WorkflowProcessing)
	}
	return nil
}

func nextStage(current domain.WorkflowStage) (domain.WorkflowStage, bool) {
	for i, s := range domain.StageOrder {
		if s == current && i+1 < len(domain.StageOrder) {
			return domain.StageOrder[i+1], true
		}
	}
	return "", false
}

// backoffDelay implements the 100ms x 2^n capped at 3s retry schedule for
// transient stage errors.
func backoffDelay(attempt int) time.Duration {
	d := 100 * time.Millisecond
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= 3*time.Second {
			return 3 * time.Second
		}
	}
	return d
}
