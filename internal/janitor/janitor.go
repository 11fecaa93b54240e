// Package janitor implements the stuck-workflow and orphaned-PurchaseOrder
// recovery sweep invoked by the Tick Dispatcher on every tick (C7).
package janitor

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	obsctx "github.com/fairyhunter13/po-workflow-core/internal/observability"
)

// DefaultStaleAfter is how long a workflow may sit in "processing" before
// the janitor considers it stuck.
const DefaultStaleAfter = 10 * time.Minute

// DefaultMaxReenqueue caps how many times a stuck workflow is re-enqueued
// before the janitor gives up and fails it outright.
const DefaultMaxReenqueue = 3

// DefaultPageSize bounds how many stuck/failed rows one sweep pass scans.
const DefaultPageSize = 100

// Janitor scans for stuck workflows and orphaned purchase orders.
type Janitor struct {
	Workflows      domain.WorkflowRepository
	PurchaseOrders domain.PurchaseOrderRepository
	Queue          domain.Queue

	StaleAfter   time.Duration
	MaxReenqueue int
	PageSize     int

	Now func() time.Time
}

// New constructs a Janitor with default thresholds.
func New(workflows domain.WorkflowRepository, purchaseOrders domain.PurchaseOrderRepository, queue domain.Queue) *Janitor {
	return &Janitor{
		Workflows:      workflows,
		PurchaseOrders: purchaseOrders,
		Queue:          queue,
		StaleAfter:     DefaultStaleAfter,
		MaxReenqueue:   DefaultMaxReenqueue,
		PageSize:       DefaultPageSize,
		Now:            time.Now,
	}
}

func (j *Janitor) pageSize() int {
	if j.PageSize > 0 {
		return j.PageSize
	}
	return DefaultPageSize
}

func (j *Janitor) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Sweep runs one recovery pass: re-enqueuing or failing stuck workflows,
// then finalizing purchase orders left behind by workflows that never
// completed.
func (j *Janitor) Sweep(ctx domain.Context) error {
	tracer := otel.Tracer("janitor")
	ctx, span := tracer.Start(ctx, "Janitor.Sweep")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)
	cutoff := j.now().Add(-j.StaleAfter)

	reenqueued, failed, err := j.sweepStuckWorkflows(ctx, cutoff)
	if err != nil {
		return err
	}
	finalized, err := j.finalizeOrphanedPurchaseOrders(ctx)
	if err != nil {
		return err
	}

	span.SetAttributes(
		attribute.Int("janitor.reenqueued", reenqueued),
		attribute.Int("janitor.failed", failed),
		attribute.Int("janitor.finalized", finalized),
	)
	lg.Info("janitor sweep complete",
		slog.Int("reenqueued", reenqueued),
		slog.Int("failed", failed),
		slog.Int("finalized", finalized))
	return nil
}

func (j *Janitor) sweepStuckWorkflows(ctx domain.Context, cutoff time.Time) (reenqueued, failed int, err error) {
	stuck, err := j.Workflows.ListStuck(ctx, cutoff, j.pageSize())
	if err != nil {
		return 0, 0, fmt.Errorf("janitor: list stuck workflows: %w", err)
	}

	lg := obsctx.LoggerFromContext(ctx)
	for _, w := range stuck {
		if w.RetryCount >= j.MaxReenqueue {
			if err := j.Workflows.MarkFailed(ctx, w.ID, "stuck in processing past re-enqueue limit"); err != nil {
				lg.Error("janitor mark failed error", slog.String("workflow_id", w.ID), slog.Any("error", err))
				continue
			}
			failed++
			continue
		}

		if _, err := j.Workflows.IncrementRetry(ctx, w.ID); err != nil {
			lg.Error("janitor increment retry error", slog.String("workflow_id", w.ID), slog.Any("error", err))
			continue
		}
		job := domain.StageJob{
			WorkflowID:      w.ID,
			MerchantID:      w.MerchantID,
			Stage:           w.CurrentStage,
			PurchaseOrderID: w.PurchaseOrderID,
			UploadID:        w.UploadID,
			ExecutionMode:   domain.ExecutionModeQueued,
			Attempt:         w.RetryCount + 1,
		}
		if _, err := j.Queue.EnqueueStage(ctx, job); err != nil {
			lg.Error("janitor re-enqueue error", slog.String("workflow_id", w.ID), slog.Any("error", err))
			continue
		}
		if err := j.Workflows.UpdateStage(ctx, w.ID, w.CurrentStage, domain.WorkflowProcessing); err != nil {
			lg.Error("janitor refresh stage error", slog.String("workflow_id", w.ID), slog.Any("error", err))
			continue
		}
		reenqueued++
	}
	return reenqueued, failed, nil
}

// finalizeOrphanedPurchaseOrders lists failed workflows (up to pageSize) and
// calls Finalize on each one's purchase order, if it has one. No line-item
// check is made first, and the repository's Finalize is a plain UPDATE
// without row locking.
func (j *Janitor) finalizeOrphanedPurchaseOrders(ctx domain.Context) (int, error) {
	failedWorkflows, err := j.Workflows.ListWithFilters(ctx, domain.WorkflowFilter{Status: domain.WorkflowFailed, Limit: j.pageSize()})
	if err != nil {
		return 0, fmt.Errorf("janitor: list failed workflows: %w", err)
	}

	lg := obsctx.LoggerFromContext(ctx)
	finalized := 0
	for _, w := range failedWorkflows {
		if w.PurchaseOrderID == nil {
			continue
		}
		if err := j.PurchaseOrders.Finalize(ctx, *w.PurchaseOrderID); err != nil {
			lg.Error("janitor finalize purchase order error",
				slog.String("purchase_order_id", *w.PurchaseOrderID), slog.Any("error", err))
			continue
		}
		finalized++
	}
	return finalized, nil
}
