package stage

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// FinalizeStage implements the status_update stage: resolves the purchase
// order's terminal status from its extraction confidence and marks the
// workflow completed. This is the terminal stage of the normal pipeline;
// the janitor applies the same semantics out-of-band when recovering
// orphaned purchase orders (spec.md §4.7).
type FinalizeStage struct {
	PurchaseOrders domain.PurchaseOrderRepository
	Workflows      domain.WorkflowRepository
	KV             domain.KVStore
}

// Stage identifies this processor as status_update.
func (FinalizeStage) Stage() domain.WorkflowStage { return domain.StageStatusUpdate }

// Process resolves the purchase order's terminal status from its
// confidence and marks the workflow completed.
func (s *FinalizeStage) Process(ctx domain.Context, job domain.StageJob) (domain.StageResult, error) {
	tracer := otel.Tracer("stage.status_update")
	ctx, span := tracer.Start(ctx, "FinalizeStage.Process")
	defer span.End()

	if job.PurchaseOrderID != nil {
		po, err := s.PurchaseOrders.Get(ctx, *job.PurchaseOrderID)
		if err != nil {
			return domain.StageResult{}, domain.NewStageError(domain.StageStatusUpdate, domain.KindTransient, fmt.Errorf("op=stage.finalize.get_po: %w", err))
		}
		po.Status = domain.ResolveTerminalStatus(po)
		if err := s.PurchaseOrders.Update(ctx, po); err != nil {
			return domain.StageResult{}, domain.NewStageError(domain.StageStatusUpdate, domain.KindTransient, fmt.Errorf("op=stage.finalize.update_po: %w", err))
		}
	}

	if err := s.Workflows.MarkCompleted(ctx, job.WorkflowID); err != nil {
		return domain.StageResult{}, domain.NewStageError(domain.StageStatusUpdate, domain.KindTransient, fmt.Errorf("op=stage.finalize.mark_completed: %w", err))
	}

	if s.KV != nil {
		event := domain.ProgressEvent{
			WorkflowID: job.WorkflowID,
			MerchantID: job.MerchantID,
			Stage:      domain.StageStatusUpdate,
			Type:       domain.ProgressWorkflowDone,
			Message:    "workflow completed",
			OccurredAt: time.Now().UTC(),
		}
		if err := s.KV.Publish(ctx, progressChannel(job.MerchantID), event); err != nil {
			slog.Warn("stage.finalize: failed to publish progress event", slog.Any("error", err))
		}
	}

	return domain.StageResult{PurchaseOrderID: job.PurchaseOrderID, MerchantID: job.MerchantID, Done: true}, nil
}
