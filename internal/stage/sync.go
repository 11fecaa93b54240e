package stage

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// SyncStage implements the shopify_sync stage: pushes each product draft
// to the external storefront sink and records the assigned external id.
// A draft whose push fails is logged and skipped, not retried; only when
// no draft syncs at all does the stage return a transient error.
type SyncStage struct {
	Drafts domain.ProductDraftRepository
	Sink   domain.ExternalSink
	KV     domain.KVStore
}

// Stage identifies this processor as shopify_sync.
func (SyncStage) Stage() domain.WorkflowStage { return domain.StageShopifySync }

// Process pushes every draft belonging to the workflow's purchase order to
// the external sink.
func (s *SyncStage) Process(ctx domain.Context, job domain.StageJob) (domain.StageResult, error) {
	tracer := otel.Tracer("stage.shopify_sync")
	ctx, span := tracer.Start(ctx, "SyncStage.Process")
	defer span.End()

	if job.PurchaseOrderID == nil {
		return domain.StageResult{}, domain.NewStageError(domain.StageShopifySync, domain.KindNonFatal,
			fmt.Errorf("op=stage.sync: %w", domain.ErrInvalidArgument))
	}

	drafts, err := s.Drafts.ListByPurchaseOrder(ctx, *job.PurchaseOrderID)
	if err != nil {
		return domain.StageResult{}, domain.NewStageError(domain.StageShopifySync, domain.KindTransient, fmt.Errorf("op=stage.sync.list_drafts: %w", err))
	}

	synced := 0
	for _, d := range drafts {
		externalID, err := s.Sink.PushProduct(ctx, d)
		if err != nil {
			slog.Warn("stage.sync: failed to push draft, skipping",
				slog.String("draft_id", d.ID), slog.Any("error", err))
			continue
		}
		if err := s.Drafts.AttachShopifyID(ctx, d.ID, externalID); err != nil {
			slog.Warn("stage.sync: failed to attach shopify id", slog.String("draft_id", d.ID), slog.Any("error", err))
			continue
		}
		synced++
	}

	if len(drafts) > 0 && synced == 0 {
		return domain.StageResult{}, domain.NewStageError(domain.StageShopifySync, domain.KindTransient,
			fmt.Errorf("op=stage.sync: no drafts synced of %d", len(drafts)))
	}

	if s.KV != nil {
		event := domain.ProgressEvent{
			WorkflowID: job.WorkflowID,
			MerchantID: job.MerchantID,
			Stage:      domain.StageShopifySync,
			Type:       domain.ProgressStageCompleted,
			Message:    fmt.Sprintf("%d/%d drafts synced", synced, len(drafts)),
			OccurredAt: time.Now().UTC(),
		}
		if err := s.KV.Publish(ctx, progressChannel(job.MerchantID), event); err != nil {
			slog.Warn("stage.sync: failed to publish progress event", slog.Any("error", err))
		}
	}

	return domain.StageResult{PurchaseOrderID: job.PurchaseOrderID, MerchantID: job.MerchantID}, nil
}
