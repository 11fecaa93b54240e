package stage

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// ImagesStage implements the image_attachment stage. Per spec.md §4, this
// stage is always non-fatal: an ImageSource failure yields zero images but
// the workflow still advances to shopify_sync.
type ImagesStage struct {
	PurchaseOrders domain.PurchaseOrderRepository
	Drafts         domain.ProductDraftRepository
	Images         domain.ImageSource
	KV             domain.KVStore
}

// Stage identifies this processor as image_attachment.
func (ImagesStage) Stage() domain.WorkflowStage { return domain.StageImageAttachment }

// Process looks up one image URL per draft SKU for the workflow's purchase
// order and counts the drafts for which a URL came back; that count is what
// the progress event reports as "N images attached". The URLs are not
// written to the drafts or stored anywhere. A failed lookup for one SKU
// never fails the stage as a whole.
func (s *ImagesStage) Process(ctx domain.Context, job domain.StageJob) (domain.StageResult, error) {
	tracer := otel.Tracer("stage.image_attachment")
	ctx, span := tracer.Start(ctx, "ImagesStage.Process")
	defer span.End()

	if job.PurchaseOrderID == nil {
		return domain.StageResult{PurchaseOrderID: job.PurchaseOrderID, MerchantID: job.MerchantID}, nil
	}

	drafts, err := s.Drafts.ListByPurchaseOrder(ctx, *job.PurchaseOrderID)
	if err != nil {
		slog.Warn("stage.images: failed to list drafts, advancing with zero images",
			slog.String("purchase_order_id", *job.PurchaseOrderID), slog.Any("error", err))
		return domain.StageResult{PurchaseOrderID: job.PurchaseOrderID, MerchantID: job.MerchantID}, nil
	}

	attached := 0
	for _, d := range drafts {
		url, err := s.Images.FetchImage(ctx, d.SKU)
		if err != nil || url == "" {
			if err != nil {
				slog.Warn("stage.images: image fetch failed, skipping", slog.String("sku", d.SKU), slog.Any("error", err))
			}
			continue
		}
		attached++
	}

	if s.KV != nil {
		event := domain.ProgressEvent{
			WorkflowID: job.WorkflowID,
			MerchantID: job.MerchantID,
			Stage:      domain.StageImageAttachment,
			Type:       domain.ProgressStageCompleted,
			Message:    fmt.Sprintf("%d images attached", attached),
			OccurredAt: time.Now().UTC(),
		}
		if err := s.KV.Publish(ctx, progressChannel(job.MerchantID), event); err != nil {
			slog.Warn("stage.images: failed to publish progress event", slog.Any("error", err))
		}
	}

	return domain.StageResult{PurchaseOrderID: job.PurchaseOrderID, MerchantID: job.MerchantID}, nil
}
