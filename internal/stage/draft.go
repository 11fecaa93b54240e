package stage

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// DefaultMarkupRatio is applied when a merchant has no configured pricing
// markup override.
const DefaultMarkupRatio = 1.5

// DraftStage implements the product_draft_creation stage: applies
// merchant-configured pricing refinement and builds a product draft for
// each persisted line item, ready for image attachment.
type DraftStage struct {
	PurchaseOrders domain.PurchaseOrderRepository
	Drafts         domain.ProductDraftRepository
	KV             domain.KVStore

	// MerchantMarkups holds per-merchant pricing markup overrides, keyed
	// by merchant id (from the merchant settings file).
	MerchantMarkups map[string]float64
	// DefaultMarkupRatio is used for merchants with no override; falls
	// back to DefaultMarkupRatio if zero.
	DefaultMarkupRatio float64
}

// Stage identifies this processor as product_draft_creation.
func (DraftStage) Stage() domain.WorkflowStage { return domain.StageProductDraftCreation }

// Process loads the purchase order's line items, refines each one's retail
// price and margin, and creates a product draft per item. Individual
// line-item failures are logged and counted; the stage only fails if every
// line item fails (spec.md §4.4 S3).
func (s *DraftStage) Process(ctx domain.Context, job domain.StageJob) (domain.StageResult, error) {
	tracer := otel.Tracer("stage.product_draft_creation")
	ctx, span := tracer.Start(ctx, "DraftStage.Process")
	defer span.End()

	if job.PurchaseOrderID == nil {
		return domain.StageResult{}, domain.NewStageError(domain.StageProductDraftCreation, domain.KindNonFatal,
			fmt.Errorf("op=stage.draft: %w", domain.ErrInvalidArgument))
	}

	po, err := s.PurchaseOrders.Get(ctx, *job.PurchaseOrderID)
	if err != nil {
		return domain.StageResult{}, domain.NewStageError(domain.StageProductDraftCreation, domain.KindTransient, fmt.Errorf("op=stage.draft.get_po: %w", err))
	}

	// S3 creates or reuses one Session per merchant for the lifetime of
	// this stage run; a dedicated Session store was never wired, so the
	// id is derived deterministically rather than looked up.
	sessionID := merchantSessionID(job.MerchantID)
	markup := s.markupFor(job.MerchantID)

	created, failed := 0, 0
	for _, li := range po.LineItems {
		retail, margin := refinePrice(li.UnitPrice, markup)
		draft := domain.ProductDraft{
			LineItemID:      li.ID,
			PurchaseOrderID: po.ID,
			SessionID:       sessionID,
			Title:           li.Description,
			SKU:             li.SKU,
			OriginalPrice:   li.UnitPrice,
			Price:           retail,
			PriceRefined:    true,
			EstimatedMargin: margin,
			Status:          domain.ProductDraftStatusDraft,
		}
		if _, err := s.Drafts.Create(ctx, draft); err != nil {
			failed++
			slog.Warn("stage.draft: failed to create product draft", slog.String("line_item_id", li.ID), slog.Any("error", err))
			continue
		}
		created++
	}

	if created == 0 && failed > 0 {
		return domain.StageResult{}, domain.NewStageError(domain.StageProductDraftCreation, domain.KindTransient,
			fmt.Errorf("op=stage.draft.create: all %d line item(s) failed", failed))
	}

	if s.KV != nil {
		event := domain.ProgressEvent{
			WorkflowID: job.WorkflowID,
			MerchantID: job.MerchantID,
			Stage:      domain.StageProductDraftCreation,
			Type:       domain.ProgressStageCompleted,
			Message:    fmt.Sprintf("%d product drafts created, %d failed", created, failed),
			OccurredAt: time.Now().UTC(),
		}
		if err := s.KV.Publish(ctx, progressChannel(job.MerchantID), event); err != nil {
			slog.Warn("stage.draft: failed to publish progress event", slog.Any("error", err))
		}
	}

	return domain.StageResult{PurchaseOrderID: job.PurchaseOrderID, MerchantID: job.MerchantID}, nil
}

// markupFor resolves the merchant's configured markup ratio, falling back
// to DefaultMarkupRatio (and then the package default) when unset.
func (s *DraftStage) markupFor(merchantID string) float64 {
	if ratio, ok := s.MerchantMarkups[merchantID]; ok && ratio > 0 {
		return ratio
	}
	if s.DefaultMarkupRatio > 0 {
		return s.DefaultMarkupRatio
	}
	return DefaultMarkupRatio
}

// refinePrice applies the merchant pricing refinement: retail = cost *
// markup, rounded to the nearest price ending in .99, and the resulting
// estimated margin percentage.
func refinePrice(cost, markup float64) (retail, estimatedMargin float64) {
	retail = roundToNinetyNine(cost * markup)
	if retail <= 0 {
		return retail, 0
	}
	return retail, (retail - cost) / retail * 100
}

// roundToNinetyNine returns the price ending in .99 nearest to v.
func roundToNinetyNine(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Round(v+0.01) - 0.01
}

func merchantSessionID(merchantID string) string {
	return "sess_" + merchantID
}
