package stage

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// SaveStage implements the database_save stage: persist the parsed
// purchase order and its line items transactionally (spec.md §4.3.1).
type SaveStage struct {
	PurchaseOrders domain.PurchaseOrderRepository
	Workflows      domain.WorkflowRepository
	KV             domain.KVStore
}

// Stage identifies this processor as database_save.
func (SaveStage) Stage() domain.WorkflowStage { return domain.StageDatabaseSave }

// Process persists the purchase order produced by the ai_parsing stage.
func (s *SaveStage) Process(ctx domain.Context, job domain.StageJob) (domain.StageResult, error) {
	tracer := otel.Tracer("stage.database_save")
	ctx, span := tracer.Start(ctx, "SaveStage.Process")
	defer span.End()

	var parsed ParsedPO
	if err := decodeStageData(job.StageData, parsedPOKey, &parsed); err != nil {
		return domain.StageResult{}, domain.NewStageError(domain.StageDatabaseSave, domain.KindNonFatal, err)
	}

	items := make([]domain.LineItem, 0, len(parsed.LineItems))
	var totalAmount float64
	for _, li := range parsed.LineItems {
		items = append(items, domain.LineItem{
			SKU:         li.SKU,
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			TotalPrice:  li.TotalPrice,
			Confidence:  li.Confidence,
		})
		totalAmount += li.TotalPrice
	}

	po := domain.PurchaseOrder{
		MerchantID:  job.MerchantID,
		SupplierID:  parsed.SupplierID,
		PONumber:    parsed.PONumber,
		Status:      domain.POStatusProcessing,
		Confidence:  parsed.Confidence,
		TotalAmount: totalAmount,
		Currency:    "USD",
		LineItems:   items,
	}

	poID, err := s.PurchaseOrders.Save(ctx, po)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.StageResult{}, domain.NewStageError(domain.StageDatabaseSave, domain.KindPersistent, fmt.Errorf("op=stage.save: %w", err))
		}
		return domain.StageResult{}, domain.NewStageError(domain.StageDatabaseSave, domain.KindTransient, fmt.Errorf("op=stage.save: %w", err))
	}

	if err := s.Workflows.UpdateStage(ctx, job.WorkflowID, domain.StageDatabaseSave, domain.WorkflowProcessing); err != nil {
		slog.Warn("stage.save: failed to update workflow stage", slog.String("workflow_id", job.WorkflowID), slog.Any("error", err))
	}

	// processing_notes is a one-time narrative write, not a progress
	// channel (spec.md §4.5, §9): a single post-commit row-touch here,
	// never looped or repeated on later stages.
	notes := fmt.Sprintf("parsed %d line item(s) from supplier %q at confidence %.2f", len(items), parsed.Supplier.Name, parsed.Confidence)
	po.ID = poID
	po.ProcessingNotes = notes
	if err := s.PurchaseOrders.Update(ctx, po); err != nil {
		slog.Warn("stage.save: failed to write processing notes", slog.String("po_id", poID), slog.Any("error", err))
	}

	if s.KV != nil {
		event := domain.ProgressEvent{
			WorkflowID: job.WorkflowID,
			MerchantID: job.MerchantID,
			Stage:      domain.StageDatabaseSave,
			Type:       domain.ProgressStageCompleted,
			Message:    "purchase order saved",
			OccurredAt: time.Now().UTC(),
		}
		if err := s.KV.Publish(ctx, progressChannel(job.MerchantID), event); err != nil {
			slog.Warn("stage.save: failed to publish progress event", slog.Any("error", err))
		}
	}

	return domain.StageResult{PurchaseOrderID: &poID, MerchantID: job.MerchantID}, nil
}
