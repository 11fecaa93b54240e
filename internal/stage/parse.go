package stage

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	"github.com/fairyhunter13/po-workflow-core/internal/fuzzymatch"
	"github.com/fairyhunter13/po-workflow-core/internal/packqty"
)

// parsedPOKey is the StageData key under which ParseStage hands its
// normalized extraction to SaveStage.
const parsedPOKey = "parsed_po"

// ParsedPO is the normalized, pack-quantity-adjusted purchase order handed
// from the ai_parsing stage to the database_save stage.
type ParsedPO struct {
	PONumber        string           `json:"po_number"`
	SupplierID      string           `json:"supplier_id,omitempty"`
	Supplier        domain.Supplier  `json:"supplier"`
	SupplierCreated bool             `json:"supplier_created"`
	LineItems       []ParsedLineItem `json:"line_items"`
	// Confidence is the overall extraction confidence (0..1) carried
	// through to S6, downgraded to incompleteConfidence if the parse is
	// still incomplete after the single automatic retry (spec.md §4.4 S1).
	Confidence float64 `json:"confidence"`
}

// ParsedLineItem is one line item after pack-quantity normalization.
type ParsedLineItem struct {
	SKU         string  `json:"sku"`
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
	Confidence  float64 `json:"confidence"`
}

// defaultConfidence is used when the extraction is complete but the
// extractor backend reports no confidence of its own.
const defaultConfidence = 0.95

// incompleteConfidence is the ceiling applied when the parse is still
// incomplete after the single automatic retry (spec.md §4.4 S1,
// PARSE_INCOMPLETE in §7): proceed, but downgrade confidence to <=0.7.
const incompleteConfidence = 0.65

// ParseStage implements the ai_parsing stage: fetch the source artifact,
// run it through the document extractor, resolve (or create) the supplier
// via fuzzy match, and apply the pack-quantity rule to each line item.
type ParseStage struct {
	Objects    domain.ObjectStore
	Extractor  domain.Extractor
	Suppliers  domain.SupplierRepository
	Resolver   *fuzzymatch.Resolver
	KV         domain.KVStore
}

// Stage identifies this processor as ai_parsing.
func (ParseStage) Stage() domain.WorkflowStage { return domain.StageAIParsing }

// Process fetches the uploaded artifact, extracts structured PO data, and
// resolves the supplier, producing the ParsedPO the save stage persists.
func (s *ParseStage) Process(ctx domain.Context, job domain.StageJob) (domain.StageResult, error) {
	tracer := otel.Tracer("stage.ai_parsing")
	ctx, span := tracer.Start(ctx, "ParseStage.Process")
	defer span.End()

	localPath, cleanup, err := s.Objects.Fetch(ctx, job.UploadID)
	if err != nil {
		return domain.StageResult{}, domain.NewStageError(domain.StageAIParsing, domain.KindTransient, fmt.Errorf("op=stage.parse.fetch: %w", err))
	}
	defer cleanup()

	extracted, err := s.Extractor.ExtractPurchaseOrder(ctx, localPath)
	if err != nil {
		return domain.StageResult{}, domain.NewStageError(domain.StageAIParsing, domain.KindTransient, fmt.Errorf("op=stage.parse.extract: %w", err))
	}

	lineItems, incomplete := buildLineItems(extracted)
	if incomplete {
		// PARSE_INCOMPLETE (spec.md §7): one automatic, idempotent retry
		// with identical input before accepting a downgraded confidence.
		retried, err := s.Extractor.ExtractPurchaseOrder(ctx, localPath)
		if err == nil {
			extracted = retried
			lineItems, incomplete = buildLineItems(extracted)
		}
	}

	confidence := extracted.Confidence
	switch {
	case incomplete:
		if confidence <= 0 || confidence > incompleteConfidence {
			confidence = incompleteConfidence
		}
	case confidence <= 0:
		confidence = defaultConfidence
	}

	supplier, supplierID, created, err := s.resolveSupplier(ctx, job.MerchantID, extracted.Supplier)
	if err != nil {
		return domain.StageResult{}, domain.NewStageError(domain.StageAIParsing, domain.KindTransient, fmt.Errorf("op=stage.parse.resolve_supplier: %w", err))
	}

	parsed := ParsedPO{
		PONumber:        extracted.PONumber,
		SupplierID:      supplierID,
		Supplier:        supplier,
		SupplierCreated: created,
		LineItems:       lineItems,
		Confidence:      confidence,
	}

	data, err := putStageData(nil, parsedPOKey, parsed)
	if err != nil {
		return domain.StageResult{}, fmt.Errorf("op=stage.parse: %w", err)
	}

	if s.KV != nil {
		event := domain.ProgressEvent{
			WorkflowID: job.WorkflowID,
			MerchantID: job.MerchantID,
			Stage:      domain.StageAIParsing,
			Type:       domain.ProgressStageCompleted,
			Message:    "purchase order parsed",
			OccurredAt: time.Now().UTC(),
		}
		if err := s.KV.Publish(ctx, progressChannel(job.MerchantID), event); err != nil {
			slog.Warn("stage.parse: failed to publish progress event", slog.Any("error", err))
		}
	}

	return domain.StageResult{NextStageData: data, MerchantID: job.MerchantID}, nil
}

// buildLineItems applies the pack-quantity rule to each raw extracted line
// item and reports whether the result is still incomplete: a required
// field (quantity or unit price) remains unresolved after adjustment, or
// the extractor returned no line items at all.
func buildLineItems(extracted domain.ExtractedPO) ([]ParsedLineItem, bool) {
	lineItems := make([]ParsedLineItem, 0, len(extracted.LineItems))
	incomplete := len(extracted.LineItems) == 0
	for _, li := range extracted.LineItems {
		qty := 0
		if li.Quantity != nil {
			qty = *li.Quantity
		}
		price := 0.0
		if li.UnitPrice != nil {
			price = *li.UnitPrice
		}
		adjQty, adjPrice := packqty.ApplyPackQuantityRule(li.Description, qty, price)
		if adjQty <= 0 || adjPrice <= 0 {
			incomplete = true
		}
		lineItems = append(lineItems, ParsedLineItem{
			SKU:         li.SKU,
			Description: li.Description,
			Quantity:    adjQty,
			UnitPrice:   adjPrice,
			TotalPrice:  roundCurrency(float64(adjQty) * adjPrice),
			Confidence:  li.Confidence,
		})
	}
	return lineItems, incomplete
}

// roundCurrency rounds to the nearest cent, matching the two-decimal
// precision of the currency values flowing through the pipeline.
func roundCurrency(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *ParseStage) resolveSupplier(ctx domain.Context, merchantID string, query domain.Supplier) (domain.Supplier, string, bool, error) {
	if s.Resolver != nil {
		if cand, ok, err := s.Resolver.Resolve(ctx, merchantID, query, ""); err == nil && ok {
			return cand.Supplier, cand.Supplier.ID, false, nil
		}
	}
	query.MerchantID = merchantID
	id, err := s.Suppliers.Create(ctx, query)
	if err != nil {
		return domain.Supplier{}, "", false, err
	}
	query.ID = id
	return query, id, true, nil
}

func progressChannel(merchantID string) string {
	return "merchant:" + merchantID + ":progress"
}
