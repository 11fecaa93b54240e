// Package domain defines core entities, ports, and domain-specific errors
// for the purchase-order workflow orchestration core.
package domain

import (
	"context"
	"time"
)

// WorkflowStage enumerates the six stages a workflow passes through.
type WorkflowStage string

// Stage values, in pipeline order.
const (
	StageAIParsing            WorkflowStage = "ai_parsing"
	StageDatabaseSave         WorkflowStage = "database_save"
	StageProductDraftCreation WorkflowStage = "product_draft_creation"
	StageImageAttachment      WorkflowStage = "image_attachment"
	StageShopifySync          WorkflowStage = "shopify_sync"
	StageStatusUpdate         WorkflowStage = "status_update"
)

// StageOrder lists stages in the order they execute.
var StageOrder = []WorkflowStage{
	StageAIParsing,
	StageDatabaseSave,
	StageProductDraftCreation,
	StageImageAttachment,
	StageShopifySync,
	StageStatusUpdate,
}

// WorkflowStatus captures the lifecycle state of a workflow.
type WorkflowStatus string

// Workflow status values.
const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowProcessing WorkflowStatus = "processing"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
)

// Workflow is the orchestration record tracking one purchase-order upload
// through the six-stage pipeline.
type Workflow struct {
	ID               string
	MerchantID       string
	UploadID         string
	Status           WorkflowStatus
	CurrentStage     WorkflowStage
	PurchaseOrderID  *string
	RetryCount       int
	ExecutionMode    ExecutionMode
	ContentHash      string
	Error            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// ExecutionMode distinguishes queue-dispatched from sequential in-process runs.
type ExecutionMode string

// Execution modes.
const (
	ExecutionModeQueued     ExecutionMode = "queued"
	ExecutionModeSequential ExecutionMode = "sequential"
)

// PurchaseOrderStatus captures the lifecycle state of a purchase order.
type PurchaseOrderStatus string

// Purchase-order status values, the enumerated external interface of
// spec.md §6. pending/processing track the PO through the pipeline before
// S6 runs; S6 resolves the terminal value from confidence (completed,
// review_needed, low_confidence_review) unless the PO was denied or the
// pipeline failed outright.
const (
	POStatusPending             PurchaseOrderStatus = "pending"
	POStatusProcessing          PurchaseOrderStatus = "processing"
	POStatusReviewNeeded        PurchaseOrderStatus = "review_needed"
	POStatusLowConfidenceReview PurchaseOrderStatus = "low_confidence_review"
	POStatusCompleted           PurchaseOrderStatus = "completed"
	POStatusFailed              PurchaseOrderStatus = "failed"
	POStatusDenied              PurchaseOrderStatus = "denied"
	POStatusSynced              PurchaseOrderStatus = "synced"
)

// Confidence thresholds S6 uses to resolve the terminal PO status
// (spec.md §4.4 S6).
const (
	ConfidenceCompletedThreshold    = 0.9
	ConfidenceReviewNeededThreshold = 0.7
)

// StatusForConfidence maps an extractor confidence score to the terminal
// PO status S6 assigns: >=0.9 completed, [0.7,0.9) review_needed, <0.7
// low_confidence_review.
func StatusForConfidence(confidence float64) PurchaseOrderStatus {
	switch {
	case confidence >= ConfidenceCompletedThreshold:
		return POStatusCompleted
	case confidence >= ConfidenceReviewNeededThreshold:
		return POStatusReviewNeeded
	default:
		return POStatusLowConfidenceReview
	}
}

// ResolveTerminalStatus applies S6's status-resolution rule to a purchase
// order: a PO with no line items never clears review regardless of
// reported confidence (spec.md §8 boundary behavior), otherwise the
// confidence threshold mapping decides.
func ResolveTerminalStatus(po PurchaseOrder) PurchaseOrderStatus {
	if len(po.LineItems) == 0 {
		return POStatusLowConfidenceReview
	}
	return StatusForConfidence(po.Confidence)
}

// PurchaseOrder is the domain model for a supplier purchase order parsed
// from an uploaded document.
type PurchaseOrder struct {
	ID              string
	MerchantID      string
	SupplierID      string
	PONumber        string
	Status          PurchaseOrderStatus
	Confidence      float64
	TotalAmount     float64
	Currency        string
	ProcessingNotes string
	LineItems       []LineItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LineItem is a single line of a purchase order, owned by the PO.
type LineItem struct {
	ID              string
	PurchaseOrderID string
	SKU             string
	Description     string
	Quantity        int
	UnitPrice       float64
	TotalPrice      float64
	Confidence      float64
}

// ProductDraftStatus captures the lifecycle state of a product draft.
type ProductDraftStatus string

// Product-draft status values.
const (
	ProductDraftStatusDraft    ProductDraftStatus = "draft"
	ProductDraftStatusReview   ProductDraftStatus = "review"
	ProductDraftStatusApproved ProductDraftStatus = "approved"
	ProductDraftStatusRejected ProductDraftStatus = "rejected"
	ProductDraftStatusSynced   ProductDraftStatus = "synced"
)

// ProductDraft is a staged product created from a PO line item, pending
// image attachment and Shopify sync.
type ProductDraft struct {
	ID               string
	LineItemID       string
	PurchaseOrderID  string
	SessionID        string
	Title            string
	SKU              string
	OriginalPrice    float64
	Price            float64
	PriceRefined     bool
	EstimatedMargin  float64
	Status           ProductDraftStatus
	ShopifyProductID *string
	CreatedAt        time.Time
}

// Supplier is a vendor matched against incoming purchase orders, either
// exactly or via fuzzy match.
type Supplier struct {
	ID      string
	MerchantID string
	Name    string
	Email   string
	Phone   string
	Website string
}

// Upload is a PO artifact landed in object storage, awaiting workflow
// pickup by the Tick Dispatcher.
type Upload struct {
	ID         string
	MerchantID string
	FileURL    string
	// POHint is an optional early guess at the PO number (e.g. parsed from
	// the filename), used only for Tick Dispatcher de-duplication before a
	// workflow has actually extracted structured data.
	POHint    string
	CreatedAt time.Time
}

// Ports

// UploadRepository discovers PO artifacts awaiting workflow pickup.
type UploadRepository interface {
	// ListPending returns uploads with no active (pending/processing)
	// workflow, oldest first.
	ListPending(ctx Context, limit int) ([]Upload, error)
}

// WorkflowRepository manages Workflow persistence.
type WorkflowRepository interface {
	Create(ctx Context, w Workflow) (string, error)
	Get(ctx Context, id string) (Workflow, error)
	FindByUploadID(ctx Context, uploadID string) (Workflow, error)
	UpdateStage(ctx Context, id string, stage WorkflowStage, status WorkflowStatus) error
	MarkFailed(ctx Context, id string, errMsg string) error
	MarkCompleted(ctx Context, id string) error
	CountByStatus(ctx Context, status WorkflowStatus) (int64, error)
	AverageCompletionDuration(ctx Context) (time.Duration, error)
	ListWithFilters(ctx Context, f WorkflowFilter) ([]Workflow, error)
	ListStuck(ctx Context, staleSince time.Time, limit int) ([]Workflow, error)
	IncrementRetry(ctx Context, id string) (int, error)
}

// WorkflowFilter narrows a ListWithFilters query.
type WorkflowFilter struct {
	MerchantID string
	Status     WorkflowStatus
	Stage      WorkflowStage
	Limit      int
	Offset     int
}

// PurchaseOrderRepository manages PurchaseOrder + LineItem persistence.
type PurchaseOrderRepository interface {
	Save(ctx Context, po PurchaseOrder) (string, error)
	Update(ctx Context, po PurchaseOrder) error
	Get(ctx Context, id string) (PurchaseOrder, error)
	FindByMerchantAndNumber(ctx Context, merchantID, poNumber string) (PurchaseOrder, error)
	CountLineItems(ctx Context, poID string) (int, error)
	Finalize(ctx Context, id string) error
}

// SupplierRepository manages Supplier persistence and lookup.
type SupplierRepository interface {
	Create(ctx Context, s Supplier) (string, error)
	Get(ctx Context, id string) (Supplier, error)
	ListByMerchant(ctx Context, merchantID string) ([]Supplier, error)
	TrigramMatch(ctx Context, merchantID, name string) (Supplier, float64, error)
}

// ProductDraftRepository manages ProductDraft persistence.
type ProductDraftRepository interface {
	Create(ctx Context, d ProductDraft) (string, error)
	Get(ctx Context, id string) (ProductDraft, error)
	ListByPurchaseOrder(ctx Context, poID string) ([]ProductDraft, error)
	AttachShopifyID(ctx Context, id, shopifyProductID string) error
}

// Queue dispatches stage jobs onto the queue-dispatched execution path.
type Queue interface {
	EnqueueStage(ctx Context, job StageJob) (string, error)
}

// KVStore is the TTL-bounded workflow metadata and progress pub/sub fabric.
type KVStore interface {
	Put(ctx Context, key string, value []byte, ttl time.Duration) error
	Get(ctx Context, key string) ([]byte, error)
	Publish(ctx Context, channel string, event ProgressEvent) error
	Subscribe(ctx Context, channel string) (<-chan ProgressEvent, func(), error)
}

// Extractor abstracts the AI/document-parsing collaborator used by the
// ai_parsing stage.
type Extractor interface {
	ExtractPurchaseOrder(ctx Context, artifactPath string) (ExtractedPO, error)
}

// ExtractedPO is the raw structured output of the extractor, before
// pack-quantity normalization and persistence. Confidence is the
// extractor's overall self-assessment of the parse (0..1); a zero value
// means the extractor backend does not report one.
type ExtractedPO struct {
	PONumber   string
	Supplier   Supplier
	LineItems  []ExtractedLineItem
	Confidence float64
}

// ExtractedLineItem is one raw parsed line, with quantity/unit price
// possibly unset pending pack-quantity inference.
type ExtractedLineItem struct {
	SKU         string
	Description string
	Quantity    *int
	UnitPrice   *float64
	Confidence  float64
}

// ImageSource abstracts the external collaborator that supplies product
// images for the image_attachment stage.
type ImageSource interface {
	FetchImage(ctx Context, sku string) (imageURL string, err error)
}

// ExternalSink abstracts the Shopify-like external system that the
// shopify_sync stage pushes product drafts to.
type ExternalSink interface {
	PushProduct(ctx Context, draft ProductDraft) (externalID string, err error)
}

// ObjectStore abstracts blob storage for uploaded source artifacts.
type ObjectStore interface {
	Fetch(ctx Context, uploadID string) (localPath string, cleanup func(), err error)
}

// StageJob is the unit of work dispatched to a stage processor, either via
// the queue or directly by the sequential runner.
type StageJob struct {
	ID              string
	WorkflowID      string
	MerchantID      string
	Stage           WorkflowStage
	PurchaseOrderID *string
	UploadID        string
	StageData       map[string]any
	ExecutionMode   ExecutionMode
	Attempt         int
}

// StageResult is what a Processor returns after handling a StageJob.
type StageResult struct {
	NextStageData   map[string]any
	PurchaseOrderID *string
	MerchantID      string
	Done            bool
}

// Context is a type alias to stdlib context.Context for convenience across
// layers without importing context everywhere.
type Context = context.Context
