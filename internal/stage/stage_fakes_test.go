package stage

import (
	"time"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

type fakeObjectStore struct {
	path string
	err  error
}

func (f *fakeObjectStore) Fetch(ctx domain.Context, uploadID string) (string, func(), error) {
	if f.err != nil {
		return "", func() {}, f.err
	}
	return f.path, func() {}, nil
}

type fakeExtractor struct {
	result domain.ExtractedPO
	err    error
}

func (f *fakeExtractor) ExtractPurchaseOrder(ctx domain.Context, artifactPath string) (domain.ExtractedPO, error) {
	return f.result, f.err
}

type fakeSuppliers struct {
	created []domain.Supplier
	createID string
}

func (f *fakeSuppliers) Create(ctx domain.Context, s domain.Supplier) (string, error) {
	f.created = append(f.created, s)
	if f.createID != "" {
		return f.createID, nil
	}
	return "sup_new", nil
}
func (f *fakeSuppliers) Get(ctx domain.Context, id string) (domain.Supplier, error) {
	return domain.Supplier{}, nil
}
func (f *fakeSuppliers) ListByMerchant(ctx domain.Context, merchantID string) ([]domain.Supplier, error) {
	return nil, nil
}
func (f *fakeSuppliers) TrigramMatch(ctx domain.Context, merchantID, name string) (domain.Supplier, float64, error) {
	return domain.Supplier{}, 0, domain.ErrNotFound
}

type fakeKV struct {
	published []domain.ProgressEvent
}

func (f *fakeKV) Put(ctx domain.Context, key string, value []byte, ttl time.Duration) error { return nil }
func (f *fakeKV) Get(ctx domain.Context, key string) ([]byte, error)                        { return nil, domain.ErrNotFound }
func (f *fakeKV) Publish(ctx domain.Context, channel string, event domain.ProgressEvent) error {
	f.published = append(f.published, event)
	return nil
}
func (f *fakeKV) Subscribe(ctx domain.Context, channel string) (<-chan domain.ProgressEvent, func(), error) {
	ch := make(chan domain.ProgressEvent)
	return ch, func() {}, nil
}

type fakePurchaseOrders struct {
	saveID   string
	saveErr  error
	getPO    domain.PurchaseOrder
	getErr   error
	updated  []domain.PurchaseOrder
	updateErr error
}

func (f *fakePurchaseOrders) Save(ctx domain.Context, po domain.PurchaseOrder) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	if f.saveID != "" {
		return f.saveID, nil
	}
	return "po_new", nil
}
func (f *fakePurchaseOrders) Update(ctx domain.Context, po domain.PurchaseOrder) error {
	f.updated = append(f.updated, po)
	return f.updateErr
}
func (f *fakePurchaseOrders) Get(ctx domain.Context, id string) (domain.PurchaseOrder, error) {
	return f.getPO, f.getErr
}
func (f *fakePurchaseOrders) FindByMerchantAndNumber(ctx domain.Context, merchantID, poNumber string) (domain.PurchaseOrder, error) {
	return domain.PurchaseOrder{}, domain.ErrNotFound
}
func (f *fakePurchaseOrders) CountLineItems(ctx domain.Context, poID string) (int, error) {
	return len(f.getPO.LineItems), nil
}
func (f *fakePurchaseOrders) Finalize(ctx domain.Context, id string) error { return nil }

type fakeWorkflows struct {
	updateStageErr  error
	markCompletedErr error
	markFailedErr   error
	completed       []string
}

func (f *fakeWorkflows) Create(ctx domain.Context, w domain.Workflow) (string, error) { return "", nil }
func (f *fakeWorkflows) Get(ctx domain.Context, id string) (domain.Workflow, error)   { return domain.Workflow{}, nil }
func (f *fakeWorkflows) FindByUploadID(ctx domain.Context, uploadID string) (domain.Workflow, error) {
	return domain.Workflow{}, domain.ErrNotFound
}
func (f *fakeWorkflows) UpdateStage(ctx domain.Context, id string, stage domain.WorkflowStage, status domain.WorkflowStatus) error {
	return f.updateStageErr
}
func (f *fakeWorkflows) MarkFailed(ctx domain.Context, id string, errMsg string) error {
	return f.markFailedErr
}
func (f *fakeWorkflows) MarkCompleted(ctx domain.Context, id string) error {
	f.completed = append(f.completed, id)
	return f.markCompletedErr
}
func (f *fakeWorkflows) CountByStatus(ctx domain.Context, status domain.WorkflowStatus) (int64, error) {
	return 0, nil
}
func (f *fakeWorkflows) AverageCompletionDuration(ctx domain.Context) (time.Duration, error) {
	return 0, nil
}
func (f *fakeWorkflows) ListWithFilters(ctx domain.Context, filter domain.WorkflowFilter) ([]domain.Workflow, error) {
	return nil, nil
}
func (f *fakeWorkflows) ListStuck(ctx domain.Context, staleSince time.Time, limit int) ([]domain.Workflow, error) {
	return nil, nil
}
func (f *fakeWorkflows) IncrementRetry(ctx domain.Context, id string) (int, error) { return 0, nil }

type fakeDrafts struct {
	created  []domain.ProductDraft
	list     []domain.ProductDraft
	listErr  error
	attached map[string]string
	// failSKUs, when non-nil, makes Create fail for line items with a
	// matching SKU, to exercise partial-success accounting.
	failSKUs map[string]bool
}

func (f *fakeDrafts) Create(ctx domain.Context, d domain.ProductDraft) (string, error) {
	if f.failSKUs[d.SKU] {
		return "", domain.ErrTransactionTimeout
	}
	f.created = append(f.created, d)
	return "draft_new", nil
}
func (f *fakeDrafts) Get(ctx domain.Context, id string) (domain.ProductDraft, error) {
	return domain.ProductDraft{}, domain.ErrNotFound
}
func (f *fakeDrafts) ListByPurchaseOrder(ctx domain.Context, poID string) ([]domain.ProductDraft, error) {
	return f.list, f.listErr
}
func (f *fakeDrafts) AttachShopifyID(ctx domain.Context, id, shopifyProductID string) error {
	if f.attached == nil {
		f.attached = map[string]string{}
	}
	f.attached[id] = shopifyProductID
	return nil
}

type fakeImageSource struct {
	urlFor map[string]string
	err    error
}

func (f *fakeImageSource) FetchImage(ctx domain.Context, sku string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.urlFor[sku], nil
}

type fakeSink struct {
	pushErrFor map[string]error
}

func (f *fakeSink) PushProduct(ctx domain.Context, draft domain.ProductDraft) (string, error) {
	if f.pushErrFor != nil {
		if err, ok := f.pushErrFor[draft.ID]; ok {
			return "", err
		}
	}
	return "shopify_" + draft.ID, nil
}
