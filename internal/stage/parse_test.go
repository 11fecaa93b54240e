package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	"github.com/fairyhunter13/po-workflow-core/internal/fuzzymatch"
)

func intPtr(i int) *int          { return &i }
func floatPtr(f float64) *float64 { return &f }

func TestParseStage_Process_CreatesSupplierAndAppliesPackQuantityRule(t *testing.T) {
	objects := &fakeObjectStore{path: "/tmp/po.pdf"}
	extractor := &fakeExtractor{result: domain.ExtractedPO{
		PONumber: "PO-100",
		Supplier: domain.Supplier{Name: "Acme Supply Co"},
		LineItems: []domain.ExtractedLineItem{
			{SKU: "sku-1", Description: "Case of 12 widgets", Quantity: nil, UnitPrice: floatPtr(24.0)},
			{SKU: "sku-2", Description: "Standalone gadget", Quantity: intPtr(3), UnitPrice: floatPtr(5.0)},
		},
	}}
	suppliers := &fakeSuppliers{createID: "sup_1"}
	kv := &fakeKV{}
	s := &ParseStage{
		Objects:   objects,
		Extractor: extractor,
		Suppliers: suppliers,
		Resolver:  fuzzymatch.NewResolver(suppliers, 0.9),
		KV:        kv,
	}

	job := domain.StageJob{WorkflowID: "wf_1", MerchantID: "m1", UploadID: "u1"}
	result, err := s.Process(context.Background(), job)
	require.NoError(t, err)

	var parsed ParsedPO
	require.NoError(t, decodeStageData(result.NextStageData, parsedPOKey, &parsed))
	assert.Equal(t, "PO-100", parsed.PONumber)
	assert.Equal(t, "sup_1", parsed.SupplierID)
	assert.True(t, parsed.SupplierCreated)
	require.Len(t, parsed.LineItems, 2)
	assert.Equal(t, 12, parsed.LineItems[0].Quantity)
	assert.Equal(t, 2.0, parsed.LineItems[0].UnitPrice)
	assert.Equal(t, 3, parsed.LineItems[1].Quantity)
	assert.Len(t, kv.published, 1)
}

func TestParseStage_Process_ExtractorErrorIsTransient(t *testing.T) {
	objects := &fakeObjectStore{path: "/tmp/po.pdf"}
	extractor := &fakeExtractor{err: assertErr("extractor down")}
	suppliers := &fakeSuppliers{}
	s := &ParseStage{Objects: objects, Extractor: extractor, Suppliers: suppliers, Resolver: fuzzymatch.NewResolver(suppliers, 0.9)}

	_, err := s.Process(context.Background(), domain.StageJob{WorkflowID: "wf_1", MerchantID: "m1", UploadID: "u1"})
	require.Error(t, err)
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.KindTransient, stageErr.Kind)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
