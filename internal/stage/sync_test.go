package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

func TestSyncStage_Process_PushesAllDraftsAndAttachesIDs(t *testing.T) {
	poID := "po_1"
	drafts := &fakeDrafts{list: []domain.ProductDraft{{ID: "d1"}, {ID: "d2"}}}
	sink := &fakeSink{}
	kv := &fakeKV{}
	s := &SyncStage{Drafts: drafts, Sink: sink, KV: kv}

	job := domain.StageJob{WorkflowID: "wf_1", MerchantID: "m1", PurchaseOrderID: &poID}
	result, err := s.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, &poID, result.PurchaseOrderID)
	assert.Equal(t, "shopify_d1", drafts.attached["d1"])
	assert.Equal(t, "shopify_d2", drafts.attached["d2"])
}

func TestSyncStage_Process_AllPushesFailIsTransient(t *testing.T) {
	poID := "po_1"
	drafts := &fakeDrafts{list: []domain.ProductDraft{{ID: "d1"}}}
	sink := &fakeSink{pushErrFor: map[string]error{"d1": assertErr("shopify down")}}
	s := &SyncStage{Drafts: drafts, Sink: sink}

	job := domain.StageJob{WorkflowID: "wf_1", MerchantID: "m1", PurchaseOrderID: &poID}
	_, err := s.Process(context.Background(), job)
	require.Error(t, err)
	var stageErr *domain.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, domain.KindTransient, stageErr.Kind)
}

func TestSyncStage_Process_PartialFailureStillSucceeds(t *testing.T) {
	poID := "po_1"
	drafts := &fakeDrafts{list: []domain.ProductDraft{{ID: "d1"}, {ID: "d2"}}}
	sink := &fakeSink{pushErrFor: map[string]error{"d1": assertErr("transient")}}
	s := &SyncStage{Drafts: drafts, Sink: sink}

	job := domain.StageJob{WorkflowID: "wf_1", MerchantID: "m1", PurchaseOrderID: &poID}
	_, err := s.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "shopify_d2", drafts.attached["d2"])
	assert.NotContains(t, drafts.attached, "d1")
}
