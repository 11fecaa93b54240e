package domain_test

import (
	"testing"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestStageOrder_MatchesSixStagePipeline(t *testing.T) {
	assert.Equal(t, []domain.WorkflowStage{
		domain.StageAIParsing,
		domain.StageDatabaseSave,
		domain.StageProductDraftCreation,
		domain.StageImageAttachment,
		domain.StageShopifySync,
		domain.StageStatusUpdate,
	}, domain.StageOrder)
}

func TestWorkflowFilter_ZeroValueHasNoFilters(t *testing.T) {
	var f domain.WorkflowFilter
	assert.Empty(t, f.MerchantID)
	assert.Empty(t, f.Status)
}
