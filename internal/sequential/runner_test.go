package sequential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	"github.com/fairyhunter13/po-workflow-core/internal/stage"
)

type fakeProcessor struct {
	stageName domain.WorkflowStage
	result    domain.StageResult
	err       error
	calls     int
	failUntil int
}

func (f *fakeProcessor) Stage() domain.WorkflowStage { return f.stageName }
func (f *fakeProcessor) Process(ctx domain.Context, job domain.StageJob) (domain.StageResult, error) {
	f.calls++
	if f.failUntil > 0 && f.calls <= f.failUntil {
		return domain.StageResult{}, f.err
	}
	if f.err != nil && f.failUntil == 0 {
		return domain.StageResult{}, f.err
	}
	return f.result, nil
}

type fakeQueue struct {
	enqueued []domain.StageJob
}

func (f *fakeQueue) EnqueueStage(ctx domain.Context, job domain.StageJob) (string, error) {
	f.enqueued = append(f.enqueued, job)
	return "job_1", nil
}

type fakeWorkflows struct {
	updatedStage []domain.WorkflowStage
	completed    []string
	failed       []string
}

func (f *fakeWorkflows) Create(ctx domain.Context, w domain.Workflow) (string, error) { return "", nil }
func (f *fakeWorkflows) Get(ctx domain.Context, id string) (domain.Workflow, error)   { return domain.Workflow{}, nil }
func (f *fakeWorkflows) FindByUploadID(ctx domain.Context, uploadID string) (domain.Workflow, error) {
	return domain.Workflow{}, domain.ErrNotFound
}
func (f *fakeWorkflows) UpdateStage(ctx domain.Context, id string, stageName domain.WorkflowStage, status domain.WorkflowStatus) error {
	f.updatedStage = append(f.updatedStage, stageName)
	return nil
}
func (f *fakeWorkflows) MarkFailed(ctx domain.Context, id string, errMsg string) error {
	f.failed = append(f.failed, id)
	return nil
}
func (f *fakeWorkflows) MarkCompleted(ctx domain.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
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

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func allStagesRegistry(results map[domain.WorkflowStage]domain.StageResult) stage.Registry {
	procs := make([]stage.Processor, 0, len(domain.StageOrder))
	for _, s := range domain.StageOrder {
		procs = append(procs, &fakeProcessor{stageName: s, result: results[s]})
	}
	return stage.NewRegistry(procs...)
}

func TestRunner_Run_CompletesAllStagesWithinBudget(t *testing.T) {
	registry := allStagesRegistry(map[domain.WorkflowStage]domain.StageResult{
		domain.StageStatusUpdate: {Done: true, MerchantID: "m1"},
	})
	workflows := &fakeWorkflows{}
	r := New(registry, &fakeQueue{}, workflows)
	r.Now = func() time.Time { return time.Unix(0, 0) }
	r.Sleep = func(time.Duration) {}

	report, err := r.Run(context.Background(), domain.StageJob{WorkflowID: "wf_1", MerchantID: "m1", Stage: domain.StageAIParsing})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.False(t, report.HandedOff)
	assert.Len(t, report.Timings, len(domain.StageOrder))
	assert.Contains(t, workflows.completed, "wf_1")
}

func TestRunner_Run_HandsOffWhenBudgetExhausted(t *testing.T) {
	registry := allStagesRegistry(nil)
	queue := &fakeQueue{}
	workflows := &fakeWorkflows{}
	r := New(registry, queue, workflows)
	r.Budget = 1 * time.Second

	elapsed := 0
	r.Now = func() time.Time {
		elapsed++
		// first call establishes start; second call (budget check) reports
		// enough elapsed time to force a hand-off immediately.
		if elapsed == 1 {
			return time.Unix(0, 0)
		}
		return time.Unix(10, 0)
	}
	r.Sleep = func(time.Duration) {}

	report, err := r.Run(context.Background(), domain.StageJob{WorkflowID: "wf_1", MerchantID: "m1", Stage: domain.StageAIParsing})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.True(t, report.HandedOff)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, domain.StageAIParsing, queue.enqueued[0].Stage)
	assert.Equal(t, domain.ExecutionModeQueued, queue.enqueued[0].ExecutionMode)
	require.Len(t, workflows.updatedStage, 1)
}

func TestRunner_Run_NonFatalStageAdvances(t *testing.T) {
	procs := []stage.Processor{}
	for _, s := range domain.StageOrder {
		if s == domain.StageImageAttachment {
			procs = append(procs, &fakeProcessor{stageName: s, err: domain.NewStageError(s, domain.KindNonFatal, simpleErr("image source down"))})
			continue
		}
		result := domain.StageResult{}
		if s == domain.StageStatusUpdate {
			result.Done = true
		}
		procs = append(procs, &fakeProcessor{stageName: s, result: result})
	}
	registry := stage.NewRegistry(procs...)
	workflows := &fakeWorkflows{}
	r := New(registry, &fakeQueue{}, workflows)
	r.Now = func() time.Time { return time.Unix(0, 0) }
	r.Sleep = func(time.Duration) {}

	report, err := r.Run(context.Background(), domain.StageJob{WorkflowID: "wf_1", MerchantID: "m1", Stage: domain.StageAIParsing})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Contains(t, workflows.completed, "wf_1")
}

func TestRunner_Run_TransientRetriesThenSucceeds(t *testing.T) {
	procs := []stage.Processor{}
	for _, s := range domain.StageOrder {
		result := domain.StageResult{}
		if s == domain.StageStatusUpdate {
			result.Done = true
		}
		if s == domain.StageAIParsing {
			procs = append(procs, &fakeProcessor{stageName: s, result: result, failUntil: 2, err: domain.NewStageError(s, domain.KindTransient, simpleErr("timeout"))})
			continue
		}
		procs = append(procs, &fakeProcessor{stageName: s, result: result})
	}
	registry := stage.NewRegistry(procs...)
	r := New(registry, &fakeQueue{}, &fakeWorkflows{})
	r.Now = func() time.Time { return time.Unix(0, 0) }
	r.Sleep = func(time.Duration) {}

	report, err := r.Run(context.Background(), domain.StageJob{WorkflowID: "wf_1", MerchantID: "m1", Stage: domain.StageAIParsing})
	require.NoError(t, err)
	assert.True(t, report.Success)
}

func TestRunner_Run_PersistentErrorFailsRun(t *testing.T) {
	procs := []stage.Processor{
		&fakeProcessor{stageName: domain.StageAIParsing, err: domain.NewStageError(domain.StageAIParsing, domain.KindPersistent, simpleErr("bad input"))},
	}
	for _, s := range domain.StageOrder[1:] {
		procs = append(procs, &fakeProcessor{stageName: s})
	}
	registry := stage.NewRegistry(procs...)
	workflows := &fakeWorkflows{}
	r := New(registry, &fakeQueue{}, workflows)
	r.Now = func() time.Time { return time.Unix(0, 0) }

	report, err := r.Run(context.Background(), domain.StageJob{WorkflowID: "wf_1", MerchantID: "m1", Stage: domain.StageAIParsing})
	require.Error(t, err)
	assert.False(t, report.Success)
	assert.Contains(t, workflows.failed, "wf_1")
}

func TestBackoffDelay_CapsAtThreeSeconds(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoffDelay(1))
	assert.Equal(t, 3*time.Second, backoffDelay(10))
}
