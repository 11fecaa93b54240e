package tick

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	"github.com/fairyhunter13/po-workflow-core/internal/orchestrator"
)

type fakeUploads struct {
	pending []domain.Upload
	err     error
}

func (f *fakeUploads) ListPending(ctx domain.Context, limit int) ([]domain.Upload, error) {
	return f.pending, f.err
}

type fakeStarter struct {
	started []orchestrator.StartInput
	err     error
}

func (f *fakeStarter) StartWorkflow(ctx domain.Context, in orchestrator.StartInput) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.started = append(f.started, in)
	return "wf_x", nil
}

type fakeSweeper struct {
	swept bool
	err   error
}

func (f *fakeSweeper) Sweep(ctx domain.Context) error {
	f.swept = true
	return f.err
}

func TestTick_StartsWorkflowForEachKeptUpload(t *testing.T) {
	uploads := &fakeUploads{pending: []domain.Upload{
		{ID: "u1", MerchantID: "m1", FileURL: "f1"},
		{ID: "u2", MerchantID: "m1", FileURL: "f2"},
	}}
	starter := &fakeStarter{}
	sweep := &fakeSweeper{}
	d := &Dispatcher{Uploads: uploads, Orchestrator: starter, Janitor: sweep, Budget: DefaultBudget, Now: time.Now}

	err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, starter.started, 2)
	assert.True(t, sweep.swept)
	for _, in := range starter.started {
		assert.NotEmpty(t, in.ExistingWorkflowID)
	}
}

func TestTick_DedupesByMerchantAndPOHint(t *testing.T) {
	uploads := &fakeUploads{pending: []domain.Upload{
		{ID: "u1", MerchantID: "m1", POHint: "PO-1001"},
		{ID: "u2", MerchantID: "m1", POHint: "PO-1001"},
		{ID: "u3", MerchantID: "m1", POHint: "PO-1002"},
	}}
	starter := &fakeStarter{}
	d := &Dispatcher{Uploads: uploads, Orchestrator: starter, Janitor: &fakeSweeper{}, Now: time.Now}

	err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, starter.started, 2)
	assert.Equal(t, "u1", starter.started[0].UploadID)
	assert.Equal(t, "u3", starter.started[1].UploadID)
}

func TestDedupeByPONumber_UploadsWithoutHintNeverDeduped(t *testing.T) {
	kept, skipped := dedupeByPONumber([]domain.Upload{
		{ID: "u1", MerchantID: "m1"},
		{ID: "u2", MerchantID: "m1"},
	})
	assert.Len(t, kept, 2)
	assert.Empty(t, skipped)
}

func TestTick_ContinuesOnStartWorkflowError(t *testing.T) {
	uploads := &fakeUploads{pending: []domain.Upload{{ID: "u1", MerchantID: "m1"}}}
	starter := &fakeStarter{err: assertErr("db down")}
	d := &Dispatcher{Uploads: uploads, Orchestrator: starter, Janitor: &fakeSweeper{}, Now: time.Now}

	err := d.Tick(context.Background())
	require.NoError(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

type fakeStats struct {
	counts     map[domain.WorkflowStatus]int64
	avg        time.Duration
	countCalls []domain.WorkflowStatus
	avgErr     error
}

func (f *fakeStats) CountByStatus(ctx domain.Context, status domain.WorkflowStatus) (int64, error) {
	f.countCalls = append(f.countCalls, status)
	return f.counts[status], nil
}

func (f *fakeStats) AverageCompletionDuration(ctx domain.Context) (time.Duration, error) {
	return f.avg, f.avgErr
}

func TestTick_RefreshesStatusGauges(t *testing.T) {
	uploads := &fakeUploads{}
	stats := &fakeStats{counts: map[domain.WorkflowStatus]int64{
		domain.WorkflowPending:   3,
		domain.WorkflowCompleted: 7,
	}, avg: 42 * time.Second}
	d := &Dispatcher{Uploads: uploads, Orchestrator: &fakeStarter{}, Janitor: &fakeSweeper{}, Stats: stats, Now: time.Now}

	err := d.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, stats.countCalls, len(statusesToReport))
}

func TestTick_SkipsGaugeRefreshWhenStatsNil(t *testing.T) {
	d := &Dispatcher{Uploads: &fakeUploads{}, Orchestrator: &fakeStarter{}, Janitor: &fakeSweeper{}, Now: time.Now}
	err := d.Tick(context.Background())
	require.NoError(t, err)
}
