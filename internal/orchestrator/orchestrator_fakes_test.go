package orchestrator

import (
	"time"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

type fakeWorkflows struct {
	created        []domain.Workflow
	createErr      error
	byUploadID     domain.Workflow
	byUploadIDErr  error
	updatedStage   []domain.WorkflowStage
	updateStageErr error
	completed      []string
	markCompletedErr error
	failed         []string
	failMessages   []string
	markFailedErr  error
}

func (f *fakeWorkflows) Create(ctx domain.Context, w domain.Workflow) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, w)
	return w.ID, nil
}
func (f *fakeWorkflows) Get(ctx domain.Context, id string) (domain.Workflow, error) {
	return domain.Workflow{}, domain.ErrNotFound
}
func (f *fakeWorkflows) FindByUploadID(ctx domain.Context, uploadID string) (domain.Workflow, error) {
	if f.byUploadIDErr != nil {
		return domain.Workflow{}, f.byUploadIDErr
	}
	return f.byUploadID, nil
}
func (f *fakeWorkflows) UpdateStage(ctx domain.Context, id string, stage domain.WorkflowStage, status domain.WorkflowStatus) error {
	f.updatedStage = append(f.updatedStage, stage)
	return f.updateStageErr
}
func (f *fakeWorkflows) MarkFailed(ctx domain.Context, id string, errMsg string) error {
	f.failed = append(f.failed, id)
	f.failMessages = append(f.failMessages, errMsg)
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

type fakeQueue struct {
	enqueued []domain.StageJob
	err      error
}

func (f *fakeQueue) EnqueueStage(ctx domain.Context, job domain.StageJob) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.enqueued = append(f.enqueued, job)
	return "job_1", nil
}

type fakeKV struct {
	put       map[string][]byte
	published []domain.ProgressEvent
}

func (f *fakeKV) Put(ctx domain.Context, key string, value []byte, ttl time.Duration) error {
	if f.put == nil {
		f.put = map[string][]byte{}
	}
	f.put[key] = value
	return nil
}
func (f *fakeKV) Get(ctx domain.Context, key string) ([]byte, error) {
	v, ok := f.put[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}
func (f *fakeKV) Publish(ctx domain.Context, channel string, event domain.ProgressEvent) error {
	f.published = append(f.published, event)
	return nil
}
func (f *fakeKV) Subscribe(ctx domain.Context, channel string) (<-chan domain.ProgressEvent, func(), error) {
	ch := make(chan domain.ProgressEvent)
	return ch, func() {}, nil
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
