// Package orchestrator implements stage scheduling, state transitions, and
// failure policy for the workflow execution record (C5).
package orchestrator

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
	obsctx "github.com/fairyhunter13/po-workflow-core/internal/observability"
)

// MetadataTTL is how long a started workflow's KV metadata survives before
// the idempotency window closes.
const MetadataTTL = 30 * time.Minute

// MaxStageAttempts bounds transient-error retries within one stage before
// the orchestrator gives up and fails the workflow.
const MaxStageAttempts = 5

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// StartInput carries the parameters of the start_workflow contract.
type StartInput struct {
	UploadID          string
	MerchantID        string
	FileURL           string
	ExistingWorkflowID string
	ExecutionMode     domain.ExecutionMode
}

// Orchestrator drives workflow lifecycle: start, stage scheduling,
// completion, and failure policy.
type Orchestrator struct {
	Workflows domain.WorkflowRepository
	Queue     domain.Queue
	KV        domain.KVStore

	// MaxStageAttempts overrides the package default retry bound when set.
	MaxStageAttempts int
}

// New constructs an Orchestrator.
func New(workflows domain.WorkflowRepository, queue domain.Queue, kv domain.KVStore) *Orchestrator {
	return &Orchestrator{Workflows: workflows, Queue: queue, KV: kv, MaxStageAttempts: MaxStageAttempts}
}

func (o *Orchestrator) maxStageAttempts() int {
	if o.MaxStageAttempts > 0 {
		return o.MaxStageAttempts
	}
	return MaxStageAttempts
}

// NewWorkflowID mints an ID in the wf_<epoch_ms>_<8_rand> format.
func NewWorkflowID(now time.Time) (string, error) {
	suffix, err := randomAlnum(8)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("wf_%d_%s", now.UnixMilli(), suffix), nil
}

func randomAlnum(n int) (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("orchestrator: generate id: %w", err)
		}
		sb.WriteByte(idAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// StartWorkflow implements the start_workflow contract: idempotent on
// upload_id, honoring a Tick-Dispatcher-minted existing_workflow_id when
// present.
func (o *Orchestrator) StartWorkflow(ctx domain.Context, in StartInput) (string, error) {
	tr := otel.Tracer("orchestrator")
	ctx, span := tr.Start(ctx, "Orchestrator.StartWorkflow")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)

	if in.UploadID == "" || in.MerchantID == "" {
		return "", fmt.Errorf("orchestrator: start workflow: %w: upload_id and merchant_id required", domain.ErrInvalidArgument)
	}

	mode := in.ExecutionMode
	if mode == "" {
		mode = domain.ExecutionModeQueued
	}

	if in.ExistingWorkflowID != "" {
		lg.Info("start workflow reusing existing id",
			slog.String("workflow_id", in.ExistingWorkflowID),
			slog.String("upload_id", in.UploadID))
		if err := o.scheduleFirstStage(ctx, in.ExistingWorkflowID, in.MerchantID, in.UploadID, mode); err != nil {
			return "", err
		}
		return in.ExistingWorkflowID, nil
	}

	if existing, err := o.Workflows.FindByUploadID(ctx, in.UploadID); err == nil {
		if existing.Status == domain.WorkflowPending || existing.Status == domain.WorkflowProcessing {
			lg.Info("start workflow idempotent hit",
				slog.String("workflow_id", existing.ID),
				slog.String("upload_id", in.UploadID))
			return existing.ID, nil
		}
	}

	id, err := NewWorkflowID(time.Now().UTC())
	if err != nil {
		return "", err
	}

	w := domain.Workflow{
		ID:            id,
		MerchantID:    in.MerchantID,
		UploadID:      in.UploadID,
		Status:        domain.WorkflowPending,
		CurrentStage:  domain.StageAIParsing,
		ExecutionMode: mode,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	createdID, err := o.Workflows.Create(ctx, w)
	if err != nil {
		lg.Error("start workflow create failed", slog.Any("error", err), slog.String("upload_id", in.UploadID))
		return "", err
	}

	if err := o.writeMetadata(ctx, createdID, w); err != nil {
		lg.Warn("start workflow metadata write failed", slog.Any("error", err), slog.String("workflow_id", createdID))
	}

	if err := o.scheduleFirstStage(ctx, createdID, in.MerchantID, in.UploadID, mode); err != nil {
		return "", err
	}

	lg.Info("start workflow created", slog.String("workflow_id", createdID), slog.String("upload_id", in.UploadID))
	return createdID, nil
}

func (o *Orchestrator) scheduleFirstStage(ctx domain.Context, workflowID, merchantID, uploadID string, mode domain.ExecutionMode) error {
	if mode == domain.ExecutionModeSequential {
		return nil
	}
	job := domain.StageJob{
		WorkflowID:    workflowID,
		MerchantID:    merchantID,
		Stage:         domain.StageAIParsing,
		UploadID:      uploadID,
		ExecutionMode: mode,
	}
	return o.ScheduleStage(ctx, job)
}

func (o *Orchestrator) writeMetadata(ctx domain.Context, workflowID string, w domain.Workflow) error {
	if o.KV == nil {
		return nil
	}
	payload, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("orchestrator: marshal metadata: %w", err)
	}
	return o.KV.Put(ctx, metadataKey(workflowID), payload, MetadataTTL)
}

func metadataKey(workflowID string) string {
	return "workflow:" + workflowID + ":meta"
}

// ScheduleStage enqueues job and marks the targeted stage processing. Used
// both for the first stage and for ScheduleNextStage.
func (o *Orchestrator) ScheduleStage(ctx domain.Context, job domain.StageJob) error {
	if _, err := o.Queue.EnqueueStage(ctx, job); err != nil {
		return fmt.Errorf("orchestrator: enqueue stage %s: %w", job.Stage, err)
	}
	return o.Workflows.UpdateStage(ctx, job.WorkflowID, job.Stage, domain.WorkflowProcessing)
}

// ScheduleNextStage advances workflow past the stage that just completed,
// enqueuing the next stage or completing the workflow if none remains.
func (o *Orchestrator) ScheduleNextStage(ctx domain.Context, job domain.StageJob, result domain.StageResult) error {
	tr := otel.Tracer("orchestrator")
	ctx, span := tr.Start(ctx, "Orchestrator.ScheduleNextStage")
	defer span.End()

	next, ok := nextStage(job.Stage)
	if !ok || result.Done {
		return o.CompleteWorkflow(ctx, job.WorkflowID, result)
	}

	nextJob := domain.StageJob{
		WorkflowID:      job.WorkflowID,
		MerchantID:      job.MerchantID,
		Stage:           next,
		PurchaseOrderID: result.PurchaseOrderID,
		UploadID:        job.UploadID,
		StageData:       result.NextStageData,
		ExecutionMode:   job.ExecutionMode,
	}
	return o.ScheduleStage(ctx, nextJob)
}

// CompleteWorkflow marks the workflow completed and publishes the
// completion event.
func (o *Orchestrator) CompleteWorkflow(ctx domain.Context, workflowID string, result domain.StageResult) error {
	if err := o.Workflows.MarkCompleted(ctx, workflowID); err != nil {
		return fmt.Errorf("orchestrator: mark completed: %w", err)
	}
	if o.KV == nil {
		return nil
	}
	return o.KV.Publish(ctx, progressChannel(result.MerchantID), domain.ProgressEvent{
		WorkflowID: workflowID,
		MerchantID: result.MerchantID,
		Type:       domain.ProgressWorkflowDone,
		Message:    "workflow completed",
		OccurredAt: time.Now().UTC(),
	})
}

func progressChannel(merchantID string) string {
	return "merchant:" + merchantID + ":progress"
}

// HandleStageFailure applies the failure policy for a stage error: bounded
// retry for transient errors, immediate failure for persistent errors, and
// silent advance for non-fatal stages.
func (o *Orchestrator) HandleStageFailure(ctx domain.Context, job domain.StageJob, stageErr error) error {
	lg := obsctx.LoggerFromContext(ctx)

	if domain.IsNonFatal(stageErr) {
		lg.Warn("stage failed non-fatally, advancing",
			slog.String("workflow_id", job.WorkflowID),
			slog.String("stage", string(job.Stage)),
			slog.Any("error", stageErr))
		return o.ScheduleNextStage(ctx, job, domain.StageResult{MerchantID: job.MerchantID})
	}

	if domain.IsRetryable(stageErr, job.Attempt, o.maxStageAttempts()) {
		retryJob := job
		retryJob.Attempt++
		lg.Warn("stage failed transiently, retrying",
			slog.String("workflow_id", job.WorkflowID),
			slog.String("stage", string(job.Stage)),
			slog.Int("attempt", retryJob.Attempt))
		return o.ScheduleStage(ctx, retryJob)
	}

	lg.Error("stage failed persistently, failing workflow",
		slog.String("workflow_id", job.WorkflowID),
		slog.String("stage", string(job.Stage)),
		slog.Any("error", stageErr))
	if err := o.Workflows.MarkFailed(ctx, job.WorkflowID, stageErr.Error()); err != nil {
		return fmt.Errorf("orchestrator: mark failed: %w", err)
	}
	if o.KV == nil {
		return nil
	}
	return o.KV.Publish(ctx, progressChannel(job.MerchantID), domain.ProgressEvent{
		WorkflowID: job.WorkflowID,
		MerchantID: job.MerchantID,
		Stage:      job.Stage,
		Type:       domain.ProgressStageFailed,
		Message:    stageErr.Error(),
		OccurredAt: time.Now().UTC(),
	})
}

func nextStage(stage domain.WorkflowStage) (domain.WorkflowStage, bool) {
	for i, s := range domain.StageOrder {
		if s == stage && i+1 < len(domain.StageOrder) {
			return domain.StageOrder[i+1], true
		}
	}
	return "", false
}
