package domain

import "errors"

// Error taxonomy (sentinels).
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrTransient          = errors.New("transient error")
	ErrTransactionTimeout = errors.New("transaction budget exceeded")
	ErrStageTimeout       = errors.New("stage budget exceeded")
	ErrNonFatal           = errors.New("non-fatal stage error")
	ErrInternal           = errors.New("internal error")
)

// StageKind classifies a StageError for orchestrator retry/failure policy.
type StageKind string

// Stage error kinds.
const (
	// KindTransient is retried with backoff up to the configured attempt cap.
	KindTransient StageKind = "transient"
	// KindPersistent fails the workflow immediately, no retry.
	KindPersistent StageKind = "persistent"
	// KindNonFatal never fails the owning workflow; the stage is skipped
	// and the pipeline advances (image_attachment, shopify_sync).
	KindNonFatal StageKind = "non_fatal"
)

// StageError is the error type stage processors return to drive
// orchestrator retry/failure policy, generalized from per-job retry
// classification to per-stage classification.
type StageError struct {
	Stage WorkflowStage
	Kind  StageKind
	Err   error
}

func (e *StageError) Error() string {
	return "stage=" + string(e.Stage) + " kind=" + string(e.Kind) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with stage/kind metadata for orchestrator policy
// dispatch.
func NewStageError(stage WorkflowStage, kind StageKind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// IsRetryable reports whether the orchestrator should schedule a retry
// for this error, given the current attempt count and a retry cap.
func IsRetryable(err error, attempt, maxAttempts int) bool {
	var se *StageError
	if !errors.As(err, &se) {
		return false
	}
	if se.Kind != KindTransient {
		return false
	}
	return attempt < maxAttempts
}

// IsNonFatal reports whether err should be swallowed without failing the
// owning workflow (spec: image_attachment and shopify_sync never fail the
// workflow outright).
func IsNonFatal(err error) bool {
	var se *StageError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == KindNonFatal
}
