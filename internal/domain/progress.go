package domain

import "time"

// ProgressEventType enumerates the kinds of progress notifications
// published over the KV fabric's pub/sub channels.
type ProgressEventType string

// Progress event types.
const (
	ProgressStageStarted   ProgressEventType = "stage_started"
	ProgressStageCompleted ProgressEventType = "stage_completed"
	ProgressStageFailed    ProgressEventType = "stage_failed"
	ProgressWorkflowDone   ProgressEventType = "workflow_completed"
)

// ProgressEvent is the transient wire format published on
// "merchant:{id}:progress" channels for a subscriber to observe workflow
// progress without polling the database.
type ProgressEvent struct {
	ID         string
	WorkflowID string
	MerchantID string
	Stage      WorkflowStage
	Type       ProgressEventType
	Message    string
	OccurredAt time.Time
}
