// Package stage implements the six workflow stage processors behind a
// uniform Processor contract, each invoked identically whether dispatched
// through the queue or chained in-process by the sequential runner.
package stage

import (
	"encoding/json"
	"fmt"

	"github.com/fairyhunter13/po-workflow-core/internal/domain"
)

// Processor handles one workflow stage. Implementations must be safe to
// retry: a Processor may be invoked more than once for the same StageJob
// if a prior attempt timed out or crashed before acking.
type Processor interface {
	Stage() domain.WorkflowStage
	Process(ctx domain.Context, job domain.StageJob) (domain.StageResult, error)
}

// Registry maps a stage name to its processor, used by both the queue
// consumer and the sequential runner to dispatch a StageJob uniformly.
type Registry map[domain.WorkflowStage]Processor

// NewRegistry builds a Registry from an ordered list of processors.
func NewRegistry(processors ...Processor) Registry {
	r := make(Registry, len(processors))
	for _, p := range processors {
		r[p.Stage()] = p
	}
	return r
}

// Get returns the processor registered for stage, if any.
func (r Registry) Get(s domain.WorkflowStage) (Processor, bool) {
	p, ok := r[s]
	return p, ok
}

// putStageData marshals v to JSON and stashes it under key, so hand-off
// data survives both the in-process sequential path and a round trip
// through the queue's JSON wire encoding identically.
func putStageData(data map[string]any, key string, v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("op=stage.put_stage_data: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("op=stage.put_stage_data: %w", err)
	}
	if data == nil {
		data = make(map[string]any)
	}
	data[key] = decoded
	return data, nil
}

// decodeStageData extracts the value stored under key into out, working
// whether data[key] arrived as a native Go value (sequential runner) or a
// map[string]any/[]any produced by json.Unmarshal (queue consumer).
func decodeStageData(data map[string]any, key string, out any) error {
	v, ok := data[key]
	if !ok {
		return fmt.Errorf("op=stage.decode_stage_data: missing key %q: %w", key, domain.ErrInvalidArgument)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("op=stage.decode_stage_data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("op=stage.decode_stage_data: %w", err)
	}
	return nil
}
