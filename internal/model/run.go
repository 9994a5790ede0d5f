package model

import "time"

// RunKind identifies which operation a run log entry records.
type RunKind string

const (
	RunKindBackfill  RunKind = "backfill"
	RunKindCalculate RunKind = "calculate"
	RunKindPipeline  RunKind = "pipeline"
)

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusPartial  RunStatus = "partial"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of backfill, calculate, or the composed pipeline.
type Run struct {
	ID          string         `json:"id"`
	Kind        RunKind        `json:"kind"`
	Status      RunStatus      `json:"status"`
	Summary     map[string]any `json:"summary,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Duration returns how long the run took, or zero while it is still running.
func (r Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
