package workflow

import "time"

// EventType discriminates the tagged event variant.
type EventType string

const (
	EventWorkflowStarted       EventType = "workflow_started"
	EventWorkflowCompleted     EventType = "workflow_completed"
	EventStepStarted           EventType = "step_started"
	EventStepCompleted         EventType = "step_completed"
	EventStepOutput            EventType = "step_output"
	EventAgentStreamChunk      EventType = "agent_stream_chunk"
	EventLoopIterationStarted  EventType = "loop_iteration_started"
	EventLoopIterationCompleted EventType = "loop_iteration_completed"
	EventCheckpointSaved       EventType = "checkpoint_saved"
	EventRollbackStarted       EventType = "rollback_started"
	EventRollbackCompleted     EventType = "rollback_completed"
	EventRollbackError         EventType = "rollback_error"
)

// Event is the single envelope every observer (journal, UI, HTTP stream)
// consumes. Only the fields relevant to Type are populated; the rest are
// zero. A struct-of-optionals is a deliberate simplification of a
// tagged-union shape — Go has no sum types, and the journal needs a single
// flat shape to append as one JSON line anyway.
type Event struct {
	Type  EventType `json:"event"`
	TS    time.Time `json:"ts"`
	RunID string    `json:"run_id,omitempty"`

	// workflow-level
	WorkflowName string         `json:"workflow_name,omitempty"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	FinalOutput  any            `json:"final_output,omitempty"`
	FailedStep   string         `json:"failed_step,omitempty"`
	Cancelled    bool           `json:"cancelled,omitempty"`

	// step-level
	StepName   string   `json:"step_name,omitempty"`
	StepPath   string   `json:"step_path,omitempty"`
	StepType   StepType `json:"step_type,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
	Output     any      `json:"output,omitempty"`
	Error      string   `json:"error,omitempty"`

	// loop iteration
	IterationIndex int `json:"iteration_index,omitempty"`

	// checkpoint
	CheckpointID string `json:"checkpoint_id,omitempty"`

	// rollback
	RollbackStep string `json:"rollback_step,omitempty"`

	// agent stream chunk
	ChunkKind string `json:"chunk_kind,omitempty"`
	Text      string `json:"text,omitempty"`
}

// EventCallback receives events in program order for a step, best-effort
// order across siblings.
type EventCallback func(Event)

func noopCallback(Event) {}
