package workflow

import "fmt"

// SchemaValidationError reports a structural problem found while parsing a
// workflow document.
type SchemaValidationError struct {
	Path    string
	Message string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation error at %s: %s", e.Path, e.Message)
}

// DuplicateStepNameError reports two sibling steps sharing a name,
// an invariant enforced by the parser.
type DuplicateStepNameError struct {
	Container string
	Name      string
}

func (e *DuplicateStepNameError) Error() string {
	return fmt.Sprintf("duplicate step name %q within %s", e.Name, e.Container)
}

// StepFailureError wraps a handler error with the step identity needed for
// diagnostics and the failure-summary line.
type StepFailureError struct {
	StepName string
	StepPath string
	StepType StepType
	Cause    error
}

func (e *StepFailureError) Error() string {
	return fmt.Sprintf("step %q (%s) failed: %v", e.StepName, e.StepType, e.Cause)
}

func (e *StepFailureError) Unwrap() error { return e.Cause }

// RollbackError reports a compensator failure. It never masks the original
// workflow failure — the executor collects these separately and emits a
// RollbackError event per occurrence.
type RollbackError struct {
	StepName string
	Cause    error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback for step %q failed: %v", e.StepName, e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Cause }

// CheckpointError wraps a save/load/hash-mismatch failure from the
// checkpoint store. Save errors are non-fatal; load errors force
// a fresh start.
type CheckpointError struct {
	Op    string // "save" | "load"
	Cause error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s error: %v", e.Op, e.Cause)
}

func (e *CheckpointError) Unwrap() error { return e.Cause }

// NoBranchMatchedError is raised when a branch step exhausts its options
// without a truthy predicate.
type NoBranchMatchedError struct {
	StepName string
}

func (e *NoBranchMatchedError) Error() string {
	return fmt.Sprintf("branch step %q: no branch matched", e.StepName)
}

// LoopExhaustedError is raised when an until-loop reaches max_iterations
// without the until condition becoming truthy.
type LoopExhaustedError struct {
	StepName      string
	MaxIterations int
}

func (e *LoopExhaustedError) Error() string {
	return fmt.Sprintf("loop step %q: exhausted %d iterations without until becoming true", e.StepName, e.MaxIterations)
}
