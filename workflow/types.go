// Package workflow implements the DSL workflow engine: the typed step
// variants, the YAML schema/parser, the component registry composition, the
// executor, and the event stream. The step taxonomy generalizes from a
// DAG/Autonomous distinction down to nine concrete step variants.
package workflow

import "fmt"

// ============================================================================
// INPUT DECLARATIONS
// ============================================================================

// InputType enumerates the scalar/container kinds an input may declare.
type InputType string

const (
	InputString InputType = "string"
	InputInt    InputType = "integer"
	InputFloat  InputType = "float"
	InputBool   InputType = "boolean"
	InputArray  InputType = "array"
	InputObject InputType = "object"
)

// InputSpec describes one declared workflow input.
type InputSpec struct {
	Name        string
	Type        InputType
	Required    bool
	Default     any
	Description string
}

// ============================================================================
// STEP VARIANTS
// ============================================================================

// StepType discriminates the nine step variants.
type StepType string

const (
	StepPython      StepType = "python"
	StepAgent       StepType = "agent"
	StepGenerate    StepType = "generate"
	StepValidate    StepType = "validate"
	StepSubworkflow StepType = "subworkflow"
	StepBranch      StepType = "branch"
	StepParallel    StepType = "parallel"
	StepLoop        StepType = "loop"
	StepCheckpoint  StepType = "checkpoint"
)

// RetryPolicy configures the executor's retry-with-backoff behaviour.
type RetryPolicy struct {
	Attempts    int
	DelaySec    float64
	MaxDelaySec float64
}

// BranchOption is one `{predicate, nested step}` pair of a branch step.
type BranchOption struct {
	Predicate string
	Step      Step
}

// Step is a tagged variant over nine step types. Every variant shares the
// common fields; the rest are populated only for the relevant Type.
type Step struct {
	Name            string
	Type            StepType
	If              string
	ContinueOnError bool
	Retry           *RetryPolicy
	Rollback        string

	// python
	Action string
	Args   []any
	Kwargs map[string]any

	// agent / generate
	Agent     string
	Generator string
	Context   any // map[string]any (inline) or string (context-builder ref)

	// validate
	Stages any // []string or a "${{ ... }}" expression string

	// subworkflow
	Workflow  string
	SubInputs map[string]any

	// branch
	Options []BranchOption

	// parallel / loop (nested body)
	Steps   []Step
	ForEach string

	// loop only
	Until         string
	MaxIterations int
	IsParallel    bool // loop's own "parallel: true" flag

	// checkpoint
	CheckpointID string // may itself be a "${{ ... }}" expression
}

// ============================================================================
// WORKFLOW VALUE
// ============================================================================

// Workflow is the immutable value produced by the parser.
type Workflow struct {
	Name        string
	Version     string
	Description string
	Icon        string
	Inputs      []InputSpec
	Steps       []Step

	// OverriddenPaths records discovery-layer shadowing; empty
	// for workflows parsed directly rather than discovered.
	OverriddenPaths []string
}

// InputByName finds a declared input spec, if any.
func (w *Workflow) InputByName(name string) (InputSpec, bool) {
	for _, in := range w.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return InputSpec{}, false
}

// ============================================================================
// STEP RESULTS
// ============================================================================

// StepResult is the per-step record stored in the workflow context.
type StepResult struct {
	Success    bool
	Output     any
	DurationMS int64
	Err        error
	StepType   StepType
}

func (r StepResult) String() string {
	if r.Success {
		return fmt.Sprintf("StepResult{success, type=%s, duration=%dms}", r.StepType, r.DurationMS)
	}
	return fmt.Sprintf("StepResult{failed, type=%s, err=%v}", r.StepType, r.Err)
}
