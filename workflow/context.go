package workflow

import (
	"sync"

	"github.com/maverick-run/maverick/expr"
)

// iterationFrame is the `{item, index}` pair active while executing inside
// a for_each/loop body.
type iterationFrame struct {
	item  any
	index int
}

// pendingRollback is one LIFO entry: the step that registered it and the
// compensating action to invoke on failure.
type pendingRollback struct {
	stepName string
	action   Action
}

// RunContext is the mutable runtime value the executor owns for one run,
// the workflow context. Step outputs are write-once; the only mutations
// after a step completes are appends to results/rollbacks, both performed
// exclusively by the executor between handler invocations.
type RunContext struct {
	WorkflowName string
	Inputs       map[string]any

	mu      sync.RWMutex
	results map[string]StepResult // keyed by step name

	iterStack []iterationFrame
	rollbacks []pendingRollback
}

// NewRunContext creates a fresh context for a run, optionally seeded with
// prior results when resuming from a checkpoint.
func NewRunContext(workflowName string, inputs map[string]any, seed map[string]StepResult) *RunContext {
	rc := &RunContext{
		WorkflowName: workflowName,
		Inputs:       inputs,
		results:      make(map[string]StepResult),
	}
	for k, v := range seed {
		rc.results[k] = v
	}
	return rc
}

// HasResult reports whether a step has already been recorded — used by the
// executor to skip steps already satisfied by a restored checkpoint.
func (rc *RunContext) HasResult(stepName string) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	_, ok := rc.results[stepName]
	return ok
}

// SetResult records a step's outcome. Step outputs are write-once within a
// run; a second write to the same name is a programming
// error in the executor, not a user-facing condition, so it simply
// overwrites rather than panicking — the invariant is upheld by the
// executor never calling SetResult twice for one step in one pass.
func (rc *RunContext) SetResult(stepName string, result StepResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.results[stepName] = result
}

// Result returns a previously recorded step result.
func (rc *RunContext) Result(stepName string) (StepResult, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	r, ok := rc.results[stepName]
	return r, ok
}

// AllResults returns a snapshot of every recorded result, used when writing
// a checkpoint.
func (rc *RunContext) AllResults() map[string]StepResult {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]StepResult, len(rc.results))
	for k, v := range rc.results {
		out[k] = v
	}
	return out
}

// PushIteration enters a for_each/loop frame; PopIteration leaves it. Frames
// nest (a loop inside a loop), but expr.Resolver only ever looks at the
// innermost frame: item/index always resolve against the current iteration.
func (rc *RunContext) PushIteration(item any, index int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.iterStack = append(rc.iterStack, iterationFrame{item: item, index: index})
}

func (rc *RunContext) PopIteration() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.iterStack) > 0 {
		rc.iterStack = rc.iterStack[:len(rc.iterStack)-1]
	}
}

// PushRollback registers a compensator for stepName, to be invoked LIFO on
// workflow failure.
func (rc *RunContext) PushRollback(stepName string, action Action) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.rollbacks = append(rc.rollbacks, pendingRollback{stepName: stepName, action: action})
}

// DrainRollbacks returns every registered rollback in LIFO order and clears
// the list, so the executor invokes each exactly once on failure.
func (rc *RunContext) DrainRollbacks() []pendingRollback {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]pendingRollback, len(rc.rollbacks))
	for i, r := range rc.rollbacks {
		out[len(rc.rollbacks)-1-i] = r
	}
	rc.rollbacks = nil
	return out
}

// resolver adapts RunContext to expr.Resolver for a given point in the
// step tree (the step's own copy gets read access to the RunContext plus
// whatever iteration frame is active at that nesting level).
type resolver struct {
	rc    *RunContext
	frame *iterationFrame // nil outside any for_each/loop
}

func (r *resolver) Input(name string) (any, bool) {
	v, ok := r.rc.Inputs[name]
	return v, ok
}

func (r *resolver) StepOutput(path []string) (any, bool) {
	if len(path) != 1 {
		return nil, false
	}
	res, ok := r.rc.Result(path[0])
	if !ok {
		return nil, false
	}
	return res.Output, true
}

func (r *resolver) Item() (any, bool) {
	if r.frame == nil {
		return nil, false
	}
	return r.frame.item, true
}

func (r *resolver) Index() (int, bool) {
	if r.frame == nil {
		return 0, false
	}
	return r.frame.index, true
}

// Resolver builds the expr.Resolver active at the current iteration depth.
func (rc *RunContext) Resolver() expr.Resolver {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if len(rc.iterStack) == 0 {
		return &resolver{rc: rc}
	}
	f := rc.iterStack[len(rc.iterStack)-1]
	return &resolver{rc: rc, frame: &f}
}
