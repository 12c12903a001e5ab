package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maverick-run/maverick/checkpoint"
)

// Executor walks a parsed Workflow value, resolving expressions, dispatching
// to handlers, emitting events, and driving rollback on failure. The
// construct-once, Run-per-request composition style generalizes from a
// DAG/Autonomous split to this engine's step-variant DSL.
type Executor struct {
	Registry   *ComponentRegistry
	Checkpoint checkpoint.Store
	Validate   ValidationRunner

	// MaxParallelSteps caps concurrency for parallel/loop(parallel) fan-out.
	// Set from ambient config.Concurrency.MaxParallelSteps.
	MaxParallelSteps int

	// OnEvent is called for metrics/tracing observers in addition to the
	// caller-supplied EventCallback passed to Run; nil is fine.
	OnEvent func(Event)

	// Logger receives non-fatal warnings: checkpoint save failures, large
	// step outputs, and the like. Defaults to slog.Default().
	Logger *slog.Logger

	// Tracer, when set, opens one span per run and one child span per step.
	// nil disables tracing entirely.
	Tracer StepTracer
}

// StepTracer is the narrow slice of tracing.Tracer the executor depends on,
// kept here so this package doesn't import the concrete otel wrapper.
type StepTracer interface {
	StartRun(ctx context.Context, workflowName string) (context.Context, EndFunc)
	StartStep(ctx context.Context, stepName, stepType, stepPath string) (context.Context, EndFunc)
}

// EndFunc closes a span, recording err as its outcome.
type EndFunc = func(err error)

// NewExecutor builds an Executor with sane defaults.
func NewExecutor(reg *ComponentRegistry, store checkpoint.Store, validate ValidationRunner) *Executor {
	return &Executor{
		Registry:         reg,
		Checkpoint:       store,
		Validate:         validate,
		MaxParallelSteps: 8,
		Logger:           slog.Default(),
	}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// RunResult is the outcome of a top-level Run.
type RunResult struct {
	RunID       string
	Success     bool
	FinalOutput any
	FailedStep  string
	Cancelled   bool
}

// Run executes wf against inputs, resuming from the latest checkpoint when
// one exists and its inputs_hash matches. Every event emitted carries a
// fresh run id, letting an observer correlate events across a run without
// a checkpoint in play.
func (e *Executor) Run(ctx context.Context, wf *Workflow, inputs map[string]any, emit EventCallback) (*RunResult, error) {
	if emit == nil {
		emit = noopCallback
	}
	runID := uuid.NewString()
	outer := emit
	emit = func(ev Event) {
		ev.RunID = runID
		outer(ev)
	}
	inputs = applyDefaults(wf, inputs)

	e.emit(emit, Event{Type: EventWorkflowStarted, TS: time.Now().UTC(), WorkflowName: wf.Name, Inputs: inputs})

	var err error
	if e.Tracer != nil {
		var endRun func(error)
		ctx, endRun = e.Tracer.StartRun(ctx, wf.Name)
		defer func() { endRun(err) }()
	}

	rc, resumeFrom, err := e.resume(wf, inputs)
	if err != nil {
		return nil, err
	}

	result, err := e.runTopLevel(ctx, wf, rc, emit, resumeFrom)
	if err != nil {
		return nil, err
	}

	success := result.Success
	e.emit(emit, Event{
		Type:        EventWorkflowCompleted,
		TS:          time.Now().UTC(),
		WorkflowName: wf.Name,
		Success:     &success,
		FinalOutput: result.FinalOutput,
		FailedStep:  result.FailedStep,
		Cancelled:   result.Cancelled,
	})
	result.RunID = runID
	return result, nil
}

// applyDefaults seeds declared-but-absent inputs with their declared
// default value (InputSpec.Default); inputs without a default stay absent.
func applyDefaults(wf *Workflow, inputs map[string]any) map[string]any {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = v
	}
	for _, in := range wf.Inputs {
		if _, ok := out[in.Name]; !ok && in.Default != nil {
			out[in.Name] = in.Default
		}
	}
	return out
}

// resume loads the latest checkpoint (if any) and, on an inputs_hash match,
// seeds the run context and returns the name of the step to resume after.
// A hash mismatch or absent checkpoint results in a fresh RunContext and an
// empty resumeFrom.
func (e *Executor) resume(wf *Workflow, inputs map[string]any) (*RunContext, string, error) {
	if e.Checkpoint == nil {
		return NewRunContext(wf.Name, inputs, nil), "", nil
	}
	data, ok, err := e.Checkpoint.LoadLatest(wf.Name)
	if err != nil || !ok {
		return NewRunContext(wf.Name, inputs, nil), "", nil
	}
	hash, err := checkpoint.HashInputs(inputs)
	if err != nil {
		return nil, "", fmt.Errorf("workflow: hashing inputs: %w", err)
	}
	if hash != data.InputsHash {
		return NewRunContext(wf.Name, inputs, nil), "", nil
	}

	seed := make(map[string]StepResult, len(data.StepResults))
	for _, sr := range data.StepResults {
		seed[sr.Name] = StepResult{Success: true, Output: sr.Output}
	}
	return NewRunContext(wf.Name, inputs, seed), data.CheckpointID, nil
}

// runTopLevel iterates the top-level steps honouring resumeFrom (skip every
// step up to and including the checkpoint id without re-emitting events for
// them) and drives the failure/rollback path on a terminal error.
func (e *Executor) runTopLevel(ctx context.Context, wf *Workflow, rc *RunContext, emit EventCallback, resumeFrom string) (*RunResult, error) {
	skipping := resumeFrom != ""
	var lastOutput any
	var failedStep string
	failed := false
	cancelled := false

	for _, step := range wf.Steps {
		if skipping {
			res, ok := rc.Result(step.Name)
			if ok {
				lastOutput = res.Output
			}
			if step.CheckpointID == resumeFrom || step.Name == resumeFrom {
				skipping = false
				continue
			}
			if ok {
				continue
			}
			skipping = false
		}

		res, err := e.runStep(ctx, step, rc, emit, step.Name)
		if err != nil {
			if ctx.Err() != nil {
				cancelled = true
			}
			failed = true
			failedStep = step.Name
			break
		}
		if res != nil {
			lastOutput = res.Output
		}
	}

	if failed {
		e.rollback(ctx, rc, emit)
		return &RunResult{Success: false, FailedStep: failedStep, Cancelled: cancelled}, nil
	}
	return &RunResult{Success: true, FinalOutput: lastOutput}, nil
}

// rollback drives the failure-recovery path: emit RollbackStarted, invoke
// every pending compensator LIFO, emit RollbackError per failure without
// stopping, then emit RollbackCompleted.
func (e *Executor) rollback(ctx context.Context, rc *RunContext, emit EventCallback) {
	pending := rc.DrainRollbacks()
	if len(pending) == 0 {
		return
	}
	e.emit(emit, Event{Type: EventRollbackStarted, TS: time.Now().UTC()})
	for _, p := range pending {
		if _, err := p.action(ctx, nil, nil); err != nil {
			e.emit(emit, Event{Type: EventRollbackError, TS: time.Now().UTC(), RollbackStep: p.stepName, Error: err.Error()})
		}
	}
	e.emit(emit, Event{Type: EventRollbackCompleted, TS: time.Now().UTC()})
}

func (e *Executor) emit(emit EventCallback, ev Event) {
	emit(ev)
	if e.OnEvent != nil {
		e.OnEvent(ev)
	}
}
