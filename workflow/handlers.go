package workflow

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/maverick-run/maverick/checkpoint"
	"github.com/maverick-run/maverick/expr"
	"github.com/maverick-run/maverick/streaming"
	"golang.org/x/sync/errgroup"
)

// runStep dispatches a single step: evaluate the guard, resolve
// expressions, emit StepStarted, invoke the handler (with retry where
// applicable), record the result, emit StepCompleted, and apply
// continue_on_error.
//
// It returns (nil, nil) for a silently skipped step, (res, nil) for any
// outcome that should not halt the enclosing sequence (success, or a
// failure absorbed by continue_on_error), and (res, err) for a terminal
// failure that must propagate to the caller's failure path.
func (e *Executor) runStep(ctx context.Context, step Step, rc *RunContext, emit EventCallback, stepPath string) (*StepResult, error) {
	var resultErr error
	r := rc.Resolver()

	if step.If != "" {
		v, err := expr.Resolve(step.If, r)
		if err != nil {
			return nil, &StepFailureError{StepName: step.Name, StepPath: stepPath, StepType: step.Type, Cause: err}
		}
		if !expr.Truthy(v) {
			return nil, nil // inert: no events, not recorded
		}
	}

	e.emit(emit, Event{Type: EventStepStarted, TS: time.Now().UTC(), StepName: step.Name, StepPath: stepPath, StepType: step.Type})

	if e.Tracer != nil {
		var endSpan func(error)
		ctx, endSpan = e.Tracer.StartStep(ctx, step.Name, string(step.Type), stepPath)
		defer func() { endSpan(resultErr) }()
	}

	start := time.Now()
	policy := step.Retry
	if policy == nil && step.Type == StepValidate {
		policy = defaultValidateRetry
	}

	out, herr := withRetry(ctx, policy, func(attempt int) (any, error) {
		return e.dispatch(ctx, step, rc, emit, stepPath)
	})
	resultErr = herr
	duration := time.Since(start).Milliseconds()

	res := StepResult{Success: herr == nil, Output: out, DurationMS: duration, StepType: step.Type, Err: herr}
	rc.SetResult(step.Name, res)

	success := res.Success
	errText := ""
	if herr != nil {
		errText = herr.Error()
	}
	e.emit(emit, Event{
		Type: EventStepCompleted, TS: time.Now().UTC(), StepName: step.Name, StepPath: stepPath,
		StepType: step.Type, DurationMS: duration, Success: &success, Output: out, Error: errText,
	})

	if herr == nil {
		if step.Rollback != "" {
			if action, lookupErr := e.Registry.Actions.Get(step.Rollback); lookupErr == nil {
				rc.PushRollback(step.Name, action)
			}
		}
		return &res, nil
	}

	wrapped := &StepFailureError{StepName: step.Name, StepPath: stepPath, StepType: step.Type, Cause: herr}
	if step.ContinueOnError {
		return &res, nil
	}
	return &res, wrapped
}

// dispatch invokes the collaborator for one attempt of a step. It does not
// emit the step's own StepStarted/StepCompleted events or record its result —
// runStep owns that so retries stay silent until the terminal attempt. The
// handlers it calls do emit their own events (stream chunks, loop
// iterations, checkpoint saves, and nested steps' events).
func (e *Executor) dispatch(ctx context.Context, step Step, rc *RunContext, emit EventCallback, stepPath string) (any, error) {
	r := rc.Resolver()
	switch step.Type {
	case StepPython:
		return e.runPython(ctx, step, r)
	case StepAgent:
		return e.runAgent(ctx, step, rc, r, emit, stepPath)
	case StepGenerate:
		return e.runGenerate(ctx, step, rc, r, emit, stepPath)
	case StepValidate:
		return e.runValidate(ctx, step, r)
	case StepSubworkflow:
		return e.runSubworkflow(ctx, step, rc, emit, stepPath)
	case StepBranch:
		return e.runBranch(ctx, step, rc, r, emit, stepPath)
	case StepParallel:
		return e.runParallel(ctx, step, rc, r, emit, stepPath)
	case StepLoop:
		return e.runLoop(ctx, step, rc, r, emit, stepPath)
	case StepCheckpoint:
		return e.runCheckpoint(ctx, step, rc, r, emit, stepPath)
	default:
		return nil, &SchemaValidationError{Path: step.Name, Message: "unknown step type at dispatch"}
	}
}

func (e *Executor) runPython(ctx context.Context, step Step, r expr.Resolver) (any, error) {
	action, err := e.Registry.Actions.Get(step.Action)
	if err != nil {
		return nil, err
	}
	args, err := resolveDeep(step.Args, r)
	if err != nil {
		return nil, err
	}
	kwargs, err := resolveDeep(step.Kwargs, r)
	if err != nil {
		return nil, err
	}
	kw, _ := kwargs.(map[string]any)
	argSlice, _ := args.([]any)
	return action(ctx, argSlice, kw)
}

func (e *Executor) buildContext(step Step, rc *RunContext, r expr.Resolver) (map[string]any, error) {
	switch c := step.Context.(type) {
	case nil:
		return map[string]any{}, nil
	case string:
		builder, err := e.Registry.ContextBuilders.Get(c)
		if err != nil {
			return nil, err
		}
		return builder(map[string]any{}, rc)
	default:
		resolved, err := resolveDeep(c, r)
		if err != nil {
			return nil, err
		}
		m, ok := resolved.(map[string]any)
		if !ok {
			return nil, &EvaluationErrorLike{Message: "context did not resolve to an object"}
		}
		return m, nil
	}
}

func (e *Executor) runAgent(ctx context.Context, step Step, rc *RunContext, r expr.Resolver, emit EventCallback, stepPath string) (any, error) {
	factory, err := e.Registry.Agents.Get(step.Agent)
	if err != nil {
		return nil, err
	}
	agentCtx, err := e.buildContext(step, rc, r)
	if err != nil {
		return nil, err
	}
	spacer := &streaming.TextToolSpacer{}
	cb := spacer.Wrap(streaming.WithPrefix(stepPath, func(c streaming.Chunk) {
		e.emit(emit, Event{
			Type: EventAgentStreamChunk, TS: time.Now().UTC(), StepPath: c.StepPath,
			ChunkKind: chunkKindString(c.Kind), Text: c.Text,
		})
	}))
	return factory().Execute(ctx, rc, agentCtx, cb)
}

func (e *Executor) runGenerate(ctx context.Context, step Step, rc *RunContext, r expr.Resolver, emit EventCallback, stepPath string) (any, error) {
	factory, err := e.Registry.Generators.Get(step.Generator)
	if err != nil {
		return nil, err
	}
	genCtx, err := e.buildContext(step, rc, r)
	if err != nil {
		return nil, err
	}
	spacer := &streaming.TextToolSpacer{}
	cb := spacer.Wrap(streaming.WithPrefix(stepPath, func(c streaming.Chunk) {
		e.emit(emit, Event{
			Type: EventAgentStreamChunk, TS: time.Now().UTC(), StepPath: c.StepPath,
			ChunkKind: chunkKindString(c.Kind), Text: c.Text,
		})
	}))
	return factory().Generate(ctx, rc, genCtx, cb)
}

func chunkKindString(k streaming.ChunkKind) string {
	switch k {
	case streaming.ChunkToolCall:
		return "tool_call"
	case streaming.ChunkToolResult:
		return "tool_result"
	default:
		return "text"
	}
}

func (e *Executor) runValidate(ctx context.Context, step Step, r expr.Resolver) (any, error) {
	stages, err := resolveStageNames(step.Stages, r)
	if err != nil {
		return nil, err
	}
	if e.Validate == nil {
		return nil, &EvaluationErrorLike{Message: "validate step " + step.Name + ": no validation runner configured"}
	}
	results := make(map[string]ValidationResult, len(stages))
	for _, stage := range stages {
		res, err := e.Validate(ctx, stage, "")
		if err != nil {
			return results, err
		}
		results[stage] = res
		if !res.OK && !res.Skipped {
			if !step.ContinueOnError {
				return results, &StepFailureError{StepName: step.Name, StepType: step.Type, Cause: &EvaluationErrorLike{Message: "validation stage " + stage + " failed"}}
			}
		}
	}
	return results, nil
}

func (e *Executor) runBranch(ctx context.Context, step Step, rc *RunContext, r expr.Resolver, emit EventCallback, stepPath string) (any, error) {
	for _, opt := range step.Options {
		v, err := expr.Resolve(opt.Predicate, r)
		if err != nil {
			return nil, err
		}
		if expr.Truthy(v) {
			res, err := e.runStep(ctx, opt.Step, rc, emit, stepPath+"/"+opt.Step.Name)
			if err != nil {
				return nil, err
			}
			if res == nil {
				return nil, nil
			}
			return res.Output, nil
		}
	}
	return nil, &NoBranchMatchedError{StepName: step.Name}
}

// runSubworkflow looks up the referenced workflow, builds a fresh child
// context holding only the child's resolved inputs (the parent's step
// results are not visible to the child's expressions), and runs it with a
// child Executor whose event stream drops WorkflowStarted/Completed (the
// parent step's own started/completed events already frame the sub-run) and
// forwards everything else path-prefixed.
func (e *Executor) runSubworkflow(ctx context.Context, step Step, rc *RunContext, emit EventCallback, stepPath string) (any, error) {
	child, err := e.Registry.Workflows.Get(step.Workflow)
	if err != nil {
		return nil, err
	}
	r := rc.Resolver()
	resolvedInputs, err := resolveDeep(step.SubInputs, r)
	if err != nil {
		return nil, err
	}
	inputsMap, _ := resolvedInputs.(map[string]any)
	inputsMap = applyDefaults(child, inputsMap)

	childRC := NewRunContext(child.Name, inputsMap, nil)
	childEmit := func(ev Event) {
		if ev.Type == EventWorkflowStarted || ev.Type == EventWorkflowCompleted {
			return
		}
		if ev.StepPath != "" {
			ev.StepPath = stepPath + "/" + ev.StepPath
		}
		// Deliver directly to the real sink and OnEvent exactly once, with
		// the prefixed path. The child executor below has no OnEvent of its
		// own, so the nested emits reach OnEvent only through this closure.
		emit(ev)
		if e.OnEvent != nil {
			e.OnEvent(ev)
		}
	}

	childExec := *e
	childExec.OnEvent = nil
	result, err := childExec.runTopLevel(ctx, child, childRC, childEmit, "")
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &StepFailureError{StepName: step.Name, StepType: step.Type, Cause: &EvaluationErrorLike{Message: "subworkflow step " + result.FailedStep + " failed"}}
	}
	return result.FinalOutput, nil
}

// forkChild produces an isolated RunContext for one parallel/loop iteration:
// it starts from a snapshot of the parent's results (so nested steps can
// reference outer step outputs) but writes made inside the iteration never
// leak back to the parent — results are collected per task, not shared
// mutable state.
func forkChild(parent *RunContext) *RunContext {
	return NewRunContext(parent.WorkflowName, parent.Inputs, parent.AllResults())
}

// runChain executes steps sequentially against rc, returning the ordered
// list of each step's own output (skipped steps contribute no entry). This
// is the body-execution primitive shared by parallel and loop.
func (e *Executor) runChain(ctx context.Context, steps []Step, rc *RunContext, emit EventCallback, pathPrefix string) ([]any, error) {
	outputs := make([]any, 0, len(steps))
	for _, s := range steps {
		res, err := e.runStep(ctx, s, rc, emit, pathPrefix+"/"+s.Name)
		if err != nil {
			return outputs, err
		}
		if res != nil {
			outputs = append(outputs, res.Output)
		}
	}
	return outputs, nil
}

// firstErr returns the first non-nil error in errs in index order, or nil.
func firstErr(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runParallel(ctx context.Context, step Step, rc *RunContext, r expr.Resolver, emit EventCallback, stepPath string) (any, error) {
	if step.ForEach != "" {
		v, err := expr.Resolve(step.ForEach, r)
		if err != nil {
			return nil, err
		}
		items, err := toAnySlice(v)
		if err != nil {
			return nil, err
		}
		results := make([]any, len(items))
		errs := make([]error, len(items))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.limit())
		for i, item := range items {
			i, item := i, item
			g.Go(func() error {
				e.emit(emit, Event{Type: EventLoopIterationStarted, TS: time.Now().UTC(), StepPath: stepPath, IterationIndex: i})
				child := forkChild(rc)
				child.PushIteration(item, i)
				out, err := e.runChain(gctx, step.Steps, child, emit, stepPath+"/["+strconv.Itoa(i)+"]")
				results[i] = out
				errs[i] = err
				e.emit(emit, Event{Type: EventLoopIterationCompleted, TS: time.Now().UTC(), StepPath: stepPath, IterationIndex: i})
				return nil // siblings must still run; errors are reported via errs, not group cancellation
			})
		}
		g.Wait()
		return map[string]any{"results": results}, firstErr(errs)
	}

	// No for_each: each nested step is its own concurrent task.
	results := make([]any, len(step.Steps))
	errs := make([]error, len(step.Steps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit())
	for i, nested := range step.Steps {
		i, nested := i, nested
		g.Go(func() error {
			child := forkChild(rc)
			res, err := e.runStep(gctx, nested, child, emit, stepPath+"/"+nested.Name)
			if res != nil {
				results[i] = res.Output
			}
			errs[i] = err
			return nil
		})
	}
	g.Wait()
	return map[string]any{"results": results}, firstErr(errs)
}

func (e *Executor) limit() int {
	if e.MaxParallelSteps <= 0 {
		return 8
	}
	return e.MaxParallelSteps
}

func (e *Executor) runLoop(ctx context.Context, step Step, rc *RunContext, r expr.Resolver, emit EventCallback, stepPath string) (any, error) {
	if step.Until != "" {
		return e.runUntilLoop(ctx, step, rc, emit, stepPath)
	}
	return e.runForEachLoop(ctx, step, rc, r, emit, stepPath)
}

func (e *Executor) runUntilLoop(ctx context.Context, step Step, rc *RunContext, emit EventCallback, stepPath string) (any, error) {
	var last []any
	for i := 0; i < step.MaxIterations; i++ {
		e.emit(emit, Event{Type: EventLoopIterationStarted, TS: time.Now().UTC(), StepPath: stepPath, IterationIndex: i})
		child := forkChild(rc)
		child.PushIteration(nil, i)
		out, err := e.runChain(ctx, step.Steps, child, emit, stepPath+"/["+strconv.Itoa(i)+"]")
		last = out
		e.emit(emit, Event{Type: EventLoopIterationCompleted, TS: time.Now().UTC(), StepPath: stepPath, IterationIndex: i})
		if err != nil {
			return last, err
		}

		v, err := expr.Resolve(step.Until, child.Resolver())
		if err != nil {
			return last, err
		}
		if expr.Truthy(v) {
			return last, nil
		}
	}
	return last, &LoopExhaustedError{StepName: step.Name, MaxIterations: step.MaxIterations}
}

func (e *Executor) runForEachLoop(ctx context.Context, step Step, rc *RunContext, r expr.Resolver, emit EventCallback, stepPath string) (any, error) {
	v, err := expr.Resolve(step.ForEach, r)
	if err != nil {
		return nil, err
	}
	items, err := toAnySlice(v)
	if err != nil {
		return nil, err
	}

	if step.IsParallel {
		results := make([]any, len(items))
		errs := make([]error, len(items))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.limit())
		for i, item := range items {
			i, item := i, item
			g.Go(func() error {
				e.emit(emit, Event{Type: EventLoopIterationStarted, TS: time.Now().UTC(), StepPath: stepPath, IterationIndex: i})
				child := forkChild(rc)
				child.PushIteration(item, i)
				out, err := e.runChain(gctx, step.Steps, child, emit, stepPath+"/["+strconv.Itoa(i)+"]")
				results[i] = out
				if !step.ContinueOnError {
					errs[i] = err
				}
				e.emit(emit, Event{Type: EventLoopIterationCompleted, TS: time.Now().UTC(), StepPath: stepPath, IterationIndex: i})
				return nil // non-fail-fast: every iteration runs regardless of a sibling's error
			})
		}
		g.Wait()
		return results, firstErr(errs)
	}

	results := make([]any, 0, len(items))
	for i, item := range items {
		e.emit(emit, Event{Type: EventLoopIterationStarted, TS: time.Now().UTC(), StepPath: stepPath, IterationIndex: i})
		child := forkChild(rc)
		child.PushIteration(item, i)
		out, err := e.runChain(ctx, step.Steps, child, emit, stepPath+"/["+strconv.Itoa(i)+"]")
		results = append(results, out)
		e.emit(emit, Event{Type: EventLoopIterationCompleted, TS: time.Now().UTC(), StepPath: stepPath, IterationIndex: i})
		if err != nil {
			if step.ContinueOnError {
				continue
			}
			return results, err
		}
	}
	return results, nil
}

func (e *Executor) runCheckpoint(ctx context.Context, step Step, rc *RunContext, r expr.Resolver, emit EventCallback, stepPath string) (any, error) {
	idVal, err := resolveString(step.CheckpointID, r)
	if err != nil {
		return nil, err
	}
	id, _ := idVal.(string)
	if id == "" {
		id = step.Name
	}

	hash, err := checkpoint.HashInputs(rc.Inputs)
	if err != nil {
		return nil, &CheckpointError{Op: "save", Cause: err}
	}

	all := rc.AllResults()
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	stepResults := make([]checkpoint.StepResult, 0, len(names))
	for _, n := range names {
		stepResults = append(stepResults, checkpoint.StepResult{Name: n, Output: all[n].Output})
	}

	data := checkpoint.Data{
		CheckpointID: id,
		WorkflowName: rc.WorkflowName,
		InputsHash:   hash,
		StepResults:  stepResults,
		SavedAt:      time.Now().UTC(),
	}

	if e.Checkpoint != nil {
		if err := e.Checkpoint.Save(rc.WorkflowName, data); err != nil {
			// Checkpoint save failure is non-fatal: log and continue.
			e.logger().Warn("checkpoint save failed", "workflow", rc.WorkflowName, "checkpoint_id", id, "error", err)
		} else {
			e.emit(emit, Event{Type: EventCheckpointSaved, TS: time.Now().UTC(), StepPath: stepPath, CheckpointID: id})
		}
	}
	return map[string]any{"checkpoint_id": id}, nil
}

func toAnySlice(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case nil:
		return nil, nil
	default:
		return nil, &EvaluationErrorLike{Message: "for_each did not resolve to a list"}
	}
}
