package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maverick-run/maverick/checkpoint"
)

func doubleAction(_ context.Context, args []any, _ map[string]any) (any, error) {
	n, _ := args[0].(float64)
	return n * 2, nil
}

func failingAction(_ context.Context, _ []any, _ map[string]any) (any, error) {
	return nil, fmt.Errorf("boom")
}

func newTestRegistry() *ComponentRegistry {
	reg := NewComponentRegistry(false)
	_ = reg.Actions.Register("double", doubleAction)
	_ = reg.Actions.Register("fail", failingAction)
	return reg
}

func TestRun_SequentialFeatureBuild(t *testing.T) {
	reg := newTestRegistry()
	exec := NewExecutor(reg, checkpoint.NewMemoryStore(), nil)

	wf := &Workflow{
		Name: "build-feature",
		Steps: []Step{
			{Name: "step1", Type: StepPython, Action: "double", Args: []any{float64(2)}},
			{Name: "step2", Type: StepPython, Action: "double", Args: []any{"${{ steps.step1.output }}"}},
		},
	}

	result, err := exec.Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, float64(8), result.FinalOutput)
}

func TestRun_EveryEventCarriesTheSameRunID(t *testing.T) {
	reg := newTestRegistry()
	exec := NewExecutor(reg, checkpoint.NewMemoryStore(), nil)

	wf := &Workflow{
		Name: "single-step",
		Steps: []Step{
			{Name: "a", Type: StepPython, Action: "double", Args: []any{float64(1)}},
		},
	}

	var events []Event
	result, err := exec.Run(context.Background(), wf, nil, func(ev Event) { events = append(events, ev) })
	require.NoError(t, err)
	require.NotEmpty(t, result.RunID)

	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, result.RunID, ev.RunID)
	}

	other, err := exec.Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, result.RunID, other.RunID)
}

func TestRun_SubworkflowEventsReportOnEventExactlyOnceWithPrefixedPath(t *testing.T) {
	reg := newTestRegistry()
	exec := NewExecutor(reg, checkpoint.NewMemoryStore(), nil)

	child := &Workflow{
		Name: "child",
		Steps: []Step{
			{Name: "inner", Type: StepPython, Action: "double", Args: []any{float64(3)}},
		},
	}
	require.NoError(t, reg.Workflows.Register("child", child))

	var onEventPaths []string
	exec.OnEvent = func(ev Event) {
		if ev.Type == EventStepCompleted {
			onEventPaths = append(onEventPaths, ev.StepPath)
		}
	}

	wf := &Workflow{
		Name: "parent",
		Steps: []Step{
			{Name: "call-child", Type: StepSubworkflow, Workflow: "child"},
		},
	}

	result, err := exec.Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)

	// OnEvent must see the nested step's completion exactly once, and with
	// its path prefixed by the parent step's name, not twice (once prefixed,
	// once raw), followed by the parent step's own completion.
	assert.Equal(t, []string{"call-child/inner", "call-child"}, onEventPaths)
}

func TestRun_ParallelForEach(t *testing.T) {
	reg := newTestRegistry()
	exec := NewExecutor(reg, checkpoint.NewMemoryStore(), nil)

	wf := &Workflow{
		Name: "fan-out",
		Steps: []Step{
			{
				Name: "par", Type: StepParallel, ForEach: "${{ inputs.items }}",
				Steps: []Step{
					{Name: "double", Type: StepPython, Action: "double", Args: []any{"${{ item }}"}},
				},
			},
		},
	}

	result, err := exec.Run(context.Background(), wf, map[string]any{
		"items": []any{float64(1), float64(2), float64(3)},
	}, nil)
	require.NoError(t, err)
	require.True(t, result.Success)

	out, ok := result.FinalOutput.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{[]any{float64(2)}, []any{float64(4)}, []any{float64(6)}}, out["results"])
}

func TestRun_FailureTriggersRollback(t *testing.T) {
	reg := newTestRegistry()
	exec := NewExecutor(reg, checkpoint.NewMemoryStore(), nil)

	rolledBack := false
	_ = reg.Actions.Register("compensate", func(context.Context, []any, map[string]any) (any, error) {
		rolledBack = true
		return nil, nil
	})

	wf := &Workflow{
		Name: "risky",
		Steps: []Step{
			{Name: "setup", Type: StepPython, Action: "double", Args: []any{float64(1)}, Rollback: "compensate"},
			{Name: "boom", Type: StepPython, Action: "fail"},
		},
	}

	result, err := exec.Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.FailedStep)
	assert.True(t, rolledBack)
}

func TestRun_ResumeFromCheckpoint(t *testing.T) {
	reg := newTestRegistry()
	store := checkpoint.NewMemoryStore()
	exec := NewExecutor(reg, store, nil)

	firstCalls, secondCalls := 0, 0
	_ = reg.Actions.Register("count-first", func(context.Context, []any, map[string]any) (any, error) {
		firstCalls++
		return firstCalls, nil
	})
	_ = reg.Actions.Register("count-second", func(context.Context, []any, map[string]any) (any, error) {
		secondCalls++
		return secondCalls, nil
	})

	wf := &Workflow{
		Name: "resumable",
		Steps: []Step{
			{Name: "first", Type: StepPython, Action: "count-first"},
			{Name: "save", Type: StepCheckpoint},
			{Name: "second", Type: StepPython, Action: "fail"},
		},
	}

	// First run fails at "second"; "first" and "save" are checkpointed.
	result, err := exec.Run(context.Background(), wf, map[string]any{"x": 1}, nil)
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, 1, firstCalls)

	// Repair the workflow and resume with the same inputs: "first" must not
	// re-run, resuming after the checkpoint.
	wf.Steps[2] = Step{Name: "second", Type: StepPython, Action: "count-second"}
	result, err = exec.Run(context.Background(), wf, map[string]any{"x": 1}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, firstCalls, "first step's action must not re-run after resume")
	assert.Equal(t, 1, secondCalls)
}

func TestRun_UntilLoopWithProgress(t *testing.T) {
	reg := newTestRegistry()
	exec := NewExecutor(reg, checkpoint.NewMemoryStore(), nil)

	count := 0
	require.NoError(t, reg.Actions.Register("increment", func(context.Context, []any, map[string]any) (any, error) {
		count++
		return count >= 3, nil
	}))

	wf := &Workflow{
		Name: "retry-until",
		Steps: []Step{
			{
				Name: "poll", Type: StepLoop, Until: "${{ steps.inc.output }}", MaxIterations: 5,
				Steps: []Step{
					{Name: "inc", Type: StepPython, Action: "increment"},
				},
			},
		},
	}

	result, err := exec.Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, count)
}

func TestRun_ContinueOnErrorAbsorbsFailure(t *testing.T) {
	reg := newTestRegistry()
	exec := NewExecutor(reg, checkpoint.NewMemoryStore(), nil)

	wf := &Workflow{
		Name: "tolerant",
		Steps: []Step{
			{Name: "boom", Type: StepPython, Action: "fail", ContinueOnError: true},
			{Name: "after", Type: StepPython, Action: "double", Args: []any{float64(5)}},
		},
	}

	result, err := exec.Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, float64(10), result.FinalOutput)
}

func TestRun_IfGuardSkipsStepSilently(t *testing.T) {
	reg := newTestRegistry()
	exec := NewExecutor(reg, checkpoint.NewMemoryStore(), nil)

	var events []EventType
	wf := &Workflow{
		Name: "guarded",
		Steps: []Step{
			{Name: "skipped", Type: StepPython, Action: "double", Args: []any{float64(1)}, If: "${{ inputs.flag }}"},
		},
	}

	result, err := exec.Run(context.Background(), wf, map[string]any{"flag": false}, func(ev Event) {
		events = append(events, ev.Type)
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	for _, ev := range events {
		assert.NotEqual(t, EventStepStarted, ev, "a falsy-guarded step must not emit step_started")
	}
}

func TestRun_BranchNoMatchFails(t *testing.T) {
	reg := newTestRegistry()
	exec := NewExecutor(reg, checkpoint.NewMemoryStore(), nil)

	wf := &Workflow{
		Name: "branchy",
		Steps: []Step{
			{
				Name: "choose", Type: StepBranch,
				Options: []BranchOption{
					{Predicate: "${{ inputs.never }}", Step: Step{Name: "x", Type: StepPython, Action: "double", Args: []any{float64(1)}}},
				},
			},
		},
	}

	result, err := exec.Run(context.Background(), wf, map[string]any{"never": false}, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "choose", result.FailedStep)
}
