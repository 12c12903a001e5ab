package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maverick-run/maverick/checkpoint"
	"github.com/maverick-run/maverick/config"
	"github.com/maverick-run/maverick/workflow"
)

func testConfig(t *testing.T, checkpointRoot, projectDir string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Checkpoint.Root = checkpointRoot
	cfg.Discovery.ProjectDir = projectDir
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNew_RegistersDiscoveredWorkflows(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.yaml"), []byte("name: greet\nsteps:\n  - name: a\n    type: checkpoint\n"), 0o644))

	cfg := testConfig(t, filepath.Join(t.TempDir(), "checkpoints"), dir)
	rt, err := New(cfg, WithPrometheusRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	assert.Contains(t, rt.Registry.Workflows.Names(), "greet")
}

func TestNew_OptionsOverrideDefaults(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "checkpoints"), t.TempDir())
	store := checkpoint.NewMemoryStore()
	reg := workflow.NewComponentRegistry(false)

	rt, err := New(cfg, WithCheckpointStore(store), WithRegistry(reg), WithPrometheusRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	assert.Same(t, store, rt.Store)
	assert.Same(t, reg, rt.Registry)
}

func TestRuntime_RunJournalsAndForwardsEvents(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "checkpoints"), t.TempDir())
	reg := workflow.NewComponentRegistry(false)
	require.NoError(t, reg.Actions.Register("noop", func(context.Context, []any, map[string]any) (any, error) {
		return "done", nil
	}))

	rt, err := New(cfg, WithRegistry(reg), WithPrometheusRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)

	wf := &workflow.Workflow{Name: "j", Steps: []workflow.Step{
		{Name: "a", Type: workflow.StepPython, Action: "noop"},
	}}

	journalPath := filepath.Join(t.TempDir(), "run.jsonl")
	var seen []workflow.EventType
	result, err := rt.Run(context.Background(), wf, nil, journalPath, func(ev workflow.Event) {
		seen = append(seen, ev.Type)
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, seen, workflow.EventStepCompleted)

	_, statErr := os.Stat(journalPath)
	require.NoError(t, statErr)
}

func TestNew_TracingEnabledWiresExecutorTracer(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "checkpoints"), t.TempDir())
	cfg.Tracing.Enabled = true

	rt, err := New(cfg, WithPrometheusRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.NotNil(t, rt.Executor().Tracer)
	assert.NoError(t, rt.Shutdown(context.Background()))
}

func TestRuntime_ShutdownWithoutTracingIsANoop(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "checkpoints"), t.TempDir())

	rt, err := New(cfg, WithPrometheusRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.Nil(t, rt.Executor().Tracer)
	assert.NoError(t, rt.Shutdown(context.Background()))
}
