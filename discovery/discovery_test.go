package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maverick-run/maverick/workflow"
)

func writeWorkflow(t *testing.T, dir, file, name string) {
	t.Helper()
	doc := "name: " + name + "\nsteps:\n  - name: a\n    type: checkpoint\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(doc), 0o644))
}

func TestScan_ProjectOverridesUser(t *testing.T) {
	builtin := t.TempDir()
	user := t.TempDir()
	project := t.TempDir()

	writeWorkflow(t, user, "greet.yaml", "greet")
	writeWorkflow(t, project, "greet.yaml", "greet")

	reg := workflow.NewComponentRegistry(false)
	result, err := Scan(Config{BuiltinDir: builtin, UserDir: user, ProjectDir: project}, reg)
	require.NoError(t, err)

	require.Contains(t, result.Workflows, "greet")
	require.Len(t, result.OverriddenPaths, 1)
	assert.Contains(t, result.OverriddenPaths[0], "user shadowed by project")
}

func TestScan_MissingLayerDirIsNotAnError(t *testing.T) {
	reg := workflow.NewComponentRegistry(false)
	result, err := Scan(Config{UserDir: "/does/not/exist"}, reg)
	require.NoError(t, err)
	assert.Empty(t, result.Workflows)
}

func TestScan_BadFileIsSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("not: [valid"), 0o644))
	writeWorkflow(t, dir, "ok.yaml", "ok")

	reg := workflow.NewComponentRegistry(false)
	result, err := Scan(Config{ProjectDir: dir}, reg)
	require.NoError(t, err)

	assert.Contains(t, result.Workflows, "ok")
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, LayerProject, result.Skipped[0].Layer)
}

func TestScan_FragmentsSubdirIncluded(t *testing.T) {
	dir := t.TempDir()
	fragDir := filepath.Join(dir, "fragments")
	require.NoError(t, os.MkdirAll(fragDir, 0o755))
	writeWorkflow(t, fragDir, "snippet.yaml", "snippet")
	writeWorkflow(t, dir, "top.yaml", "top")

	reg := workflow.NewComponentRegistry(false)
	result, err := Scan(Config{ProjectDir: dir}, reg)
	require.NoError(t, err)
	assert.Contains(t, result.Workflows, "snippet")
	assert.Contains(t, result.Workflows, "top")
	assert.Equal(t, []string{"snippet"}, result.Fragments, "only the fragments/ file should be reported as a fragment")
}

func TestScan_ProjectNonFragmentOverridesUserFragment(t *testing.T) {
	user := t.TempDir()
	project := t.TempDir()

	fragDir := filepath.Join(user, "fragments")
	require.NoError(t, os.MkdirAll(fragDir, 0o755))
	writeWorkflow(t, fragDir, "snippet.yaml", "snippet")
	writeWorkflow(t, project, "snippet.yaml", "snippet")

	reg := workflow.NewComponentRegistry(false)
	result, err := Scan(Config{UserDir: user, ProjectDir: project}, reg)
	require.NoError(t, err)
	assert.Empty(t, result.Fragments, "project's top-level copy should win and no longer count as a fragment")
}

func TestResult_RegisterSortsAndRegisters(t *testing.T) {
	dir := t.TempDir()
	writeWorkflow(t, dir, "a.yaml", "a")
	writeWorkflow(t, dir, "b.yaml", "b")

	reg := workflow.NewComponentRegistry(false)
	result, err := Scan(Config{ProjectDir: dir}, reg)
	require.NoError(t, err)
	require.NoError(t, result.Register(reg))

	assert.ElementsMatch(t, []string{"a", "b"}, reg.Workflows.Names())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".maverick/workflows"), expandHome("~/.maverick/workflows"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
}
