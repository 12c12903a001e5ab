package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHashInputsStableUnderKeyOrder(t *testing.T) {
	a := map[string]any{"branch": "001-x", "count": 3}
	b := map[string]any{"count": 3, "branch": "001-x"}

	ha, err := HashInputs(a)
	require.NoError(t, err)
	hb, err := HashInputs(b)
	require.NoError(t, err)

	require.Equal(t, ha, hb)
	require.Len(t, ha, 16)
}

func TestFileStoreSaveLoadIdempotence(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "checkpoints"))
	require.NoError(t, err)

	data := Data{
		CheckpointID: "done",
		WorkflowName: "feature-build",
		InputsHash:   "abcdef0123456789",
		StepResults:  []StepResult{{Name: "init", Output: map[string]any{"ok": true}}},
		SavedAt:      time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, store.Save("feature-build", data))

	loaded, ok, err := store.Load("feature-build", "done")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, data.CheckpointID, loaded.CheckpointID)
	require.Equal(t, data.InputsHash, loaded.InputsHash)
	require.Equal(t, data.StepResults, loaded.StepResults)
}

func TestFileStoreSweepsLeftoverTmp(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save("wf", Data{CheckpointID: "a", WorkflowName: "wf"}))

	tmpPath := filepath.Join(dir, "wf", "a.json.tmp")
	require.NoError(t, os.WriteFile(tmpPath, []byte("{"), 0o644))

	_, err = NewFileStore(dir)
	require.NoError(t, err)

	require.NoFileExists(t, tmpPath)
}

func TestMemoryStoreLoadLatest(t *testing.T) {
	store := NewMemoryStore()
	older := Data{CheckpointID: "phase1", WorkflowName: "wf", SavedAt: time.Now().Add(-time.Minute)}
	newer := Data{CheckpointID: "phase2", WorkflowName: "wf", SavedAt: time.Now()}

	require.NoError(t, store.Save("wf", older))
	require.NoError(t, store.Save("wf", newer))

	latest, ok, err := store.LoadLatest("wf")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "phase2", latest.CheckpointID)
}
