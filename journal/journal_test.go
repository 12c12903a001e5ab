package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestOpen_WritesSessionStartHeaderWithMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	w, err := Open(path, map[string]any{"workflow_name": "build-feature"})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "session_start", lines[0]["event"])
	assert.Equal(t, "build-feature", lines[0]["workflow_name"])
	assert.Equal(t, "session_end", lines[1]["event"])
}

func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "run.jsonl")
	w, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestRecord_AppendsOneLinePerEventAndStampsTS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.jsonl")
	w, err := Open(path, nil)
	require.NoError(t, err)

	require.NoError(t, w.Record(map[string]any{"event": "step_started", "step_name": "install"}))
	require.NoError(t, w.Record(map[string]any{"event": "step_completed", "step_name": "install"}))
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 4) // header + 2 records + footer
	assert.Equal(t, "step_started", lines[1]["event"])
	assert.NotEmpty(t, lines[1]["ts"])
	assert.Equal(t, "step_completed", lines[2]["event"])
}
