package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"adpilot/internal/ops"
)

func TestWriteAndReadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "plan.json")

	in := map[string]any{"plan_id": "plan-x", "total": float64(3)}
	assert.NoError(t, WriteJSON(path, in))

	var out map[string]any
	assert.NoError(t, ReadJSON(path, "plan", &out))
	assert.Equal(t, in, out)

	// No temp leftovers after a successful write.
	entries, err := os.ReadDir(filepath.Dir(path))
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReadJSONNotFound(t *testing.T) {
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), "snapshot", &struct{}{})
	assert.True(t, ops.IsArtifactNotFound(err))
	assert.Contains(t, err.Error(), "snapshot not found")
}

func TestLatestDir(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"20260827-090000", "20260829-110000", "20260828-100000"} {
		assert.NoError(t, os.MkdirAll(filepath.Join(root, name), 0o755))
	}
	// Hidden dirs and plain files are ignored.
	assert.NoError(t, os.MkdirAll(filepath.Join(root, ".partial"), 0o755))
	assert.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	latest, err := LatestDir(root, "snapshot")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "20260829-110000"), latest)
}

func TestLatestDirEmpty(t *testing.T) {
	_, err := LatestDir(t.TempDir(), "snapshot")
	assert.True(t, ops.IsArtifactNotFound(err))

	_, err = LatestDir(filepath.Join(t.TempDir(), "does-not-exist"), "snapshot")
	assert.True(t, ops.IsArtifactNotFound(err))
}
