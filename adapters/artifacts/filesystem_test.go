package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveArtifact(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	store := NewFileStore(dir)

	loc, err := store.SaveArtifact(context.Background(), "run_manifest.yaml", []byte("run_id: x\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run_manifest.yaml"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "run_id: x\n", string(data))
}

func TestSaveArtifactRejectsEscapingKeys(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.SaveArtifact(context.Background(), "../x.yaml", []byte("x"))
	assert.Error(t, err)
}
