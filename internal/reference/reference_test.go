package reference_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/reference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArtifact(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCreateAndResolve(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "raw.mda")
	writeArtifact(t, artifact, "timeseries")

	ref, err := reference.Create(reference.PathFor(artifact), artifact, "epoch-1")
	require.NoError(t, err)
	assert.Equal(t, int64(len("timeseries")), ref.Descriptor.OriginalSize)

	got, err := reference.Resolve(filepath.Join(dir, "raw.mda.prv"))
	require.NoError(t, err)
	assert.Equal(t, artifact, got)

	loaded, err := reference.Load(ref.Path)
	require.NoError(t, err)
	assert.Equal(t, "epoch-1", loaded.Descriptor.Label)
}

func TestCreateMissingTarget(t *testing.T) {
	dir := t.TempDir()
	_, err := reference.Create(filepath.Join(dir, "x.prv"), filepath.Join(dir, "missing.mda"), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, reference.ErrNotFound))
	assert.NoFileExists(t, filepath.Join(dir, "x.prv"), "descriptor must not precede its target")
}

func TestResolveFailures(t *testing.T) {
	dir := t.TempDir()

	malformed := filepath.Join(dir, "bad.prv")
	writeArtifact(t, malformed, "{not json")

	empty := filepath.Join(dir, "empty.prv")
	writeArtifact(t, empty, `{"original_size": 3}`)

	dangling := filepath.Join(dir, "dangling.prv")
	writeArtifact(t, dangling, `{"original_path": "`+filepath.Join(dir, "gone.mda")+`"}`)

	tests := []struct {
		name string
		path string
	}{
		{"unreadable", filepath.Join(dir, "nope.prv")},
		{"malformed", malformed},
		{"no original_path", empty},
		{"dangling", dangling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reference.Resolve(tt.path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, reference.ErrNotFound))
			assert.True(t, errors.Is(err, models.ErrReferenceResolution))
		})
	}
}

func TestRelocateKeepsOriginalPathReadable(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(t.TempDir(), "scratch", "3")
	artifact := filepath.Join(dir, "filt.mda")
	writeArtifact(t, artifact, "filtered")

	ref, err := reference.Create(reference.PathFor(artifact), artifact, "")
	require.NoError(t, err)

	newPath, err := ref.Relocate(scratch)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(scratch, "filt.mda"), newPath)

	// Through the descriptor and the re-link at the original location.
	resolved, err := reference.Resolve(ref.Path)
	require.NoError(t, err)
	data, err := os.ReadFile(resolved)
	require.NoError(t, err)
	assert.Equal(t, "filtered", string(data))

	info, err := os.Lstat(artifact)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "original path should now be a symlink")

	// Directly at the new location.
	data, err = os.ReadFile(newPath)
	require.NoError(t, err)
	assert.Equal(t, "filtered", string(data))

	// Relocating again into the same dir changes nothing.
	again, err := ref.Relocate(scratch)
	require.NoError(t, err)
	resolvedScratch, _ := filepath.EvalSymlinks(scratch)
	assert.Equal(t, filepath.Join(resolvedScratch, "filt.mda"), again)
}

func TestDiscard(t *testing.T) {
	t.Run("plain artifact", func(t *testing.T) {
		dir := t.TempDir()
		artifact := filepath.Join(dir, "pre.mda")
		writeArtifact(t, artifact, "whitened")
		ref, err := reference.Create(reference.PathFor(artifact), artifact, "")
		require.NoError(t, err)

		require.NoError(t, ref.Discard())
		assert.NoFileExists(t, artifact)
		assert.NoFileExists(t, ref.Path)
	})

	t.Run("relocated artifact", func(t *testing.T) {
		dir := t.TempDir()
		scratch := t.TempDir()
		artifact := filepath.Join(dir, "pre.mda")
		writeArtifact(t, artifact, "whitened")
		ref, err := reference.Create(reference.PathFor(artifact), artifact, "")
		require.NoError(t, err)
		newPath, err := ref.Relocate(scratch)
		require.NoError(t, err)

		require.NoError(t, ref.Discard())
		assert.NoFileExists(t, newPath)
		_, err = os.Lstat(artifact)
		assert.True(t, os.IsNotExist(err), "link at original path should be removed")
		assert.NoFileExists(t, ref.Path)
	})
}
