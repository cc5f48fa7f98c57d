package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamstore/streamstore/internal/engine"
	"github.com/streamstore/streamstore/internal/fs"
)

// TestWriteChunkSurfacesSyncFailure injects a guaranteed fsync failure on the
// data file and confirms WriteChunk reports it as an IO error rather than
// silently losing bytes. Per the abandon-after-error contract the caller
// must drop the Writer without calling Finalize; committed_version and the
// metadata file are untouched.
func TestWriteChunkSurfacesSyncFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{SyncFailRate: 1.0})
	registry := engine.NewRegistry()

	w, err := engine.OpenWriter(root, chaos, registry, nil, "flaky", 1)
	require.NoError(t, err)

	err = w.WriteChunk([]byte("hello"))
	require.Error(t, err)
	require.ErrorIs(t, err, engine.ErrIO)

	require.NoError(t, w.Close())

	// Abandoning without Finalize must leave no committed version behind: a
	// fresh writer for the same version is still admitted.
	chaos.SetMode(fs.ChaosModeNoOp)

	w2, err := engine.OpenWriter(root, fs.NewReal(), registry, nil, "flaky", 1)
	require.NoError(t, err)
	require.NoError(t, w2.WriteChunk([]byte("retry")))
	require.NoError(t, w2.Finalize())
}

// TestReadChunkSurfacesIOFailure injects a guaranteed seek failure on the
// shared read-side handle and confirms Reader.ReadChunk reports it rather
// than returning a false clean end-of-stream. Finalize leaves no reader
// attached, so the registry entry is evicted and this exercises the restart-
// recovery path (synthesizing a SharedObject over the on-disk data file)
// with a faulty filesystem.
func TestReadChunkSurfacesIOFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	registry := engine.NewRegistry()

	w, err := engine.OpenWriter(root, fs.NewReal(), registry, nil, "flaky-read", 1)
	require.NoError(t, err)
	require.NoError(t, w.WriteChunk([]byte("data")))
	require.NoError(t, w.Finalize())

	chaos := fs.NewChaos(fs.NewReal(), 2, fs.ChaosConfig{SeekFailRate: 1.0})

	r, err := engine.OpenReader(root, chaos, registry, "flaky-read", 1)
	require.NoError(t, err)
	defer r.Close()

	_, _, err = r.ReadChunk()
	require.Error(t, err)
	require.ErrorIs(t, err, engine.ErrIO)
}
