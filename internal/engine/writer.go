package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/streamstore/streamstore/internal/fs"
	"github.com/streamstore/streamstore/internal/metacache"
)

// Writer is the append path for a single admitted (item_id, version). One
// Writer exists per accepted write request and exclusively owns the
// metadata lock for its lifetime, enforcing a single writer per item.
type Writer struct {
	key ObjectKey

	registry *Registry
	cache    *metacache.Cache

	metaLock *fs.Lock
	dataLock *fs.Lock

	shared      *SharedObject
	writeOffset uint64
	closed      bool
}

// OpenWriter runs the admission protocol: lock the metadata file,
// validate version monotonicity, lock and truncate the data file, and
// register a SharedObject for readers to attach to.
func OpenWriter(root string, fsys fs.FS, registry *Registry, cache *metacache.Cache, itemID string, version uint64) (*Writer, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: item_id must not be empty", ErrConflict)
	}

	if version == 0 {
		return nil, fmt.Errorf("%w: version must be > 0", ErrConflict)
	}

	metaPath := metadataPath(root, itemID)
	dPath := dataPath(root, itemID, version)

	// Fast-reject a stale version without a syscall. The on-disk file below
	// is still the source of truth; a stale cache entry never wrongly admits
	// a writer since step 3 re-parses metadata regardless of this check.
	if cache != nil {
		if committed, ok := cache.Get(itemID); ok && committed >= version {
			return nil, fmt.Errorf("%w: version %d not newer than cached committed version %d", ErrConflict, version, committed)
		}
	}

	locker := fs.NewLocker(fsys)

	metaLock, err := locker.TryLock(metaPath)
	if err != nil {
		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, fmt.Errorf("%w: metadata locked", ErrConflict)
		}

		return nil, fmt.Errorf("%w: lock metadata file: %w", ErrIO, err)
	}

	metaFile := metaLock.File()

	committed, err := readCommittedVersion(metaFile)
	if err != nil {
		metaLock.Close()

		return nil, fmt.Errorf("%w: read metadata: %w", ErrIO, err)
	}

	if version <= committed {
		metaLock.Close()

		return nil, fmt.Errorf("%w: version %d not newer than committed version %d", ErrConflict, version, committed)
	}

	dataLock, err := locker.TryLock(dPath)
	if err != nil {
		metaLock.Close()

		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, fmt.Errorf("%w: data locked", ErrConflict)
		}

		return nil, fmt.Errorf("%w: lock data file: %w", ErrIO, err)
	}

	dataFile := dataLock.File()

	if err := dataFile.Truncate(0); err != nil {
		dataLock.Close()
		metaLock.Close()

		return nil, fmt.Errorf("%w: truncate data file: %w", ErrIO, err)
	}

	if _, err := dataFile.Seek(0, io.SeekStart); err != nil {
		dataLock.Close()
		metaLock.Close()

		return nil, fmt.Errorf("%w: seek data file: %w", ErrIO, err)
	}

	key := ObjectKey{ItemID: itemID, Version: version}

	shared, err := registry.getOrCreate(key, func() (*SharedObject, error) {
		return newSharedObject(key, fsys, dPath, 0, false)
	})
	if err != nil {
		dataLock.Close()
		metaLock.Close()

		return nil, fmt.Errorf("%w: attach shared object: %w", ErrIO, err)
	}

	return &Writer{
		key:      key,
		registry: registry,
		cache:    cache,
		metaLock: metaLock,
		dataLock: dataLock,
		shared:   shared,
	}, nil
}

// WriteChunk appends bytes to the data file, syncs, and publishes the new
// size to the SharedObject so parked Readers wake and observe it. The
// Writer's state is undefined after a failing call; the caller must
// abandon the Writer without calling Finalize.
func (w *Writer) WriteChunk(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	dataFile := w.dataLock.File()

	if _, err := dataFile.Write(chunk); err != nil {
		return fmt.Errorf("%w: write chunk: %w", ErrIO, err)
	}

	if err := dataFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync data file: %w", ErrIO, err)
	}

	w.writeOffset += uint64(len(chunk))
	w.shared.updateSize(w.writeOffset)

	return nil
}

// Finalize commits the new version: metadata is rewritten in place (not via
// an atomic rename-swap, since that would replace the inode the held flock
// is guarding) only after every chunk has already been synced, so a reader
// who observes the new committed_version on disk can trust the data file is
// complete. SharedObject.markFinished is called last.
func (w *Writer) Finalize() error {
	metaFile := w.metaLock.File()

	if err := metaFile.Truncate(0); err != nil {
		return fmt.Errorf("%w: truncate metadata file: %w", ErrIO, err)
	}

	if _, err := metaFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek metadata file: %w", ErrIO, err)
	}

	if _, err := metaFile.Write(encodeMetadata(w.key.Version)); err != nil {
		return fmt.Errorf("%w: write metadata: %w", ErrIO, err)
	}

	if err := metaFile.Sync(); err != nil {
		return fmt.Errorf("%w: sync metadata file: %w", ErrIO, err)
	}

	if err := w.dataLock.File().Sync(); err != nil {
		return fmt.Errorf("%w: sync data file: %w", ErrIO, err)
	}

	w.shared.markFinished()

	if w.cache != nil {
		w.cache.Set(w.key.ItemID, w.key.Version)
	}

	return w.Close()
}

// Close releases the Writer's locks and drops its reference on the
// SharedObject, evicting the registry entry if this was a successful commit
// and no reader remains attached. Close is idempotent and is the caller's
// responsibility on the abandon-after-error path.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true

	_ = w.dataLock.Close()
	_ = w.metaLock.Close()

	w.registry.releaseIfIdle(w.key, w.shared)

	return nil
}

func readCommittedVersion(f fs.File) (uint64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		return 0, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	return decodeMetadata(raw), nil
}
