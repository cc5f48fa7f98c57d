package engine

import (
	"fmt"
	"time"

	"github.com/streamstore/streamstore/internal/fs"
)

// ChunkSize is the read granularity for Reader.ReadChunk. Implementation-
// defined; must be >= 1.
const ChunkSize = 8192

// notifierWaitTimeout bounds each SharedObject.notifier.wait call. It is not
// a user-visible timeout: on expiry the Reader simply re-checks is_finished
// and loops.
const notifierWaitTimeout = 30 * time.Second

// Reader is the tail-follow path for a single (item_id, version). Any
// number of Readers may coexist on the same SharedObject; each tracks its
// own monotonic read_offset.
type Reader struct {
	key        ObjectKey
	registry   *Registry
	shared     *SharedObject
	readOffset uint64
	closed     bool
}

// OpenReader looks the key up in the Registry. On a miss it falls back to
// recoverFromDisk (open question 2): if persisted metadata shows a
// committed_version >= the requested version, a finished SharedObject is
// synthesized over the existing data file so readers can observe
// already-committed items after a process restart. Otherwise ErrNotFound.
func OpenReader(root string, fsys fs.FS, registry *Registry, itemID string, version uint64) (*Reader, error) {
	key := ObjectKey{ItemID: itemID, Version: version}

	if shared, ok := registry.get(key); ok {
		return &Reader{key: key, registry: registry, shared: shared}, nil
	}

	shared, err := recoverFromDisk(root, fsys, registry, key)
	if err != nil {
		return nil, err
	}

	return &Reader{key: key, registry: registry, shared: shared}, nil
}

// recoverFromDisk consults on-disk metadata (no lock needed, it only reads)
// and, if the committed version covers the request, registers a
// finished=true SharedObject sized to the data file's current length.
func recoverFromDisk(root string, fsys fs.FS, registry *Registry, key ObjectKey) (*SharedObject, error) {
	metaPath := metadataPath(root, key.ItemID)

	raw, err := fsys.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	committed := decodeMetadata(raw)
	if committed < key.Version {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	dPath := dataPath(root, key.ItemID, key.Version)

	info, err := fsys.Stat(dPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	return registry.getOrCreate(key, func() (*SharedObject, error) {
		return newSharedObject(key, fsys, dPath, uint64(info.Size()), true)
	})
}

// ReadChunk returns the next chunk of bytes, or (nil, false) once the
// stream's true end has been reached (offset == size and the writer has
// finalized). It blocks, re-checking state on a bounded timeout, while
// waiting for more bytes or finalization.
func (r *Reader) ReadChunk() ([]byte, bool, error) {
	for {
		offset := r.readOffset
		size := r.shared.getSize()

		if offset < size {
			n := size - offset
			if n > ChunkSize {
				n = ChunkSize
			}

			buf := make([]byte, n)

			m, err := r.shared.readAt(offset, buf)
			if err != nil {
				return nil, false, fmt.Errorf("%w: read_at: %w", ErrIO, err)
			}

			if m == 0 {
				// Racing truncation should not occur since size is
				// monotonic; treat as transient and retry rather than
				// returning a false EOF.
				continue
			}

			r.readOffset += uint64(m)

			return buf[:m], true, nil
		}

		if r.shared.isFinished() {
			return nil, false, nil
		}

		r.shared.waitTimeout(notifierWaitTimeout)
	}
}

// Close releases the Reader's reference on the SharedObject. No other
// cleanup is required; a Reader abandoned mid-wait (client disconnect)
// needs nothing beyond this.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}

	r.closed = true
	r.registry.releaseIfIdle(r.key, r.shared)

	return nil
}
