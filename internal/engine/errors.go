package engine

import "errors"

// Error taxonomy. Values are sentinels; callers compare with [errors.Is].
// All three are wrapped with call-site context via fmt.Errorf("...: %w", ...).
var (
	// ErrConflict means another writer holds the admission lock for the
	// item, or the requested version is not strictly newer than the
	// committed version. OpenWriter also returns it for an empty item_id.
	ErrConflict = errors.New("conflict")

	// ErrNotFound means a reader was opened for an (item_id, version) with
	// no live SharedObject and no persisted, sufficiently-advanced metadata.
	ErrNotFound = errors.New("not found")

	// ErrIO wraps a filesystem error encountered outside of lock contention:
	// open, read, write, sync, or lock acquisition failing for a reason
	// other than the lock being held.
	ErrIO = errors.New("io error")
)
