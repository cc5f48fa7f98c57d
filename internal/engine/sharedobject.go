package engine

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamstore/streamstore/internal/fs"
)

// SharedObject is the per-(item_id, version) coordination record shared
// between the one admitted Writer and any number of concurrent Readers.
//
// observedSize and finished are published with release semantics (store
// happens-before the notifier wake a waiter observes) so a Reader that wakes
// up and loads a new size is guaranteed the corresponding bytes are already
// durable on disk.
type SharedObject struct {
	key ObjectKey

	observedSize atomic.Uint64
	finished     atomic.Bool

	notifyMu sync.Mutex
	notify   *sync.Cond

	readMu   sync.Mutex
	readFile fs.File

	refMu sync.Mutex
	refs  int
}

// newSharedObject opens an independent read-side handle onto dataPath and
// returns a SharedObject with refs=1 (the caller's own reference). initSize
// and initFinished seed the object for the restart-recovery path (open
// question 2); fresh admissions pass 0/false.
func newSharedObject(key ObjectKey, fsys fs.FS, dataPath string, initSize uint64, initFinished bool) (*SharedObject, error) {
	f, err := fsys.Open(dataPath)
	if err != nil {
		return nil, err
	}

	so := &SharedObject{
		key:      key,
		readFile: f,
		refs:     1,
	}
	so.notify = sync.NewCond(&so.notifyMu)
	so.observedSize.Store(initSize)
	so.finished.Store(initFinished)

	return so, nil
}

// acquire adds a reference. Used by Readers and by Registry lookups so the
// entry survives for as long as anyone holds it (open question 1).
func (so *SharedObject) acquire() {
	so.refMu.Lock()
	so.refs++
	so.refMu.Unlock()
}

// release drops a reference, closing the read-side handle once the last
// holder is gone. Returns the remaining refcount.
func (so *SharedObject) release() int {
	so.refMu.Lock()
	so.refs--
	remaining := so.refs
	so.refMu.Unlock()

	if remaining == 0 {
		so.readMu.Lock()
		_ = so.readFile.Close()
		so.readMu.Unlock()
	}

	return remaining
}

func (so *SharedObject) refCount() int {
	so.refMu.Lock()
	defer so.refMu.Unlock()

	return so.refs
}

// updateSize publishes a new observed size and wakes all waiting Readers.
// Callers guarantee monotonicity; called only by the owning Writer.
func (so *SharedObject) updateSize(newSize uint64) {
	so.observedSize.Store(newSize)

	so.notifyMu.Lock()
	so.notify.Broadcast()
	so.notifyMu.Unlock()
}

// markFinished sets finished=true and wakes all waiting Readers. Idempotent;
// the Writer calls it at most once, on a successful commit.
func (so *SharedObject) markFinished() {
	so.finished.Store(true)

	so.notifyMu.Lock()
	so.notify.Broadcast()
	so.notifyMu.Unlock()
}

func (so *SharedObject) getSize() uint64 {
	return so.observedSize.Load()
}

func (so *SharedObject) isFinished() bool {
	return so.finished.Load()
}

// readAt performs a positioned read into buf, serialized behind a mutex
// since the shared read-side handle has a single seek cursor: two readers
// interleaving their seek+read pair would tear each other's read. A
// pread(2)-based implementation (via fs.File.Fd()) would remove this
// serialization entirely; this is the generic, platform-independent path.
func (so *SharedObject) readAt(offset uint64, buf []byte) (int, error) {
	so.readMu.Lock()
	defer so.readMu.Unlock()

	if _, err := so.readFile.Seek(int64(offset), io.SeekStart); err != nil {
		return 0, err
	}

	return so.readFile.Read(buf)
}

// waitTimeout blocks on the notifier until the next updateSize/markFinished
// call, or until timeout elapses, whichever comes first. Spurious wake-ups
// are permitted; callers re-check state after returning.
func (so *SharedObject) waitTimeout(timeout time.Duration) {
	woke := make(chan struct{})

	go func() {
		so.notifyMu.Lock()
		so.notify.Wait()
		so.notifyMu.Unlock()
		close(woke)
	}()

	select {
	case <-woke:
	case <-time.After(timeout):
		// Wake the parked goroutine above so it doesn't leak; a stray
		// Broadcast from elsewhere fulfills the Wait that our own timeout
		// gave up on.
		so.notifyMu.Lock()
		so.notify.Broadcast()
		so.notifyMu.Unlock()
		<-woke
	}
}
