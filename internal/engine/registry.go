package engine

import "sync"

// Registry is the process-wide mapping from ObjectKey to SharedObject.
// Exactly one Registry is expected per process (lazy init at first use is
// fine; there is no teardown). All map manipulation happens under a single
// mutex; factory functions run while the mutex is held, which serializes
// admissions but keeps "at most one SharedObject per key" trivial to see.
type Registry struct {
	mu      sync.Mutex
	objects map[ObjectKey]*SharedObject
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		objects: make(map[ObjectKey]*SharedObject),
	}
}

// getOrCreate returns the existing SharedObject for key, or calls factory to
// create one and inserts it. Factory failure leaves the map unchanged. The
// returned SharedObject carries a reference the caller must release.
func (r *Registry) getOrCreate(key ObjectKey, factory func() (*SharedObject, error)) (*SharedObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if so, ok := r.objects[key]; ok {
		so.acquire()
		return so, nil
	}

	so, err := factory()
	if err != nil {
		return nil, err
	}

	r.objects[key] = so

	return so, nil
}

// get returns the live SharedObject for key, if any, with an acquired
// reference. The second return is false if no entry exists.
func (r *Registry) get(key ObjectKey) (*SharedObject, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	so, ok := r.objects[key]
	if !ok {
		return nil, false
	}

	so.acquire()

	return so, true
}

// remove unconditionally drops the entry for key, if present. Nothing in the
// engine calls it; normal operation goes through releaseIfIdle.
func (r *Registry) remove(key ObjectKey) {
	r.mu.Lock()
	delete(r.objects, key)
	r.mu.Unlock()
}

// releaseIfIdle drops the caller's reference on the SharedObject at key and,
// if it was finished and no other holder remains, evicts the entry. This
// resolves open question 1: the reference implementation never removes
// entries; here finished+refcount==0 (the registry itself holds no
// reference) is the eviction signal, so a still-being-tailed reader is never
// evicted out from under itself.
func (r *Registry) releaseIfIdle(key ObjectKey, so *SharedObject) {
	remaining := so.release()
	if remaining > 0 || !so.isFinished() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.objects[key]; ok && cur == so && so.refCount() == 0 {
		delete(r.objects, key)
	}
}
