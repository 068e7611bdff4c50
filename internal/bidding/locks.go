package bidding

import (
	"context"
	"sync"
)

// keyedMutex provides mutual exclusion per auction id. Bid processing and
// finalization for the same auction share one lock; distinct auctions
// proceed fully in parallel.
//
// Each key holds a one-slot channel semaphore with a reference count, so
// idle entries are removed once the last waiter releases.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key, blocking until it is held or ctx is done.
// Returns false if ctx expired first; the caller must not proceed and must
// not call the returned unlock path.
func (k *keyedMutex) Lock(ctx context.Context, key string) bool {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		k.release(key, e)
		return false
	}
}

// Unlock releases the lock for key. Must be called exactly once per
// successful Lock, on every exit path.
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	e, ok := k.locks[key]
	k.mu.Unlock()
	if !ok {
		return
	}
	<-e.sem
	k.release(key, e)
}

func (k *keyedMutex) release(key string, e *lockEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
