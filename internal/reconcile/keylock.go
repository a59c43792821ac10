package reconcile

import (
	"sync"

	"github.com/sells-group/compintel/internal/store"
)

// keyedLocks serializes reconciliation per (entity, field) key while leaving
// different keys free to run in parallel. A single global lock here would
// defeat the sweep's fan-out.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[store.Key]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[store.Key]*sync.Mutex)}
}

// acquire locks the mutex for key and returns its unlock function.
func (k *keyedLocks) acquire(key store.Key) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
