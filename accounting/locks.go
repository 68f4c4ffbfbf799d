package accounting

import (
	"sync"
)

// keyedLocks serializes balance writers per user id. Many users proceed
// concurrently; two writers for the same user never overlap.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) forKey(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	return lock
}

// Lock acquires the per-key lock and returns its unlock function.
func (k *keyedLocks) Lock(key string) func() {
	lock := k.forKey(key)
	lock.Lock()
	return lock.Unlock
}
