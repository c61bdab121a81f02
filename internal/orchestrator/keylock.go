// ABOUTME: Per-key mutual exclusion for lifecycle operations
// ABOUTME: Entries are reference counted and dropped when no caller holds or waits

package orchestrator

import "sync"

type refLock struct {
	mu   sync.Mutex
	refs int
}

// keyLock serializes callers that share a key while letting different keys
// proceed in parallel.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns the function that frees it.
func (k *keyLock) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size returns the number of keys held or awaited.
func (k *keyLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
