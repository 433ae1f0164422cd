// Package syncutil provides the per-key mutex used to serialize state changes
// for one user or one rate-limit key without serializing unrelated keys.
package syncutil

import "sync"

// KeyedMutex hands out one mutex per key. Entries are reference-counted and
// freed on the last unlock, so the map stays proportional to in-flight keys,
// not to all keys ever seen.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns its unlock func. The global map
// guard is held only during acquisition bookkeeping, never while a key is held.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
