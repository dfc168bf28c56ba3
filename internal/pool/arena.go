package pool

import (
	"sync"
	"sync/atomic"
)

// ArenaStats is a snapshot of arena usage.
type ArenaStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// Arena owns values created on demand and indexed by key. The destroy
// function runs exactly once for every value the arena stops owning, either
// on Replace or on Close.
//
// Arena is safe for concurrent use. Lookups take a read lock; creation uses
// double-checked locking so create runs at most once per key.
type Arena[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
	destroy func(V)
	closed  bool

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewArena creates an empty arena. destroy may be nil.
func NewArena[K comparable, V any](destroy func(V)) *Arena[K, V] {
	if destroy == nil {
		destroy = func(V) {}
	}
	return &Arena[K, V]{entries: make(map[K]V), destroy: destroy}
}

// GetOrCreate returns the value for key, calling create on the first request.
// A create error is returned as is and nothing is stored.
func (a *Arena[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	a.mu.RLock()
	if v, ok := a.entries[key]; ok {
		a.mu.RUnlock()
		a.hits.Add(1)
		return v, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if v, ok := a.entries[key]; ok {
		a.hits.Add(1)
		return v, nil
	}

	v, err := create()
	if err != nil {
		var zero V
		return zero, err
	}
	a.entries[key] = v
	a.misses.Add(1)
	return v, nil
}

// Get returns the value for key without creating it.
func (a *Arena[K, V]) Get(key K) (V, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.entries[key]
	return v, ok
}

// Replace stores v under key and destroys the value it replaces.
func (a *Arena[K, V]) Replace(key K, v V) {
	a.mu.Lock()
	old, ok := a.entries[key]
	a.entries[key] = v
	a.mu.Unlock()

	if ok {
		a.destroy(old)
	}
}

// Range calls fn for every entry until fn returns false. fn must not call
// back into the arena.
func (a *Arena[K, V]) Range(fn func(K, V) bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for k, v := range a.entries {
		if !fn(k, v) {
			return
		}
	}
}

// Stats returns usage counters.
func (a *Arena[K, V]) Stats() ArenaStats {
	a.mu.RLock()
	n := len(a.entries)
	a.mu.RUnlock()
	return ArenaStats{Entries: n, Hits: a.hits.Load(), Misses: a.misses.Load()}
}

// Close destroys every value. It is safe to call more than once.
func (a *Arena[K, V]) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	entries := a.entries
	a.entries = make(map[K]V)
	a.mu.Unlock()

	for _, v := range entries {
		a.destroy(v)
	}
}
