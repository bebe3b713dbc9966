// Package session provides the process-wide, injectable state services used
// by the conversational layer: a keyed registry for sessions and selection
// states, a keyed mutex for per-key serialization, and a timer service.
//
// All registry mutations on a key are linearized by a single mutex. Values are
// cloned on the way in and out so callers never share memory with the registry.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrExists is returned by Create when the key is already present.
	ErrExists = errors.New("session: key already exists")
	// ErrNotFound is returned by Update when the key is absent.
	ErrNotFound = errors.New("session: key not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: registry closed")
)

type entry[V any] struct {
	value     V
	createdAt time.Time
	updatedAt time.Time
}

// Entry is a read-only view of a registry value with its timestamps.
type Entry[K comparable, V any] struct {
	Key       K
	Value     V
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry is a concurrency-safe keyed store with explicit lifetime.
type Registry[K comparable, V any] struct {
	name    string
	mu      sync.Mutex
	entries map[K]*entry[V]
	clone   func(V) V
	now     func() time.Time
	closed  bool
}

// NewRegistry creates a registry. clone may be nil for value types that are
// safe to copy by assignment.
func NewRegistry[K comparable, V any](name string, clone func(V) V) *Registry[K, V] {
	if clone == nil {
		clone = func(v V) V { return v }
	}
	slog.Debug("session.NewRegistry: created", "name", name)
	return &Registry[K, V]{
		name:    name,
		entries: make(map[K]*entry[V]),
		clone:   clone,
		now:     time.Now,
	}
}

// SetClock replaces the time source used for entry timestamps.
func (r *Registry[K, V]) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Create inserts v under k, failing with ErrExists if k is taken.
func (r *Registry[K, V]) Create(k K, v V) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.entries[k]; ok {
		return ErrExists
	}
	now := r.now()
	r.entries[k] = &entry[V]{value: r.clone(v), createdAt: now, updatedAt: now}
	return nil
}

// Put inserts or replaces the value under k.
func (r *Registry[K, V]) Put(k K, v V) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	now := r.now()
	if e, ok := r.entries[k]; ok {
		e.value = r.clone(v)
		e.updatedAt = now
		return nil
	}
	r.entries[k] = &entry[V]{value: r.clone(v), createdAt: now, updatedAt: now}
	return nil
}

// Get returns a copy of the value under k.
func (r *Registry[K, V]) Get(k K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	return r.clone(e.value), true
}

// Update applies fn to the current value of k under the registry lock.
// If fn returns an error the entry is left unchanged.
func (r *Registry[K, V]) Update(k K, fn func(V) (V, error)) (V, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero V
	e, ok := r.entries[k]
	if !ok {
		return zero, ErrNotFound
	}
	next, err := fn(r.clone(e.value))
	if err != nil {
		return zero, err
	}
	e.value = r.clone(next)
	e.updatedAt = r.now()
	return r.clone(e.value), nil
}

// Delete removes k and reports whether it was present. When a timeout and a
// user action race on the same key, only the caller that sees true proceeds.
func (r *Registry[K, V]) Delete(k K) bool {
	_, ok := r.Take(k)
	return ok
}

// Take removes k and returns its last value.
func (r *Registry[K, V]) Take(k K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	delete(r.entries, k)
	return e.value, true
}

// Len returns the number of live entries.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns copies of all entries.
func (r *Registry[K, V]) Snapshot() []Entry[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry[K, V], 0, len(r.entries))
	for k, e := range r.entries {
		out = append(out, Entry[K, V]{Key: k, Value: r.clone(e.value), CreatedAt: e.createdAt, UpdatedAt: e.updatedAt})
	}
	return out
}

// Find returns the first entry satisfying pred. Iteration order is unspecified.
func (r *Registry[K, V]) Find(pred func(K, V) bool) (Entry[K, V], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, e := range r.entries {
		if pred(k, e.value) {
			return Entry[K, V]{Key: k, Value: r.clone(e.value), CreatedAt: e.createdAt, UpdatedAt: e.updatedAt}, true
		}
	}
	return Entry[K, V]{}, false
}

// DeleteIdle removes entries not updated since cutoff and returns them.
func (r *Registry[K, V]) DeleteIdle(cutoff time.Time) []Entry[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []Entry[K, V]
	for k, e := range r.entries {
		if e.updatedAt.Before(cutoff) {
			removed = append(removed, Entry[K, V]{Key: k, Value: e.value, CreatedAt: e.createdAt, UpdatedAt: e.updatedAt})
			delete(r.entries, k)
		}
	}
	if len(removed) > 0 {
		slog.Debug("Registry.DeleteIdle: removed idle entries", "name", r.name, "count", len(removed))
	}
	return removed
}

// Close drops all entries and rejects further inserts.
func (r *Registry[K, V]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	slog.Debug("Registry.Close: dropping entries", "name", r.name, "count", len(r.entries))
	r.entries = make(map[K]*entry[V])
}
