// Package security holds the per-device admission checks applied to every
// inbound envelope: replay detection, rate limiting and structural validation.
package security

import "sync"

// Keyed is a table of values, each guarded by its own mutex. Work on
// different keys proceeds in parallel; work on the same key is serialized.
type Keyed[T any] struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry[T]
	init    func() T
}

type keyedEntry[T any] struct {
	mu   sync.Mutex
	val  T
	dead bool // removed from the table; Do retries on a fresh entry
}

// NewKeyed creates a table whose entries are initialized with init on first use.
func NewKeyed[T any](init func() T) *Keyed[T] {
	return &Keyed[T]{entries: make(map[string]*keyedEntry[T]), init: init}
}

func (k *Keyed[T]) entry(key string) *keyedEntry[T] {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry[T]{val: k.init()}
		k.entries[key] = e
	}
	return e
}

// Do runs fn with exclusive access to the value stored under key.
// fn must not call Prune or DeleteIf on the same table.
func (k *Keyed[T]) Do(key string, fn func(*T)) {
	for !k.entry(key).run(fn) {
	}
}

func (e *keyedEntry[T]) run(fn func(*T)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return false
	}
	fn(&e.val)
	return true
}

// DeleteIf removes key when drop reports true for its value.
func (k *Keyed[T]) DeleteIf(key string, drop func(val *T) bool) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		return false
	}
	return k.retire(key, e, drop)
}

// Prune removes every entry for which drop reports true and returns how many
// were removed.
func (k *Keyed[T]) Prune(drop func(val *T) bool) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	removed := 0
	for key, e := range k.entries {
		if k.retire(key, e, drop) {
			removed++
		}
	}
	return removed
}

func (k *Keyed[T]) retire(key string, e *keyedEntry[T], drop func(val *T) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !drop(&e.val) {
		return false
	}
	e.dead = true
	delete(k.entries, key)
	return true
}

// Len returns the number of keys currently held.
func (k *Keyed[T]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Range calls fn for every key, holding that key's lock during the call.
func (k *Keyed[T]) Range(fn func(key string, val *T)) {
	k.mu.Lock()
	keys := make([]string, 0, len(k.entries))
	entries := make([]*keyedEntry[T], 0, len(k.entries))
	for key, e := range k.entries {
		keys = append(keys, key)
		entries = append(entries, e)
	}
	k.mu.Unlock()

	for i, e := range entries {
		e.mu.Lock()
		if !e.dead {
			fn(keys[i], &e.val)
		}
		e.mu.Unlock()
	}
}
