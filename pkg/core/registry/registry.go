// SPDX-FileCopyrightText: 2025 nOps and ccost-roles contributors
//
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrKeyAlreadyRegistered is returned when attempting to register a key, which
// is already present in the registry.
var ErrKeyAlreadyRegistered = errors.New("key is already registered")

// ErrStopIteration is an error, which is used to stop iterating over the
// registry.
var ErrStopIteration = errors.New("stop iteration")

// ErrContinue is a no-op error, which is used to signal [Registry.Range] to
// continue the iteration.
var ErrContinue = errors.New("continue iteration")

// Registry is a concurrent-safe registry.
type Registry[K cmp.Ordered, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New creates a new empty registry.
func New[K cmp.Ordered, V any]() *Registry[K, V] {
	r := &Registry[K, V]{
		items: make(map[K]V),
	}

	return r
}

// Register registers the key and value with the registry
func (r *Registry[K, V]) Register(key K, val V) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[key]; exists {
		return fmt.Errorf("%w: %v", ErrKeyAlreadyRegistered, key)
	}

	r.items[key] = val

	return nil
}

// MustRegister registers the key and value, or panics in case of errors.
func (r *Registry[K, V]) MustRegister(key K, val V) {
	if err := r.Register(key, val); err != nil {
		panic(err)
	}
}

// Unregister removes the key (if present) from the registry.
func (r *Registry[K, V]) Unregister(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.items, key)
}

// Overwrite replaces the key specified by K with the value V in the registry.
func (r *Registry[K, V]) Overwrite(key K, val V) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[key] = val
}

// Get returns the value associated with the given key and a boolean indicating
// whether the key is present in the registry.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	val, ok := r.items[key]

	return val, ok
}

// GetOrCreate returns the value associated with the given key. If the key is
// not present, newFunc is called under the registry lock and its result is
// registered and returned. Concurrent callers for the same key observe a
// single call to newFunc.
func (r *Registry[K, V]) GetOrCreate(key K, newFunc func() V) V {
	if val, ok := r.Get(key); ok {
		return val
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if val, ok := r.items[key]; ok {
		return val
	}

	val := newFunc()
	r.items[key] = val

	return val
}

// Exists returns a boolean indicating whether the given key exists in the
// registry.
func (r *Registry[K, V]) Exists(key K) bool {
	_, exists := r.Get(key)

	return exists
}

// Length returns the number of items in the registry.
func (r *Registry[K, V]) Length() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

// Keys returns the sorted keys of the registry.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]K, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}

// RangeFunc is a function which is called when iterating over the registry
// items. In order to stop iteration callers should return [ErrStopIteration].
type RangeFunc[K cmp.Ordered, V any] func(key K, val V) error

// Range calls f for each item in the registry in key order. If f returns an
// error other than [ErrContinue] or [ErrStopIteration], Range stops and
// returns that error.
//
// f must not call back into the registry.
func (r *Registry[K, V]) Range(f RangeFunc[K, V]) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]K, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		err := f(k, r.items[k])
		switch {
		case err == nil, errors.Is(err, ErrContinue):
			continue
		case errors.Is(err, ErrStopIteration):
			return nil
		default:
			return err
		}
	}

	return nil
}
