// Package types holds small generic containers used by the transaction layer.
package types

import (
	"iter"
	"slices"
	"sync"
)

// CallbackManager keeps an ordered set of callbacks.
// The zero value is ready to use.
type CallbackManager[T any] struct {
	mu     sync.RWMutex
	items  []callbackItem[T]
	nextID uint64
}

type callbackItem[T any] struct {
	id uint64
	cb T
}

// Add registers cb and returns a function that unregisters it.
// The returned function is safe to call multiple times.
func (m *CallbackManager[T]) Add(cb T) (remove func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.items = append(m.items, callbackItem[T]{id, cb})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.items = slices.DeleteFunc(m.items, func(it callbackItem[T]) bool { return it.id == id })
			m.mu.Unlock()
		})
	}
}

func (m *CallbackManager[T]) Len() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// All iterates over a snapshot of registered callbacks in registration order.
// Callbacks added or removed during iteration do not affect it.
func (m *CallbackManager[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if m == nil {
			return
		}

		m.mu.RLock()
		snap := make([]T, len(m.items))
		for i, it := range m.items {
			snap[i] = it.cb
		}
		m.mu.RUnlock()

		for _, cb := range snap {
			if !yield(cb) {
				return
			}
		}
	}
}

// ContextKey is a type for context value keys of the module packages.
type ContextKey string
