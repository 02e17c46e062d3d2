// Package registry provides the name to implementation maps used for instruction and
// trigger kinds.
package registry

import (
	"sort"
	"sync"
)

// Registry maps a type name to an implementation. Registering an existing name replaces
// the previous implementation; callers own name uniqueness.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func New[T any]() *Registry[T] {
	return &Registry[T]{
		items: make(map[string]T),
	}
}

func (r *Registry[T]) Register(name string, item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[name] = item
}

func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[name]

	return item, ok
}

// Names lists the registered type names in lexical order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// HealthCheck mirrors the other health reporters used by the API.
func (r *Registry[T]) HealthCheck() (string, bool) {
	if r == nil {
		return "Registry not initialized", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.items) == 0 {
		return "Registry is empty", false
	}

	return "Registry is healthy", true
}
