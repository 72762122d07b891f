package connection

import (
	"io"
	"sync"
)

// Entry is anything the registry can track and close.
type Entry interface {
	ID() string
	io.Closer
}

// Registry tracks live connections so they can be enumerated and shut
// down together.  Entries remove themselves when they close.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Add registers e.  A nil registry ignores the call.
func (r *Registry) Add(e Entry) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.entries[e.ID()] = e
	r.mu.Unlock()
}

// Remove forgets the entry with the given id.
func (r *Registry) Remove(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Get returns the entry with the given id.
func (r *Registry) Get(id string) (Entry, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CloseAll closes every registered entry.
func (r *Registry) CloseAll() {
	if r == nil {
		return
	}
	r.mu.RLock()
	all := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		all = append(all, e)
	}
	r.mu.RUnlock()

	for _, e := range all {
		e.Close() //nolint:errcheck
	}
}
