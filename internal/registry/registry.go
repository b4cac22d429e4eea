// Package registry maps connected clients to the simulator they read from.
package registry

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Registry tracks which simulator each connected client is reading from.
type Registry struct {
	next atomic.Int64

	mu sync.RWMutex
	m  map[int64]string
}

func New() *Registry {
	return &Registry{
		m: make(map[int64]string),
	}
}

// Next allocates a client id. Ids start at 1 and are never reused.
func (r *Registry) Next() int64 {
	return r.next.Add(1)
}

func (r *Registry) Register(client int64, simulator string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[client] = simulator
}

func (r *Registry) Lookup(client int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[client]
	return s, ok
}

// Remove forgets client and reports whether it was registered.
func (r *Registry) Remove(client int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.m[client]
	delete(r.m, client)
	return ok
}

// Release forgets client only if it is still registered with simulator.
func (r *Registry) Release(client int64, simulator string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[client]; !ok || s != simulator {
		return false
	}
	delete(r.m, client)
	return true
}

// Clients returns the registered client ids in ascending order, optionally
// restricted to one simulator.
func (r *Registry) Clients(simulator string) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.m))
	for id, s := range r.m {
		if simulator == "" || s == simulator {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
