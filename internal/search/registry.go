package search

import (
	"sync"

	"github.com/google/uuid"
)

// Registry holds the searches known to the process in creation order.
type Registry struct {
	mu       sync.RWMutex
	searches map[uuid.UUID]*Search
	order    []uuid.UUID
}

func NewRegistry() *Registry {
	return &Registry{searches: make(map[uuid.UUID]*Search)}
}

func (r *Registry) Add(s *Search) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.searches[s.id]; ok {
		return
	}
	r.searches[s.id] = s
	r.order = append(r.order, s.id)
}

func (r *Registry) Get(id uuid.UUID) (*Search, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.searches[id]
	return s, ok
}

func (r *Registry) List() []*Search {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Search, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.searches[id])
	}
	return out
}

// Remove forgets a search. Its running jobs are not interrupted.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.searches[id]; !ok {
		return false
	}
	delete(r.searches, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}
