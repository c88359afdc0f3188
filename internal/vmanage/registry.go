package vmanage

import "sync"

// Registry keeps one Manager per profile so two managers never race each
// other's logins for the same controller account.
type Registry struct {
	mu       sync.Mutex
	managers map[string]*Manager
	opts     []Option
}

// NewRegistry creates a registry whose managers are built with opts.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{managers: make(map[string]*Manager), opts: opts}
}

// Get returns the manager for p, creating it on first use.
func (r *Registry) Get(p Profile) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[p.Key()]; ok && m.State() != StateClosed {
		return m
	}
	m := NewManager(p, r.opts...)
	r.managers[p.Key()] = m
	return m
}

// Remove closes and forgets the manager for p.
func (r *Registry) Remove(p Profile) {
	r.mu.Lock()
	m, ok := r.managers[p.Key()]
	delete(r.managers, p.Key())
	r.mu.Unlock()
	if ok {
		m.Close()
	}
}

// Managers returns the live managers.
func (r *Registry) Managers() []*Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		out = append(out, m)
	}
	return out
}

// Close closes every manager.
func (r *Registry) Close() {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()
	for _, m := range managers {
		m.Close()
	}
}
