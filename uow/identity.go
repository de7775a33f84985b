package uow

import (
	"sync"

	"keel/domain"
)

// IdentityMap guarantees at most one in-memory instance per entity identity
// within one unit of work. It lives and dies with its owning scope.
type IdentityMap struct {
	mu      sync.Mutex
	entries map[domain.Identity]domain.Entity
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[domain.Identity]domain.Entity)}
}

// GetOrTrack returns the tracked instance for id, or materializes one through
// loader and tracks it. The loader runs under the map lock so two concurrent
// lookups of the same identity cannot both materialize.
func (m *IdentityMap) GetOrTrack(id domain.Identity, loader func() (domain.Entity, error)) (domain.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok {
		return e, nil
	}
	e, err := loader()
	if err != nil {
		return nil, err
	}
	m.entries[id] = e
	return e, nil
}

// Track registers an instance as the canonical one for its identity.
// An already-tracked identity keeps its original instance.
func (m *IdentityMap) Track(e domain.Entity) domain.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[e.Identity()]; ok {
		return existing
	}
	m.entries[e.Identity()] = e
	return e
}

// Get returns the tracked instance for id, if any.
func (m *IdentityMap) Get(id domain.Identity) (domain.Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

// Len reports how many identities are tracked.
func (m *IdentityMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Clear detaches every tracked entity. Called when the owning unit of work
// ends, commit and rollback alike.
func (m *IdentityMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[domain.Identity]domain.Entity)
}
