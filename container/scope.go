package container

import "sync"

// Scope caches Scoped instances for the lifetime of one unit of work.
// Singleton resolution through a scope still hits the container-wide cache;
// transient resolution is untouched.
type Scope struct {
	container *Container
	mu        sync.Mutex
	instances map[string]*cell
}

// Resolve constructs or returns the scope-cached instance for a capability.
func (s *Scope) Resolve(capability string) (any, error) {
	res := &resolution{container: s.container, scope: s}
	return res.Resolve(capability)
}

// cell returns the memoization slot for a scoped capability, creating it on
// first use. Construction runs outside the scope lock so scoped factories can
// resolve further scoped dependencies.
func (s *Scope) cell(capability string) *cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.instances[capability]
	if !ok {
		c = &cell{}
		s.instances[capability] = c
	}
	return c
}
