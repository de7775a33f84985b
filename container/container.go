// Package container resolves abstract capability names to concrete providers.
// Bindings are declared at startup and frozen with Seal; after that the
// container is safe for unlimited concurrent resolution. Lookup is a tagged
// registry keyed by capability name, not reflection.
package container

import (
	"fmt"
	"slices"
	"sync"
)

// Lifetime controls how long a constructed instance is reused.
type Lifetime int

const (
	// Transient constructs a fresh instance on every resolution.
	Transient Lifetime = iota
	// Singleton constructs once per container, first resolution wins.
	Singleton
	// Scoped constructs once per Scope (one scope per unit of work).
	Scoped
)

func (l Lifetime) String() string {
	switch l {
	case Transient:
		return "transient"
	case Singleton:
		return "singleton"
	case Scoped:
		return "scoped"
	default:
		return fmt.Sprintf("lifetime(%d)", int(l))
	}
}

// Resolver hands factories access to their own dependencies. Resolution
// through the Resolver stays on the current resolution stack so cycles are
// detected across factory boundaries.
type Resolver interface {
	Resolve(capability string) (any, error)
}

// Factory constructs an instance, resolving dependencies through r.
type Factory func(r Resolver) (any, error)

type binding struct {
	capability string
	factory    Factory
	lifetime   Lifetime
}

// cell memoizes a single construction. sync.Once gives the double-checked
// acquisition the singleton cache needs: first caller constructs under the
// once, everyone after reads without contention. A construction error is
// memoized too; wiring failures are deterministic, retrying cannot fix them.
type cell struct {
	once  sync.Once
	value any
	err   error
}

func (c *cell) resolve(construct func() (any, error)) (any, error) {
	c.once.Do(func() {
		c.value, c.err = construct()
	})
	return c.value, c.err
}

// Container holds capability bindings and the process-wide singleton cache.
type Container struct {
	mu         sync.RWMutex
	bindings   map[string]binding
	singletons map[string]*cell
	sealed     bool
}

// New creates an empty, unsealed container.
func New() *Container {
	return &Container{
		bindings:   make(map[string]binding),
		singletons: make(map[string]*cell),
	}
}

// Register binds a capability name to a factory with the given lifetime.
// Capabilities are unique per container; registering a name twice fails.
// Registration is a startup-time activity: once Seal has been called every
// Register fails with ErrSealed.
func (c *Container) Register(capability string, factory Factory, lifetime Lifetime) error {
	if capability == "" {
		return fmt.Errorf("register: capability name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("register %q: factory must not be nil", capability)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return fmt.Errorf("register %q: %w", capability, ErrSealed)
	}
	if _, exists := c.bindings[capability]; exists {
		return fmt.Errorf("register %q: %w", capability, ErrDuplicateCapability)
	}
	c.bindings[capability] = binding{capability: capability, factory: factory, lifetime: lifetime}
	if lifetime == Singleton {
		c.singletons[capability] = &cell{}
	}
	return nil
}

// Seal freezes the binding set. Call it once wiring is complete, before the
// first dispatch; the container is read-only from then on.
func (c *Container) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
}

// Sealed reports whether Seal has been called.
func (c *Container) Sealed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sealed
}

// Resolve constructs (or returns the cached) instance for a capability at
// container level. Scoped capabilities need a Scope and fail here with
// ErrScopeRequired.
func (c *Container) Resolve(capability string) (any, error) {
	res := &resolution{container: c}
	return res.Resolve(capability)
}

// Scope derives a resolution scope that caches Scoped instances for one unit
// of work. Scopes are cheap; create one per logical transaction and drop it.
func (c *Container) Scope() *Scope {
	return &Scope{
		container: c,
		instances: make(map[string]*cell),
	}
}

func (c *Container) lookup(capability string) (binding, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.bindings[capability]
	return b, ok
}

func (c *Container) singletonCell(capability string) *cell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.singletons[capability]
}

// resolution tracks one resolution chain. The stack carries every capability
// currently under construction so a revisit surfaces as a cycle instead of a
// stack overflow.
type resolution struct {
	container *Container
	scope     *Scope
	stack     []string
}

func (r *resolution) Resolve(capability string) (any, error) {
	b, ok := r.container.lookup(capability)
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", capability, ErrUnregisteredCapability)
	}

	if slices.Contains(r.stack, capability) {
		return nil, &CyclicDependencyError{Stack: append(slices.Clone(r.stack), capability)}
	}

	switch b.lifetime {
	case Singleton:
		return r.container.singletonCell(capability).resolve(func() (any, error) {
			return r.construct(b)
		})
	case Scoped:
		if r.scope == nil {
			return nil, fmt.Errorf("resolve %q: %w", capability, ErrScopeRequired)
		}
		return r.scope.cell(capability).resolve(func() (any, error) {
			return r.construct(b)
		})
	default:
		return r.construct(b)
	}
}

func (r *resolution) construct(b binding) (any, error) {
	next := &resolution{
		container: r.container,
		scope:     r.scope,
		stack:     append(slices.Clone(r.stack), b.capability),
	}
	instance, err := b.factory(next)
	if err != nil {
		return nil, fmt.Errorf("construct %q: %w", b.capability, err)
	}
	return instance, nil
}
