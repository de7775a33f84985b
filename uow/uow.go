// Package uow scopes a sequence of domain operations into one logical
// transaction: mutations are logged against tracked entities and flushed
// atomically on commit, in a fixed stage order, through repositories resolved
// from the unit of work's container scope.
package uow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"keel/container"
	"keel/domain"
	"keel/events"
)

type ctxKey struct{}

var uowKey = ctxKey{}

// FromContext extracts the unit of work carried by ctx, if any.
func FromContext(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(uowKey).(*UnitOfWork)
	return u, ok
}

// Manager begins units of work against a shared container and publishes
// commit events. One manager per process is the norm.
type Manager struct {
	container *container.Container
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// ManagerOption tweaks manager construction.
type ManagerOption func(*Manager)

// WithPublisher sets the commit event publisher. Without one, commits are
// silent (caches relying on invalidation must not be wired in that case).
func WithPublisher(p events.Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// WithLogger sets the logger used for commit/rollback diagnostics.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock injects the time source; tests pin it.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

func NewManager(c *container.Container, opts ...ManagerOption) *Manager {
	m := &Manager{
		container: c,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin opens a new unit of work and binds it (and a fresh identity map) to
// the returned context. Begin inside an active scope fails with
// ErrNestedScope; an ended scope left in the context does not count.
func (m *Manager) Begin(ctx context.Context) (context.Context, *UnitOfWork, error) {
	if existing, ok := FromContext(ctx); ok && existing.Active() {
		return ctx, nil, ErrNestedScope
	}

	u := &UnitOfWork{
		scope:      m.container.Scope(),
		identities: NewIdentityMap(),
		publisher:  m.publisher,
		logger:     m.logger,
		now:        m.now,
	}
	return context.WithValue(ctx, uowKey, u), u, nil
}

type state int

const (
	stateActive state = iota
	stateCommitted
	stateRolledBack
)

type change struct {
	op     Op
	entity domain.Entity
}

// UnitOfWork owns the tracked entities and pending-change log for one logical
// transaction. It is mutated only by the domain operations running inside its
// scope; commit and rollback end it.
type UnitOfWork struct {
	mu         sync.Mutex
	scope      *container.Scope
	identities *IdentityMap
	pending    []change
	st         state
	publisher  events.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// Scope exposes the container scope bound to this unit of work, so callers
// can resolve scoped capabilities alongside the framework.
func (u *UnitOfWork) Scope() *container.Scope { return u.scope }

// Active reports whether the unit of work can still accept registrations.
func (u *UnitOfWork) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.st == stateActive
}

// GetOrTrack returns the canonical in-memory instance for an identity within
// this unit of work, materializing through loader on first sight.
func (u *UnitOfWork) GetOrTrack(id domain.Identity, loader func() (domain.Entity, error)) (domain.Entity, error) {
	u.mu.Lock()
	if u.st != stateActive {
		u.mu.Unlock()
		return nil, ErrScopeEnded
	}
	u.mu.Unlock()
	return u.identities.GetOrTrack(id, loader)
}

// RegisterNew logs an entity for insertion at commit.
func (u *UnitOfWork) RegisterNew(e domain.Entity) error {
	return u.register(OpInsert, e)
}

// RegisterDirty logs an entity for update at commit.
func (u *UnitOfWork) RegisterDirty(e domain.Entity) error {
	return u.register(OpUpdate, e)
}

// RegisterDeleted logs an entity for deletion at commit.
func (u *UnitOfWork) RegisterDeleted(e domain.Entity) error {
	return u.register(OpDelete, e)
}

func (u *UnitOfWork) register(op Op, e domain.Entity) error {
	if e == nil {
		return fmt.Errorf("register %s: entity must not be nil", op)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.st != stateActive {
		return fmt.Errorf("register %s %s: %w", op, e.Identity(), ErrScopeEnded)
	}
	u.identities.Track(e)
	u.pending = append(u.pending, change{op: op, entity: e})
	return nil
}

// Pending reports how many changes await flushing.
func (u *UnitOfWork) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending)
}

// Commit flushes the pending log in stage order (deletes, updates, inserts)
// through the repositories registered for each entity type, publishes a
// commit event tagged with the mutated entity types, and ends the scope.
//
// A mid-flush failure triggers compensation of already-applied changes in
// reverse order where repositories support it, and always surfaces as a
// *PartialCommitError wrapping the cause. Repository *resolution* failures
// surface unchanged — they are wiring bugs, not commit-stage failures.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	if u.st != stateActive {
		u.mu.Unlock()
		return fmt.Errorf("commit: %w", ErrScopeEnded)
	}
	log := append([]change(nil), u.pending...)
	u.mu.Unlock()

	if err := ctx.Err(); err != nil {
		u.rollback()
		return fmt.Errorf("commit aborted: %w", err)
	}

	ordered := orderForFlush(log)

	applied := make([]change, 0, len(ordered))
	for _, ch := range ordered {
		repo, err := u.repositoryFor(ch.entity.Identity().Type)
		if err != nil {
			u.compensate(ctx, applied)
			u.rollback()
			return err
		}
		if err := apply(ctx, repo, ch); err != nil {
			compensated := u.compensate(ctx, applied)
			u.rollback()
			return &PartialCommitError{Stage: ch.op, Compensated: compensated, Err: err}
		}
		applied = append(applied, ch)
	}

	u.mu.Lock()
	u.st = stateCommitted
	u.pending = nil
	u.mu.Unlock()
	u.identities.Clear()

	if u.publisher != nil && len(ordered) > 0 {
		event := events.CommitEvent{EntityTypes: mutatedTypes(ordered), At: u.now()}
		if err := u.publisher.PublishCommit(ctx, event); err != nil {
			return fmt.Errorf("commit flushed but event publish failed: %w", err)
		}
	}
	return nil
}

// Rollback discards the pending log and detaches every tracked entity. It is
// idempotent: rolling back an ended scope is a no-op.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	u.rollback()
	return nil
}

func (u *UnitOfWork) rollback() {
	u.mu.Lock()
	if u.st == stateActive {
		u.st = stateRolledBack
		u.pending = nil
	}
	u.mu.Unlock()
	u.identities.Clear()
}

func (u *UnitOfWork) repositoryFor(t domain.EntityType) (Repository, error) {
	capability := RepositoryCapability(t)
	resolved, err := u.scope.Resolve(capability)
	if err != nil {
		return nil, err
	}
	repo, ok := resolved.(Repository)
	if !ok {
		return nil, fmt.Errorf("capability %q resolved to %T: %w", capability, resolved, ErrNotRepository)
	}
	return repo, nil
}

// compensate undoes applied changes in reverse order. Returns true only when
// every applied change was undone through a Compensator.
func (u *UnitOfWork) compensate(ctx context.Context, applied []change) bool {
	all := true
	for i := len(applied) - 1; i >= 0; i-- {
		ch := applied[i]
		repo, err := u.repositoryFor(ch.entity.Identity().Type)
		if err != nil {
			all = false
			continue
		}
		comp, ok := repo.(Compensator)
		if !ok {
			all = false
			continue
		}
		if err := comp.Compensate(ctx, ch.op, ch.entity); err != nil {
			all = false
			u.logger.Error("compensation failed",
				"op", ch.op.String(),
				"identity", ch.entity.Identity().String(),
				"error", err)
		}
	}
	return all
}

func apply(ctx context.Context, repo Repository, ch change) error {
	switch ch.op {
	case OpDelete:
		return repo.Delete(ctx, ch.entity)
	case OpUpdate:
		return repo.Update(ctx, ch.entity)
	default:
		return repo.Add(ctx, ch.entity)
	}
}

// orderForFlush reorders the pending log into delete, update, insert stages,
// keeping registration order within each stage.
func orderForFlush(log []change) []change {
	ordered := make([]change, 0, len(log))
	for _, op := range []Op{OpDelete, OpUpdate, OpInsert} {
		for _, ch := range log {
			if ch.op == op {
				ordered = append(ordered, ch)
			}
		}
	}
	return ordered
}

func mutatedTypes(log []change) []domain.EntityType {
	seen := make(map[domain.EntityType]struct{}, len(log))
	types := make([]domain.EntityType, 0, len(log))
	for _, ch := range log {
		t := ch.entity.Identity().Type
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}
	return types
}
