// Package dispatch routes command and query objects to their registered
// handlers. Commands run inside a fresh unit of work that commits on success
// and rolls back on failure; queries never open a mutating scope. Cross-
// cutting concerns wrap the handler onion-style, outermost first.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"keel/uow"
)

var (
	// ErrDuplicateHandler: a use case already has a handler. One handler per
	// use case, registration order-independent.
	ErrDuplicateHandler = errors.New("handler already registered for use case")

	// ErrNoHandler: nothing is registered for the dispatched use case.
	ErrNoHandler = errors.New("no handler registered for use case")
)

// Request is an immutable value object describing a use case invocation.
// UseCase returns the registry tag the handler was registered under.
type Request interface {
	UseCase() string
}

// Handler executes one use case.
type Handler interface {
	Handle(ctx context.Context, req Request) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// Middleware wraps a handler with a cross-cutting concern. Each middleware
// receives the next stage explicitly; there is no implicit chain state.
type Middleware func(next Handler) Handler

type kind int

const (
	kindCommand kind = iota
	kindQuery
)

func (k kind) String() string {
	if k == kindQuery {
		return "query"
	}
	return "command"
}

type registration struct {
	handler Handler
	kind    kind
}

// Dispatcher is the use-case router. Register handlers and middleware at
// startup; Dispatch is safe for concurrent use afterwards.
type Dispatcher struct {
	mu         sync.RWMutex
	handlers   map[string]registration
	middleware []Middleware
	manager    *uow.Manager
	logger     *slog.Logger
}

// Option tweaks dispatcher construction.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a dispatcher that opens command scopes through manager. The
// container instance travels inside the manager; there is no ambient global.
func New(manager *uow.Manager, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]registration),
		manager:  manager,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterCommand binds the handler for a mutating use case.
func (d *Dispatcher) RegisterCommand(useCase string, h Handler) error {
	return d.register(useCase, h, kindCommand)
}

// RegisterQuery binds the handler for a read-only use case.
func (d *Dispatcher) RegisterQuery(useCase string, h Handler) error {
	return d.register(useCase, h, kindQuery)
}

func (d *Dispatcher) register(useCase string, h Handler, k kind) error {
	if useCase == "" {
		return fmt.Errorf("register %s: use case name must not be empty", k)
	}
	if h == nil {
		return fmt.Errorf("register %s %q: handler must not be nil", k, useCase)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[useCase]; exists {
		return fmt.Errorf("register %s %q: %w", k, useCase, ErrDuplicateHandler)
	}
	d.handlers[useCase] = registration{handler: h, kind: k}
	return nil
}

// Use appends middleware. The first middleware registered runs outermost:
// Use(validation); Use(caching) yields validation(caching(handler)).
func (d *Dispatcher) Use(mw ...Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middleware = append(d.middleware, mw...)
}

// Dispatch routes req through the middleware chain to its handler. Commands
// get a fresh unit of work committed after a normal return; a handler error
// or in-flight cancellation rolls the scope back instead. Queries run the
// same chain without a unit of work.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (any, error) {
	d.mu.RLock()
	reg, ok := d.handlers[req.UseCase()]
	if !ok {
		d.mu.RUnlock()
		return nil, fmt.Errorf("dispatch %q: %w", req.UseCase(), ErrNoHandler)
	}
	chain := d.chainLocked(reg.handler)
	d.mu.RUnlock()

	if reg.kind == kindQuery {
		return chain.Handle(ctx, req)
	}
	return d.dispatchCommand(ctx, req, chain)
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, req Request, chain Handler) (any, error) {
	ctx, u, err := d.manager.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch %q: %w", req.UseCase(), err)
	}

	result, err := chain.Handle(ctx, req)
	if err != nil {
		_ = u.Rollback(ctx)
		return nil, err
	}
	// Cancellation of an in-flight dispatch rolls back as if it had failed.
	if err := ctx.Err(); err != nil {
		_ = u.Rollback(ctx)
		return nil, err
	}
	if err := u.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// chainLocked folds registered middleware around the handler, first
// registered outermost. Callers hold at least a read lock.
func (d *Dispatcher) chainLocked(h Handler) Handler {
	wrapped := h
	for i := len(d.middleware) - 1; i >= 0; i-- {
		wrapped = d.middleware[i](wrapped)
	}
	return wrapped
}
