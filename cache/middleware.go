package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"keel/dispatch"
	"keel/domain"
	"keel/events"
	"keel/uow"
)

// Cacheable marks requests whose results may be memoized. CacheTags lists
// the entity types the handler reads; a commit mutating any of them purges
// the entry.
type Cacheable interface {
	CacheTTL() time.Duration
	CacheTags() []domain.EntityType
}

type decorator struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	group   singleflight.Group
}

// Option tweaks the cache middleware.
type Option func(*decorator)

// WithLogger sets the logger for cache diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *decorator) { d.logger = l }
}

// WithMetrics wires hit/miss counters.
func WithMetrics(m *Metrics) Option {
	return func(d *decorator) { d.metrics = m }
}

// Middleware wraps handlers with read-through caching. Requests that do not
// implement Cacheable pass straight through, as do requests running inside an
// active unit of work — a transaction must never read stale derived state.
// Concurrent misses on one fingerprint collapse to a single handler run.
//
// Register it innermost so the fingerprint only pays off after validation
// and the other outer concerns have passed.
func Middleware(store Store, opts ...Option) dispatch.Middleware {
	d := &decorator{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}

	return func(next dispatch.Handler) dispatch.Handler {
		return dispatch.HandlerFunc(func(ctx context.Context, req dispatch.Request) (any, error) {
			c, ok := req.(Cacheable)
			if !ok {
				return next.Handle(ctx, req)
			}
			if u, active := uow.FromContext(ctx); active && u.Active() {
				return next.Handle(ctx, req)
			}

			key, err := Fingerprint(req.UseCase(), req)
			if err != nil {
				d.logger.WarnContext(ctx, "cache fingerprint failed; bypassing",
					"use_case", req.UseCase(), "error", err)
				return next.Handle(ctx, req)
			}

			if value, hit, err := d.store.Get(ctx, key); err == nil && hit {
				d.metrics.hit(req.UseCase())
				return value, nil
			} else if err != nil {
				d.logger.WarnContext(ctx, "cache read failed; falling through",
					"use_case", req.UseCase(), "error", err)
			}

			d.metrics.miss(req.UseCase())
			result, err, _ := d.group.Do(key, func() (any, error) {
				// Another flight may have populated the store meanwhile.
				if value, hit, err := d.store.Get(ctx, key); err == nil && hit {
					return value, nil
				}
				result, err := next.Handle(ctx, req)
				if err != nil {
					return nil, err
				}
				if err := d.store.Set(ctx, key, result, c.CacheTags(), c.CacheTTL()); err != nil {
					d.logger.WarnContext(ctx, "cache write failed; result served uncached",
						"use_case", req.UseCase(), "error", err)
				}
				return result, nil
			})
			return result, err
		})
	}
}

// InvalidateOnCommit subscribes the store to commit events: every commit that
// mutated an entity type purges entries tagged with it.
func InvalidateOnCommit(bus *events.Bus, store Store, opts ...Option) {
	d := &decorator{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}

	bus.Subscribe(func(ctx context.Context, event events.CommitEvent) {
		if err := store.Invalidate(ctx, event.EntityTypes); err != nil {
			d.logger.ErrorContext(ctx, "cache invalidation failed",
				"entity_types", event.EntityTypes, "error", err)
			return
		}
		d.metrics.invalidated(len(event.EntityTypes))
	})
}
