// Package cache memoizes idempotent query results keyed by request
// fingerprint. Entries carry entity-type tags; a unit-of-work commit that
// mutates a tagged type purges every entry carrying it. No entry survives a
// process restart.
package cache

import (
	"context"
	"time"

	"keel/domain"
)

// DefaultTTL applies when a cacheable request reports no TTL of its own.
const DefaultTTL = 10 * time.Minute

// Store holds computed results by fingerprint. Reads and writes on a given
// fingerprint are linearizable per key; on racing writers the last write
// wins and the loser's value is discarded, never merged.
type Store interface {
	// Get returns the cached value for key, if present and unexpired.
	Get(ctx context.Context, key string) (any, bool, error)

	// Set stores value under key, tagged by the entity types the computation
	// read, for at most ttl.
	Set(ctx context.Context, key string, value any, tags []domain.EntityType, ttl time.Duration) error

	// Invalidate purges every entry tagged with any of the given types.
	Invalidate(ctx context.Context, tags []domain.EntityType) error
}
