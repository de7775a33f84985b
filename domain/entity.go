// Package domain defines the entity contract the rest of the framework
// operates on: a stable value-typed identity plus a revision counter for
// optimistic concurrency at persistence boundaries.
package domain

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "keel/pkg/errors"
)

// EntityType names a kind of entity ("order", "customer"). Cache tags and
// repository capabilities are derived from it, so it must be stable.
type EntityType string

func (t EntityType) String() string { return string(t) }

// Identity is the value-typed key of an entity: its type plus a key unique
// within that type. Two entities are the same entity iff their Identities
// compare equal.
type Identity struct {
	Type EntityType
	Key  string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s", id.Type, id.Key)
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id.Type == "" && id.Key == ""
}

// NewIdentity builds an identity from an entity type and key string.
func NewIdentity(t EntityType, key string) (Identity, error) {
	if t == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "entity type must not be empty")
	}
	if key == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "identity key must not be empty")
	}
	return Identity{Type: t, Key: key}, nil
}

// RandomIdentity mints a fresh UUID-keyed identity for a new entity.
func RandomIdentity(t EntityType) Identity {
	return Identity{Type: t, Key: uuid.NewString()}
}

// ParseIdentity validates a UUID-keyed identity at a trust boundary.
func ParseIdentity(t EntityType, key string) (Identity, error) {
	parsed, err := uuid.Parse(key)
	if err != nil {
		return Identity{}, pkgerrors.Newf(pkgerrors.CodeInvalidInput, "identity key %q is not a valid UUID", key)
	}
	if parsed == uuid.Nil {
		return Identity{}, pkgerrors.New(pkgerrors.CodeInvalidInput, "identity key must not be the nil UUID")
	}
	return NewIdentity(t, parsed.String())
}

// Entity is anything with a persistent identity across its lifecycle.
type Entity interface {
	Identity() Identity
	Revision() uint64
}

// Base carries identity and revision for concrete entities to embed.
type Base struct {
	ID  Identity
	Rev uint64
}

func (b *Base) Identity() Identity { return b.ID }
func (b *Base) Revision() uint64   { return b.Rev }

// Touch bumps the revision. Repositories use it after a successful write so
// stale in-memory copies are detectable.
func (b *Base) Touch() { b.Rev++ }
