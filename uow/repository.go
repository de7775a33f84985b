package uow

import (
	"context"
	"fmt"

	"keel/domain"
)

// Op is a pending mutation kind. Flush order is fixed: deletes, then updates,
// then inserts, so entities referencing each other never trip referential
// integrity mid-flush.
type Op int

const (
	OpDelete Op = iota
	OpUpdate
	OpInsert
)

func (o Op) String() string {
	switch o {
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	case OpInsert:
		return "insert"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Repository is the persistence collaborator the unit of work flushes
// through. One repository per entity type, registered in the container under
// RepositoryCapability(entityType).
type Repository interface {
	Add(ctx context.Context, e domain.Entity) error
	Update(ctx context.Context, e domain.Entity) error
	Delete(ctx context.Context, e domain.Entity) error
	GetByID(ctx context.Context, id domain.Identity) (domain.Entity, error)
}

// Compensator is optionally implemented by repositories that can undo an
// already-applied change when a later flush stage fails.
type Compensator interface {
	Compensate(ctx context.Context, op Op, e domain.Entity) error
}

// RepositoryCapability names the container binding for an entity type's
// repository. Example: RepositoryCapability("order") == "repository/order".
func RepositoryCapability(t domain.EntityType) string {
	return "repository/" + string(t)
}
