package uow

import (
	"errors"
	"fmt"
)

var (
	// ErrNestedScope: Begin was called while the context already carries an
	// active unit of work. Nested scopes are not supported.
	ErrNestedScope = errors.New("unit of work already active in this context")

	// ErrScopeEnded: a registration or commit arrived after the unit of work
	// was already committed or rolled back.
	ErrScopeEnded = errors.New("unit of work already ended")

	// ErrNotRepository: the capability registered for an entity type does not
	// implement Repository.
	ErrNotRepository = errors.New("resolved capability is not a repository")
)

// PartialCommitError reports a flush that failed mid-way. Stage names the
// flush stage that failed; Compensated tells whether every already-applied
// change was rolled back through compensating actions.
type PartialCommitError struct {
	Stage       Op
	Compensated bool
	Err         error
}

func (e *PartialCommitError) Error() string {
	state := "uncompensated"
	if e.Compensated {
		state = "compensated"
	}
	return fmt.Sprintf("commit failed at %s stage (%s): %v", e.Stage, state, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }
