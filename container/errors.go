package container

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for container facts. Callers match with errors.Is and wrap
// with fmt.Errorf("...: %w", err) when adding context.
var (
	ErrUnregisteredCapability = errors.New("capability not registered")
	ErrDuplicateCapability    = errors.New("capability already registered")
	ErrSealed                 = errors.New("container is sealed")
	ErrScopeRequired          = errors.New("scoped capability resolved outside a scope")
)

// CyclicDependencyError reports a resolution chain that revisited a capability
// already under construction. Stack lists capabilities outermost first, ending
// with the repeated one.
type CyclicDependencyError struct {
	Stack []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Stack, " -> "))
}
