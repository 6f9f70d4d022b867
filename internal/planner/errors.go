package planner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCyclicHardDependency indicates a static import cycle whose members would
	// otherwise be placed in different chunks
	ErrCyclicHardDependency = errors.New("cyclic hard dependency")
	// ErrUnknownEntry indicates an entry or chunk name that is not part of the plan
	ErrUnknownEntry = errors.New("unknown entry")
	// ErrDuplicateChunkName indicates two entries or groups share a chunk name
	ErrDuplicateChunkName = errors.New("duplicate chunk name")
)

// CycleError reports a static cycle that was merged into a single chunk.
type CycleError struct {
	// Modules in the cycle, sorted by path.
	Modules []string
	// Chunks holding the merged cycle, in plan order. A cycle shared by unrelated
	// entries is copied into each of their chunks.
	Chunks []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: modules [%s] merged into chunks [%s]",
		ErrCyclicHardDependency, strings.Join(e.Modules, ", "), strings.Join(e.Chunks, ", "))
}

func (e *CycleError) Unwrap() error {
	return ErrCyclicHardDependency
}
