package hierarchy

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the hierarchy.
var (
	// ErrStructural is matched by CycleError, DepthExceededError and
	// CapacityExceededError.
	ErrStructural = errors.New("structural violation")

	// ErrNotFound is matched by NotFoundError.
	ErrNotFound = errors.New("node not found")

	// ErrInvalidRelation is matched by RelationError.
	ErrInvalidRelation = errors.New("invalid relation")

	// ErrInvalidID is returned for an empty node id.
	ErrInvalidID = errors.New("invalid node id")
)

// CycleError is returned when an edge would make a node its own ancestor.
type CycleError struct {
	Parent string
	Child  string

	// Path is the ancestor chain from Parent up to Child that the new edge
	// would close.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("adding %s under %s creates a cycle: %s", e.Child, e.Parent, strings.Join(e.Path, " -> "))
}

// Is matches ErrStructural.
func (e *CycleError) Is(target error) bool {
	return target == ErrStructural
}

// DepthExceededError is returned when a mutation would push a node past the
// depth limit.
type DepthExceededError struct {
	// Node is the deepest node after the rejected mutation.
	Node  string
	Depth int
	Max   int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("depth %d of %s exceeds limit %d", e.Depth, e.Node, e.Max)
}

// Is matches ErrStructural.
func (e *DepthExceededError) Is(target error) bool {
	return target == ErrStructural
}

// CapacityExceededError is returned when a parent would exceed its child limit.
type CapacityExceededError struct {
	Parent   string
	Children int
	Max      int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s would have %d children, limit is %d", e.Parent, e.Children, e.Max)
}

// Is matches ErrStructural.
func (e *CapacityExceededError) Is(target error) bool {
	return target == ErrStructural
}

// NotFoundError is returned when an operation names an unknown node.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "node not found: " + e.ID
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// RelationError is returned when the requested edge is not allowed or does
// not exist in the expected form.
type RelationError struct {
	Op     string
	Parent string
	Child  string
	Reason string
}

func (e *RelationError) Error() string {
	return fmt.Sprintf("%s %s -> %s: %s", e.Op, e.Parent, e.Child, e.Reason)
}

// Is matches ErrInvalidRelation.
func (e *RelationError) Is(target error) bool {
	return target == ErrInvalidRelation
}
