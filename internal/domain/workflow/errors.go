package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")
)

// CyclicWorkflowError is returned when the graph reachable from the start
// node contains a cycle.
type CyclicWorkflowError struct {
	Nodes []string
}

func (e *CyclicWorkflowError) Error() string {
	return fmt.Sprintf("workflow contains a cycle through nodes: %s", strings.Join(e.Nodes, ", "))
}

// NoMatchingEdgeError is returned when a condition node may have no edge to
// follow: no default edge and no statically exhaustive condition set.
type NoMatchingEdgeError struct {
	NodeID string
}

func (e *NoMatchingEdgeError) Error() string {
	return fmt.Sprintf("condition node %q has no default edge and its conditions are not exhaustive", e.NodeID)
}

// ValidationError collects structural problems found in a definition
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid workflow definition: " + strings.Join(e.Problems, "; ")
}
