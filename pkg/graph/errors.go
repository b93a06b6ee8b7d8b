package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

// Problem codes reported by validation.
const (
	ProblemMissingID          = "missing_id"
	ProblemDuplicateNode      = "duplicate_node"
	ProblemDuplicateEdge      = "duplicate_edge"
	ProblemDuplicateDecorator = "duplicate_decorator"
	ProblemUnknownKind        = "unknown_kind"
	ProblemStartNode          = "start_node"
	ProblemMissingSource      = "missing_source"
	ProblemMissingTarget      = "missing_target"
	ProblemSelfLoop           = "self_loop"
	ProblemDeadEnd            = "dead_end"
	ProblemDecorator          = "decorator"
	ProblemUnreachable        = "unreachable"
	ProblemEndHasEdges        = "end_has_edges"
)

// Problem is a single validation finding.
type Problem struct {
	Code        string `json:"code"`
	NodeID      string `json:"node_id,omitempty"`
	EdgeID      string `json:"edge_id,omitempty"`
	DecoratorID string `json:"decorator_id,omitempty"`
	Message     string `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("[%s] %s", p.Code, p.Message)
}

// Report carries the non-fatal findings of a successful publish.
type Report struct {
	Warnings []Problem `json:"warnings,omitempty"`
}

// ValidationError lists every fatal finding of a rejected publish.
type ValidationError struct {
	GraphID  string
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid graph %q: %s", e.GraphID, e.Problems[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "invalid graph %q: %d validation errors:\n", e.GraphID, len(e.Problems))
	for i, p := range e.Problems {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, p)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return domain.ErrInvalidGraph
}
