// Package decorator implements the decorator protocol: conditions that gate
// edges, and events or modifiers that run once a node or edge is committed.
//
// Decorators are plain {kind, type, config} records. Their behavior is looked
// up by type in a Registry populated once at process start.
package decorator

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// Verdict is the outcome of a successful condition evaluation.
type Verdict bool

const (
	Deny  Verdict = false
	Allow Verdict = true
)

func (v Verdict) String() string {
	if v {
		return "allow"
	}
	return "deny"
}

// Target identifies what a decorator is attached to.
// For edge decorators Edge is set and Node is the edge's target node.
// For node decorators Node is set and Edge is the edge being taken, if any.
type Target struct {
	Decorator domain.Decorator
	Node      *domain.Node
	Edge      *domain.Edge
}

// NodeID returns the id of the target node, or "" if none.
func (t Target) NodeID() string {
	if t.Node == nil {
		return ""
	}
	return t.Node.ID
}

// View is the read-only face of a dialogue instance handed to conditions.
type View interface {
	InstanceID() string
	CurrentNodeID() string
	Visits(nodeID string) int
	Var(key string) (any, bool)
	State(decoratorID string) []byte
	Participant(role domain.Role) (domain.Participant, bool)
}

// Scope is the mutable face of a dialogue instance handed to events and modifiers.
// Mutations are staged; they only become visible once the transition commits.
type Scope interface {
	View
	SetVar(key string, value any)
	DeleteVar(key string)
	SetState(decoratorID string, blob []byte)
	Emit(cmd domain.Command)
	SaveEntryNode(nodeID string)
	// OverridePayload replaces the payload announced for nodeID in this
	// instance. A nil payload restores the authored one.
	OverridePayload(nodeID string, p *domain.Payload)
	SwapParticipants(a, b domain.Role) error
}

// ConditionFunc evaluates a condition decorator. A non-nil error is treated as Deny.
type ConditionFunc func(ctx context.Context, view View, target Target, config map[string]any) (Verdict, error)

// ActionFunc executes an event or modifier decorator.
type ActionFunc func(ctx context.Context, scope Scope, target Target, config map[string]any) error

// ConfigValidator checks a decorator configuration when a graph is published.
type ConfigValidator func(config map[string]any) error

// Behavior is the registered implementation of a decorator type.
type Behavior struct {
	Kind        domain.DecoratorKind
	Description string
	Evaluate    ConditionFunc
	Execute     ActionFunc
	Validate    ConfigValidator
}
