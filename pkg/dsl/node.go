package dsl

import "github.com/aretw0/parley/pkg/domain"

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.Node
	builder *Builder
}

// Start marks the node as the graph entry point.
func (n *NodeBuilder) Start() *NodeBuilder {
	n.node.Kind = domain.NodeStart
	return n
}

// Line marks the node as a spoken line.
func (n *NodeBuilder) Line(speaker, textKey string) *NodeBuilder {
	n.node.Kind = domain.NodeLine
	n.node.Payload.Speaker = speaker
	n.node.Payload.TextKey = textKey
	return n
}

// Branch marks the node as a choice point awaiting participant input.
func (n *NodeBuilder) Branch(textKey string) *NodeBuilder {
	n.node.Kind = domain.NodeBranch
	n.node.Payload.TextKey = textKey
	return n
}

// Event marks the node as a text-less node that only fires decorators.
func (n *NodeBuilder) Event() *NodeBuilder {
	n.node.Kind = domain.NodeEvent
	return n
}

// End marks the node as terminal.
func (n *NodeBuilder) End() *NodeBuilder {
	n.node.Kind = domain.NodeEnd
	return n
}

// Speaker sets the speaker reference of the payload.
func (n *NodeBuilder) Speaker(speaker string) *NodeBuilder {
	n.node.Payload.Speaker = speaker
	return n
}

// Text sets the text key of the payload.
func (n *NodeBuilder) Text(textKey string) *NodeBuilder {
	n.node.Payload.TextKey = textKey
	return n
}

// Meta adds a metadata entry to the payload.
func (n *NodeBuilder) Meta(key, value string) *NodeBuilder {
	if n.node.Payload.Metadata == nil {
		n.node.Payload.Metadata = make(map[string]string)
	}
	n.node.Payload.Metadata[key] = value
	return n
}

// Decorate attaches a decorator to the node. Condition decorators gate entry,
// the others run when the node is entered.
func (n *NodeBuilder) Decorate(typ string, config map[string]any) *NodeBuilder {
	n.node.Decorators = append(n.node.Decorators, domain.Decorator{Type: typ, Config: config})
	return n
}

// DecorateWith attaches a fully specified decorator to the node.
func (n *NodeBuilder) DecorateWith(d domain.Decorator) *NodeBuilder {
	n.node.Decorators = append(n.node.Decorators, d)
	return n
}

// Inherit makes the node run the graph-level decorators before its own.
func (n *NodeBuilder) Inherit() *NodeBuilder {
	n.node.InheritGraphDecorators = true
	return n
}

// Go adds an edge to the target node.
func (n *NodeBuilder) Go(target string, opts ...EdgeOption) *NodeBuilder {
	e := domain.Edge{From: n.node.ID, To: target}
	for _, opt := range opts {
		opt(&e)
	}
	n.builder.edges = append(n.builder.edges, e)
	return n
}

// Build returns the underlying domain.Node.
func (n *NodeBuilder) Build() domain.Node {
	return n.node.Clone()
}

// EdgeOption configures an edge added with Go.
type EdgeOption func(*domain.Edge)

// Priority sets the edge priority; higher is tried first.
func Priority(p int) EdgeOption {
	return func(e *domain.Edge) { e.Priority = p }
}

// Label sets the choice label shown at branch nodes.
func Label(label string) EdgeOption {
	return func(e *domain.Edge) { e.Label = label }
}

// EdgeID sets an explicit edge id.
func EdgeID(id string) EdgeOption {
	return func(e *domain.Edge) { e.ID = id }
}

// SelfLoop permits the edge to point back at its source node.
func SelfLoop() EdgeOption {
	return func(e *domain.Edge) { e.AllowSelfLoop = true }
}

// When gates the edge with a condition decorator.
func When(typ string, config map[string]any) EdgeOption {
	return func(e *domain.Edge) {
		e.Decorators = append(e.Decorators, domain.Decorator{Type: typ, Kind: domain.KindCondition, Config: config})
	}
}

// Do runs an event or modifier decorator when the edge is taken.
func Do(typ string, config map[string]any) EdgeOption {
	return func(e *domain.Edge) {
		e.Decorators = append(e.Decorators, domain.Decorator{Type: typ, Config: config})
	}
}

// With attaches a fully specified decorator to the edge.
func With(d domain.Decorator) EdgeOption {
	return func(e *domain.Edge) {
		e.Decorators = append(e.Decorators, d)
	}
}
