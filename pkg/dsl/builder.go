package dsl

import (
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
)

// Builder manages the graph construction.
type Builder struct {
	id         string
	order      []string
	nodes      map[string]*NodeBuilder
	edges      []domain.Edge
	decorators []domain.Decorator
}

// New creates a new graph builder.
func New(graphID string) *Builder {
	return &Builder{
		id:    graphID,
		nodes: make(map[string]*NodeBuilder),
	}
}

// Add creates a new node in the graph. Nodes default to the line kind.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node: domain.Node{
			ID:   id,
			Kind: domain.NodeLine,
		},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Decorate attaches a graph-level decorator, inherited by nodes that opt in.
func (b *Builder) Decorate(typ string, config map[string]any) *Builder {
	b.decorators = append(b.decorators, domain.Decorator{Type: typ, Config: config})
	return b
}

// Build returns the draft in authoring order.
func (b *Builder) Build() graph.Draft {
	d := graph.Draft{
		ID:         b.id,
		Nodes:      make([]domain.Node, 0, len(b.order)),
		Edges:      append([]domain.Edge(nil), b.edges...),
		Decorators: append([]domain.Decorator(nil), b.decorators...),
	}
	for _, id := range b.order {
		d.Nodes = append(d.Nodes, b.nodes[id].node)
	}
	return d.Clone()
}

// Publish builds and publishes the graph.
func (b *Builder) Publish(opts ...graph.PublishOption) (*graph.Graph, *graph.Report, error) {
	return graph.Publish(b.Build(), opts...)
}
