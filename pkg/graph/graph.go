package graph

import (
	"cmp"
	"slices"
	"time"

	"github.com/aretw0/parley/pkg/domain"
)

// Graph is a published, immutable dialogue graph.
// It is safe for concurrent use by any number of instances.
// Values returned by accessors share backing arrays with the graph and must be treated as read-only.
type Graph struct {
	id          string
	version     string
	revision    int
	start       string
	publishedAt time.Time

	order      []string
	nodes      map[string]domain.Node
	edgeOrder  []string
	edges      map[string]domain.Edge
	decorators []domain.Decorator

	// Precomputed lookups, all in evaluation order.
	outgoing       map[string][]domain.Edge
	nodeConditions map[string][]domain.Decorator
	nodeActions    map[string][]domain.Decorator
	edgeConditions map[string][]domain.Decorator
	edgeActions    map[string][]domain.Decorator
}

// ID returns the graph identifier.
func (g *Graph) ID() string { return g.id }

// Version returns the content-derived version stamp.
func (g *Graph) Version() string { return g.version }

// Revision returns the catalog revision, starting at 1. Graphs published
// outside a catalog report 0.
func (g *Graph) Revision() int { return g.revision }

// StartNodeID returns the id of the start node.
func (g *Graph) StartNodeID() string { return g.start }

// PublishedAt returns the publish timestamp.
func (g *Graph) PublishedAt() time.Time { return g.publishedAt }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (domain.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Edge returns the edge with the given id.
func (g *Graph) Edge(id string) (domain.Edge, bool) {
	e, ok := g.edges[id]
	return e, ok
}

// Nodes returns all nodes in authoring order.
func (g *Graph) Nodes() []domain.Node {
	out := make([]domain.Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in authoring order.
func (g *Graph) Edges() []domain.Edge {
	out := make([]domain.Edge, 0, len(g.edgeOrder))
	for _, id := range g.edgeOrder {
		out = append(out, g.edges[id])
	}
	return out
}

// Decorators returns the graph-level decorators.
func (g *Graph) Decorators() []domain.Decorator {
	return g.decorators
}

// Outgoing returns the edges leaving nodeID in evaluation order:
// descending priority, ties in authoring order.
func (g *Graph) Outgoing(nodeID string) []domain.Edge {
	return g.outgoing[nodeID]
}

// NodeConditions returns the condition decorators gating entry into nodeID,
// including inherited graph-level conditions.
func (g *Graph) NodeConditions(nodeID string) []domain.Decorator {
	return g.nodeConditions[nodeID]
}

// EntryDecorators returns the event and modifier decorators executed when
// nodeID is entered, including inherited graph-level ones.
func (g *Graph) EntryDecorators(nodeID string) []domain.Decorator {
	return g.nodeActions[nodeID]
}

// EdgeConditions returns the condition decorators of an edge.
func (g *Graph) EdgeConditions(edgeID string) []domain.Decorator {
	return g.edgeConditions[edgeID]
}

// EdgeActions returns the event and modifier decorators of an edge.
func (g *Graph) EdgeActions(edgeID string) []domain.Decorator {
	return g.edgeActions[edgeID]
}

// Draft returns an editable copy of the graph, suitable for republishing.
func (g *Graph) Draft() Draft {
	d := Draft{
		ID:          g.id,
		StartNodeID: g.start,
		Nodes:       g.Nodes(),
		Edges:       g.Edges(),
		Decorators:  g.decorators,
	}
	return d.Clone()
}

func (g *Graph) index() {
	g.outgoing = make(map[string][]domain.Edge, len(g.nodes))
	g.nodeConditions = make(map[string][]domain.Decorator)
	g.nodeActions = make(map[string][]domain.Decorator)
	g.edgeConditions = make(map[string][]domain.Decorator)
	g.edgeActions = make(map[string][]domain.Decorator)

	for _, id := range g.edgeOrder {
		e := g.edges[id]
		g.outgoing[e.From] = append(g.outgoing[e.From], e)
		g.edgeConditions[id], g.edgeActions[id] = splitByKind(e.Decorators)
	}
	for from, edges := range g.outgoing {
		slices.SortStableFunc(edges, func(a, b domain.Edge) int {
			return cmp.Compare(b.Priority, a.Priority)
		})
		g.outgoing[from] = edges
	}

	inheritedConds, inheritedActions := splitByKind(g.decorators)
	for _, id := range g.order {
		n := g.nodes[id]
		conds, actions := splitByKind(n.Decorators)
		if n.InheritGraphDecorators {
			conds = append(slices.Clone(inheritedConds), conds...)
			actions = append(slices.Clone(inheritedActions), actions...)
		}
		g.nodeConditions[id] = conds
		g.nodeActions[id] = actions
	}
}

func splitByKind(ds []domain.Decorator) (conds, actions []domain.Decorator) {
	for _, d := range ds {
		if d.Kind == domain.KindCondition {
			conds = append(conds, d)
		} else {
			actions = append(actions, d)
		}
	}
	return conds, actions
}
