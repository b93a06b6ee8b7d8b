package graph

import "github.com/aretw0/parley/pkg/domain"

// Draft is the authoring-side description of a dialogue graph.
// Edge order is the authoring order used to break priority ties.
// Node.Edges is ignored and recomputed from Edges on publish.
type Draft struct {
	ID          string             `json:"id" yaml:"id"`
	StartNodeID string             `json:"start,omitempty" yaml:"start"`
	Nodes       []domain.Node      `json:"nodes" yaml:"nodes"`
	Edges       []domain.Edge      `json:"edges" yaml:"edges"`
	Decorators  []domain.Decorator `json:"decorators,omitempty" yaml:"decorators"`
}

// Clone returns a deep copy of the draft.
func (d Draft) Clone() Draft {
	out := Draft{
		ID:          d.ID,
		StartNodeID: d.StartNodeID,
		Decorators:  domain.CloneDecorators(d.Decorators),
	}
	if d.Nodes != nil {
		out.Nodes = make([]domain.Node, len(d.Nodes))
		for i, n := range d.Nodes {
			out.Nodes[i] = n.Clone()
		}
	}
	if d.Edges != nil {
		out.Edges = make([]domain.Edge, len(d.Edges))
		for i, e := range d.Edges {
			out.Edges[i] = e.Clone()
		}
	}
	return out
}
