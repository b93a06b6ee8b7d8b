// Package document reads and writes dialogue graphs authored as a single
// YAML or JSON document.
//
// A document describes one graph. Edges live under their source node and
// decorators may be written as a bare type name when they take no config:
//
//	id: tavern
//	nodes:
//	  - id: greet
//	    kind: start
//	    to: offer
//	  - id: offer
//	    kind: branch
//	    text: tavern.offer
//	    edges:
//	      - to: drink
//	        label: "Ale, please"
//	        decorators: [only_first_time]
package document

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
)

// GraphSpec is the serialized form of a graph.
type GraphSpec struct {
	ID         string          `json:"id" yaml:"id" mapstructure:"id"`
	Start      string          `json:"start,omitempty" yaml:"start,omitempty" mapstructure:"start"`
	Decorators []DecoratorSpec `json:"decorators,omitempty" yaml:"decorators,omitempty" mapstructure:"decorators"`
	Nodes      []NodeSpec      `json:"nodes" yaml:"nodes" mapstructure:"nodes"`
}

// NodeSpec is the serialized form of a node and its outgoing edges.
type NodeSpec struct {
	ID         string            `json:"id" yaml:"id" mapstructure:"id"`
	Kind       string            `json:"kind,omitempty" yaml:"kind,omitempty" mapstructure:"kind"`
	Speaker    string            `json:"speaker,omitempty" yaml:"speaker,omitempty" mapstructure:"speaker"`
	Text       string            `json:"text,omitempty" yaml:"text,omitempty" mapstructure:"text"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty" mapstructure:"metadata"`
	Inherit    bool              `json:"inherit,omitempty" yaml:"inherit,omitempty" mapstructure:"inherit"`
	Decorators []DecoratorSpec   `json:"decorators,omitempty" yaml:"decorators,omitempty" mapstructure:"decorators"`
	Edges      []EdgeSpec        `json:"edges,omitempty" yaml:"edges,omitempty" mapstructure:"edges"`

	// To is shorthand for a single unconditioned edge, appended after Edges.
	To string `json:"to,omitempty" yaml:"to,omitempty" mapstructure:"to"`
}

// EdgeSpec is the serialized form of an edge.
type EdgeSpec struct {
	ID         string          `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	To         string          `json:"to" yaml:"to" mapstructure:"to"`
	Priority   int             `json:"priority,omitempty" yaml:"priority,omitempty" mapstructure:"priority"`
	Label      string          `json:"label,omitempty" yaml:"label,omitempty" mapstructure:"label"`
	SelfLoop   bool            `json:"self_loop,omitempty" yaml:"self_loop,omitempty" mapstructure:"self_loop"`
	Decorators []DecoratorSpec `json:"decorators,omitempty" yaml:"decorators,omitempty" mapstructure:"decorators"`
}

// DecoratorSpec is the serialized form of a decorator.
type DecoratorSpec struct {
	ID     string         `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	Type   string         `json:"type" yaml:"type" mapstructure:"type"`
	Kind   string         `json:"kind,omitempty" yaml:"kind,omitempty" mapstructure:"kind"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty" mapstructure:"config"`
}

// Draft converts the spec into a graph draft. Node kinds default to line.
func (s GraphSpec) Draft() graph.Draft {
	d := graph.Draft{
		ID:          s.ID,
		StartNodeID: s.Start,
		Decorators:  decorators(s.Decorators),
		Nodes:       make([]domain.Node, 0, len(s.Nodes)),
	}
	for _, n := range s.Nodes {
		kind := domain.NodeKind(n.Kind)
		if kind == "" {
			kind = domain.NodeLine
		}
		d.Nodes = append(d.Nodes, domain.Node{
			ID:                     n.ID,
			Kind:                   kind,
			Decorators:             decorators(n.Decorators),
			InheritGraphDecorators: n.Inherit,
			Payload: domain.Payload{
				TextKey:  n.Text,
				Speaker:  n.Speaker,
				Metadata: n.Metadata,
			},
		})
		for _, e := range n.Edges {
			d.Edges = append(d.Edges, domain.Edge{
				ID:            e.ID,
				From:          n.ID,
				To:            e.To,
				Priority:      e.Priority,
				Label:         e.Label,
				AllowSelfLoop: e.SelfLoop,
				Decorators:    decorators(e.Decorators),
			})
		}
		if n.To != "" {
			d.Edges = append(d.Edges, domain.Edge{From: n.ID, To: n.To})
		}
	}
	return d
}

// FromDraft converts a draft back into its serialized form.
func FromDraft(d graph.Draft) GraphSpec {
	s := GraphSpec{
		ID:         d.ID,
		Start:      d.StartNodeID,
		Decorators: decoratorSpecs(d.Decorators),
		Nodes:      make([]NodeSpec, 0, len(d.Nodes)),
	}
	for _, n := range d.Nodes {
		ns := NodeSpec{
			ID:         n.ID,
			Kind:       string(n.Kind),
			Speaker:    n.Payload.Speaker,
			Text:       n.Payload.TextKey,
			Metadata:   n.Payload.Metadata,
			Inherit:    n.InheritGraphDecorators,
			Decorators: decoratorSpecs(n.Decorators),
		}
		for _, e := range d.Edges {
			if e.From != n.ID {
				continue
			}
			ns.Edges = append(ns.Edges, EdgeSpec{
				ID:         e.ID,
				To:         e.To,
				Priority:   e.Priority,
				Label:      e.Label,
				SelfLoop:   e.AllowSelfLoop,
				Decorators: decoratorSpecs(e.Decorators),
			})
		}
		s.Nodes = append(s.Nodes, ns)
	}
	return s
}

func decorators(specs []DecoratorSpec) []domain.Decorator {
	if len(specs) == 0 {
		return nil
	}
	out := make([]domain.Decorator, len(specs))
	for i, s := range specs {
		out[i] = domain.Decorator{
			ID:     s.ID,
			Type:   s.Type,
			Kind:   domain.DecoratorKind(s.Kind),
			Config: s.Config,
		}
	}
	return out
}

func decoratorSpecs(ds []domain.Decorator) []DecoratorSpec {
	if len(ds) == 0 {
		return nil
	}
	out := make([]DecoratorSpec, len(ds))
	for i, d := range ds {
		out[i] = DecoratorSpec{ID: d.ID, Type: d.Type, Kind: string(d.Kind), Config: d.Config}
	}
	return out
}

// DecodeDecorators decodes loosely typed decorator lists, as found in
// frontmatter, where each item is either a type name or a map.
func DecodeDecorators(raw []any) ([]DecoratorSpec, error) {
	out := make([]DecoratorSpec, 0, len(raw))
	for i, item := range raw {
		switch v := item.(type) {
		case string:
			out = append(out, DecoratorSpec{Type: v})
		case map[string]any, map[any]any:
			var spec DecoratorSpec
			if err := mapstructure.Decode(v, &spec); err != nil {
				return nil, fmt.Errorf("decorator %d: %w", i, err)
			}
			if spec.Type == "" {
				return nil, fmt.Errorf("decorator %d: missing type", i)
			}
			out = append(out, spec)
		default:
			return nil, fmt.Errorf("decorator %d: invalid definition type %T", i, v)
		}
	}
	return out, nil
}
