package domain

// NodeKind defines the structural role of a node in a dialogue graph.
type NodeKind string

const (
	// NodeStart is the single entry point of a graph.
	NodeStart NodeKind = "start"
	// NodeLine is a spoken dialogue line.
	NodeLine NodeKind = "line"
	// NodeBranch awaits a participant's choice before the traversal continues.
	NodeBranch NodeKind = "branch"
	// NodeEvent carries no text; it exists to fire decorators.
	NodeEvent NodeKind = "event"
	// NodeEnd completes the instance when entered.
	NodeEnd NodeKind = "end"
)

// Valid reports whether k is one of the known node kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeStart, NodeLine, NodeBranch, NodeEvent, NodeEnd:
		return true
	}
	return false
}

// Payload is the author-supplied content of a node.
// The runtime never interprets it; it is forwarded in NodeEntered events.
type Payload struct {
	TextKey  string            `json:"text_key,omitempty" yaml:"text_key" mapstructure:"text_key"`
	Speaker  string            `json:"speaker,omitempty" yaml:"speaker" mapstructure:"speaker"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata" mapstructure:"metadata"`
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	out := p
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Node represents a single point in the dialogue graph.
type Node struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`

	// Edges lists outgoing edge ids in authoring order.
	// It is populated when the graph is published.
	Edges []string `json:"edges,omitempty"`

	Decorators []Decorator `json:"decorators,omitempty"`
	Payload    Payload     `json:"payload"`

	// InheritGraphDecorators prepends the graph-level decorators
	// to the node's own when the node is entered.
	InheritGraphDecorators bool `json:"inherit_graph_decorators,omitempty"`
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	out.Edges = append([]string(nil), n.Edges...)
	out.Decorators = CloneDecorators(n.Decorators)
	out.Payload = n.Payload.Clone()
	return out
}

// Edge is a directed, prioritized connection between two nodes.
type Edge struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`

	// Priority orders edge evaluation: higher values are tried first.
	// Ties keep authoring order.
	Priority int `json:"priority,omitempty"`

	// Label is shown to participants when the source node is a branch.
	Label string `json:"label,omitempty"`

	// AllowSelfLoop must be set for edges where From == To.
	AllowSelfLoop bool `json:"allow_self_loop,omitempty"`

	Decorators []Decorator `json:"decorators,omitempty"`
}

// Clone returns a deep copy of the edge.
func (e Edge) Clone() Edge {
	out := e
	out.Decorators = CloneDecorators(e.Decorators)
	return out
}

// Choice is an eligible edge offered to participants while a branch awaits input.
type Choice struct {
	EdgeID string `json:"edge_id"`
	To     string `json:"to"`
	Label  string `json:"label,omitempty"`
}
