package loam

// NodeMetadata is the frontmatter of a node document.
// The document body becomes the node text when no text key is given.
type NodeMetadata struct {
	ID string `json:"id" mapstructure:"id"`
	// Graph overrides the graph derived from the document directory.
	Graph    string         `json:"graph" mapstructure:"graph"`
	Kind     string         `json:"kind" mapstructure:"kind"`
	Speaker  string         `json:"speaker" mapstructure:"speaker"`
	Text     string         `json:"text" mapstructure:"text"`
	Inherit  bool           `json:"inherit" mapstructure:"inherit"`
	Metadata map[string]any `json:"metadata" mapstructure:"metadata"`

	// Decorators holds type names or decorator maps.
	Decorators []any          `json:"decorators" mapstructure:"decorators"`
	Edges      []EdgeMetadata `json:"edges" mapstructure:"edges"`
	// To is shorthand for a single unconditioned edge.
	To string `json:"to" mapstructure:"to"`
}

// EdgeMetadata is an outgoing edge in node frontmatter.
type EdgeMetadata struct {
	ID         string `json:"id" mapstructure:"id"`
	To         string `json:"to" mapstructure:"to"`
	Priority   int    `json:"priority" mapstructure:"priority"`
	Label      string `json:"label" mapstructure:"label"`
	SelfLoop   bool   `json:"self_loop" mapstructure:"self_loop"`
	Decorators []any  `json:"decorators" mapstructure:"decorators"`
}
