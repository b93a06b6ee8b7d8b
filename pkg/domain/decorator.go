package domain

// DecoratorKind is the capability tag of a decorator.
type DecoratorKind string

const (
	// KindCondition gates eligibility and must be free of side effects.
	KindCondition DecoratorKind = "condition"
	// KindEvent emits outward notifications once a node or edge is committed.
	KindEvent DecoratorKind = "event"
	// KindModifier mutates per-instance state once a node or edge is committed.
	KindModifier DecoratorKind = "modifier"
)

// Valid reports whether k is a known decorator kind.
func (k DecoratorKind) Valid() bool {
	switch k {
	case KindCondition, KindEvent, KindModifier:
		return true
	}
	return false
}

// Decorator is a configured behavior attached to a node or an edge.
// Type selects the behavior from the decorator registry.
type Decorator struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Kind   DecoratorKind  `json:"kind,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// Clone returns a copy of the decorator with its own config map.
func (d Decorator) Clone() Decorator {
	out := d
	if d.Config != nil {
		out.Config = make(map[string]any, len(d.Config))
		for k, v := range d.Config {
			out.Config[k] = v
		}
	}
	return out
}

// CloneDecorators deep copies a decorator list.
func CloneDecorators(in []Decorator) []Decorator {
	if in == nil {
		return nil
	}
	out := make([]Decorator, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}
