package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/graph"
)

// GraphLoader defines how authoring sources hand drafts to the runtime.
// This allows the storage layer (YAML, HCL, Loam) to be decoupled.
type GraphLoader interface {
	// Load returns every draft available from the source.
	Load(ctx context.Context) ([]graph.Draft, error)
}

// Watchable defines an interface for loaders that can notify about backend changes.
// This is typically used to republish graphs while a server is running.
type Watchable interface {
	// Watch returns a channel that is signaled when the underlying source changes.
	// It abstracts away the specific event details, signaling only that a reload is required.
	Watch(ctx context.Context) (<-chan string, error)
}
