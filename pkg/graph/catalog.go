package graph

import (
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// Catalog keeps every published version of every graph.
// Publishing never touches versions already handed out, so instances
// started against an older revision keep running on it.
type Catalog struct {
	mu     sync.RWMutex
	opts   []PublishOption
	graphs map[string][]*Graph
}

// NewCatalog creates an empty catalog. The options apply to every Publish.
func NewCatalog(opts ...PublishOption) *Catalog {
	return &Catalog{
		opts:   opts,
		graphs: make(map[string][]*Graph),
	}
}

// Publish validates the draft and stores it as the latest revision of its graph.
// Republishing identical content returns the current revision unchanged.
func (c *Catalog) Publish(d Draft) (*Graph, *Report, error) {
	g, report, err := Publish(d, c.opts...)
	if err != nil {
		return nil, report, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	revisions := c.graphs[g.id]
	if n := len(revisions); n > 0 && revisions[n-1].version == g.version {
		return revisions[n-1], report, nil
	}
	g.revision = len(revisions) + 1
	c.graphs[g.id] = append(revisions, g)
	return g, report, nil
}

// Latest returns the most recent revision of a graph.
func (c *Catalog) Latest(id string) (*Graph, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	revisions := c.graphs[id]
	if len(revisions) == 0 {
		return nil, fmt.Errorf("graph %q: %w", id, domain.ErrGraphNotFound)
	}
	return revisions[len(revisions)-1], nil
}

// Version returns the revision of a graph with the given version stamp.
func (c *Catalog) Version(id, version string) (*Graph, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, g := range c.graphs[id] {
		if g.version == version {
			return g, nil
		}
	}
	return nil, fmt.Errorf("graph %q version %s: %w", id, version, domain.ErrGraphNotFound)
}

// Revisions returns every revision of a graph, oldest first.
func (c *Catalog) Revisions(id string) []*Graph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.graphs[id])
}

// List returns the latest revision of every graph, ordered by id.
func (c *Catalog) List() []*Graph {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Graph, 0, len(c.graphs))
	for _, revisions := range c.graphs {
		out = append(out, revisions[len(revisions)-1])
	}
	slices.SortFunc(out, func(a, b *Graph) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}
