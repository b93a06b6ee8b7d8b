package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/parley/pkg/decorator"
	"github.com/aretw0/parley/pkg/domain"
)

var defaultRegistry = sync.OnceValue(func() *decorator.Registry {
	r := decorator.Builtin()
	r.Freeze()
	return r
})

type publishConfig struct {
	registry         *decorator.Registry
	warningsAsErrors bool
	now              func() time.Time
}

// PublishOption configures Publish.
type PublishOption func(*publishConfig)

// WithRegistry validates decorators against r instead of the built-in registry.
func WithRegistry(r *decorator.Registry) PublishOption {
	return func(c *publishConfig) {
		c.registry = r
	}
}

// WithWarningsAsErrors rejects drafts that produce any warning.
func WithWarningsAsErrors() PublishOption {
	return func(c *publishConfig) {
		c.warningsAsErrors = true
	}
}

// Publish validates the draft and returns an immutable graph.
// The draft is copied; later changes to it do not affect the graph.
func Publish(d Draft, opts ...PublishOption) (*Graph, *Report, error) {
	cfg := publishConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.registry == nil {
		cfg.registry = defaultRegistry()
	}

	draft := d.Clone()
	v := &validation{registry: cfg.registry, draft: &draft}
	v.run()

	report := &Report{Warnings: v.warnings}
	if cfg.warningsAsErrors && len(v.warnings) > 0 {
		v.problems = append(v.problems, v.warnings...)
	}
	if len(v.problems) > 0 {
		return nil, report, &ValidationError{GraphID: draft.ID, Problems: v.problems}
	}

	g := &Graph{
		id:          draft.ID,
		start:       v.start,
		publishedAt: cfg.now(),
		nodes:       make(map[string]domain.Node, len(draft.Nodes)),
		edges:       make(map[string]domain.Edge, len(draft.Edges)),
		decorators:  draft.Decorators,
	}
	for _, e := range draft.Edges {
		g.edgeOrder = append(g.edgeOrder, e.ID)
		g.edges[e.ID] = e
	}
	for i := range draft.Nodes {
		n := &draft.Nodes[i]
		n.Edges = nil
		for _, e := range draft.Edges {
			if e.From == n.ID {
				n.Edges = append(n.Edges, e.ID)
			}
		}
		g.order = append(g.order, n.ID)
		g.nodes[n.ID] = *n
	}
	draft.StartNodeID = v.start
	g.index()

	version, err := computeVersion(draft)
	if err != nil {
		return nil, report, err
	}
	g.version = version

	return g, report, nil
}

// computeVersion hashes the normalized draft. encoding/json sorts map keys,
// so the stamp is stable across config map iteration order.
func computeVersion(d Draft) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to serialize graph for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
