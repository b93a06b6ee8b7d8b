// Package loam loads dialogue graphs from a loam document repository, one
// markdown, YAML or JSON document per node.
//
// A document at "tavern/greet.md" is node "greet" of graph "tavern".
// Documents at the repository root belong to the loader's default graph.
package loam

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aretw0/loam"

	"github.com/aretw0/parley/pkg/adapters/document"
	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/ports"
)

var (
	_ ports.GraphLoader = (*Loader)(nil)
	_ ports.Watchable   = (*Loader)(nil)
)

// DefaultGraphID names the graph of documents at the repository root.
const DefaultGraphID = "main"

// Loader adapts a loam repository to ports.GraphLoader.
type Loader struct {
	Repo         *loam.TypedRepository[NodeMetadata]
	defaultGraph string
}

// Option configures a Loader.
type Option func(*Loader)

// WithDefaultGraph sets the graph id of root-level documents.
func WithDefaultGraph(id string) Option {
	return func(l *Loader) {
		if id != "" {
			l.defaultGraph = id
		}
	}
}

// New creates a new Loam adapter.
func New(repo *loam.TypedRepository[NodeMetadata], opts ...Option) *Loader {
	l := &Loader{Repo: repo, defaultGraph: DefaultGraphID}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type located struct {
	graphID string
	source  string
	node    document.NodeSpec
}

// Load implements ports.GraphLoader. Nodes are ordered by id within each
// graph so the published version does not depend on directory order.
func (l *Loader) Load(ctx context.Context) ([]graph.Draft, error) {
	docs, err := l.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	specs := make(map[string]*document.GraphSpec)
	var order []string

	for _, doc := range docs {
		loc, err := l.locate(doc.ID, doc.Data, doc.Content)
		if err != nil {
			return nil, err
		}
		key := loc.graphID + "/" + loc.node.ID
		if existing, ok := seen[key]; ok {
			return nil, fmt.Errorf("collision detected: node '%s' of graph '%s' is defined in both '%s' and '%s'", loc.node.ID, loc.graphID, existing, loc.source)
		}
		seen[key] = loc.source

		spec, ok := specs[loc.graphID]
		if !ok {
			spec = &document.GraphSpec{ID: loc.graphID}
			specs[loc.graphID] = spec
			order = append(order, loc.graphID)
		}
		spec.Nodes = append(spec.Nodes, loc.node)
	}

	slices.Sort(order)
	drafts := make([]graph.Draft, 0, len(order))
	for _, id := range order {
		spec := specs[id]
		slices.SortFunc(spec.Nodes, func(a, b document.NodeSpec) int { return strings.Compare(a.ID, b.ID) })
		drafts = append(drafts, spec.Draft())
	}
	return drafts, nil
}

func (l *Loader) locate(docID string, meta NodeMetadata, content string) (located, error) {
	rawID := meta.ID
	if rawID == "" {
		rawID = docID
	}
	full := trimExtension(rawID)
	if meta.ID != "" && !strings.Contains(full, "/") {
		// A bare explicit id keeps the directory of its document.
		if dir := path.Dir(trimExtension(docID)); dir != "." {
			full = dir + "/" + full
		}
	}

	graphID, nodeID := l.defaultGraph, full
	if dir := path.Dir(full); dir != "." {
		graphID, nodeID = dir, path.Base(full)
	}
	if meta.Graph != "" {
		graphID = meta.Graph
	}

	node := document.NodeSpec{
		ID:       nodeID,
		Kind:     meta.Kind,
		Speaker:  meta.Speaker,
		Text:     meta.Text,
		Inherit:  meta.Inherit,
		To:       meta.To,
		Metadata: flattenMetadata(meta.Metadata),
	}
	if node.Text == "" {
		node.Text = strings.TrimSpace(content)
	}

	var err error
	if node.Decorators, err = decodeDecorators(meta.Decorators); err != nil {
		return located{}, fmt.Errorf("%s: %w", docID, err)
	}
	for _, e := range meta.Edges {
		edge := document.EdgeSpec{
			ID:       e.ID,
			To:       e.To,
			Priority: e.Priority,
			Label:    e.Label,
			SelfLoop: e.SelfLoop,
		}
		if edge.Decorators, err = decodeDecorators(e.Decorators); err != nil {
			return located{}, fmt.Errorf("%s: edge to %s: %w", docID, e.To, err)
		}
		node.Edges = append(node.Edges, edge)
	}

	return located{graphID: graphID, source: docID, node: node}, nil
}

func decodeDecorators(raw []any) ([]document.DecoratorSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	specs, err := document.DecodeDecorators(raw)
	if err != nil {
		return nil, err
	}
	for i := range specs {
		if specs[i].Config != nil {
			specs[i].Config = normalizeMap(specs[i].Config)
		}
	}
	return specs, nil
}

// normalizeMap turns strict-mode json.Number values into int or float64 and
// YAML's map[any]any into map[string]any.
func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		return normalizeMap(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[fmt.Sprintf("%v", k)] = normalize(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = normalize(sub)
		}
		return out
	default:
		return v
	}
}

func trimExtension(id string) string {
	id = filepath.ToSlash(id)
	if ext := path.Ext(id); ext != "" {
		return strings.TrimSuffix(id, ext)
	}
	return id
}

// Watch implements ports.Watchable.
func (l *Loader) Watch(ctx context.Context) (<-chan string, error) {
	events, err := l.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case ch <- evt.ID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

// flattenMetadata converts nested metadata into a flat map with dotted keys.
func flattenMetadata(src map[string]any) map[string]string {
	if len(src) == 0 {
		return nil
	}
	res := make(map[string]string)
	var visit func(prefix string, v any)

	visit = func(prefix string, v any) {
		switch val := v.(type) {
		case map[string]any:
			for k, sub := range val {
				visit(join(prefix, k), sub)
			}
		case map[any]any:
			for k, sub := range val {
				visit(join(prefix, fmt.Sprintf("%v", k)), sub)
			}
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			res[prefix] = strings.Join(parts, " ")
		default:
			if prefix != "" {
				res[prefix] = fmt.Sprintf("%v", val)
			}
		}
	}

	for k, v := range src {
		visit(k, v)
	}
	return res
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
