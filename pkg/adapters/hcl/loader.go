// Package hcl loads dialogue graphs written in HCL.
//
//	graph "tavern" {
//	  node "greet" {
//	    kind = "start"
//	    to   = "offer"
//	  }
//	  node "offer" {
//	    kind = "branch"
//	    text = "tavern.offer"
//	    edge "drink" {
//	      label = "Ale, please"
//	      decorator "set_var" {
//	        key   = "drinks"
//	        value = 1
//	      }
//	    }
//	  }
//	}
//
// Decorator blocks take the type as label; every attribute other than id
// and kind becomes decorator config.
package hcl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/adapters/document"
	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/ports"
)

var _ ports.GraphLoader = (*Loader)(nil)

type fileRoot struct {
	Graphs []*graphBlock `hcl:"graph,block"`
}

type graphBlock struct {
	ID         string            `hcl:"id,label"`
	Start      string            `hcl:"start,optional"`
	Decorators []*decoratorBlock `hcl:"decorator,block"`
	Nodes      []*nodeBlock      `hcl:"node,block"`
}

type nodeBlock struct {
	ID         string            `hcl:"id,label"`
	Kind       string            `hcl:"kind,optional"`
	Speaker    string            `hcl:"speaker,optional"`
	Text       string            `hcl:"text,optional"`
	Metadata   map[string]string `hcl:"metadata,optional"`
	Inherit    bool              `hcl:"inherit,optional"`
	To         string            `hcl:"to,optional"`
	Decorators []*decoratorBlock `hcl:"decorator,block"`
	Edges      []*edgeBlock      `hcl:"edge,block"`
}

type edgeBlock struct {
	To         string            `hcl:"to,label"`
	ID         string            `hcl:"id,optional"`
	Priority   int               `hcl:"priority,optional"`
	Label      string            `hcl:"label,optional"`
	SelfLoop   bool              `hcl:"self_loop,optional"`
	Decorators []*decoratorBlock `hcl:"decorator,block"`
}

type decoratorBlock struct {
	Type   string   `hcl:"type,label"`
	ID     string   `hcl:"id,optional"`
	Kind   string   `hcl:"kind,optional"`
	Config hcl.Body `hcl:",remain"`
}

// Loader reads .hcl files from a set of files and directories.
type Loader struct {
	paths  []string
	logger *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the loader logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader over paths. Directories are walked recursively
// and missing paths are skipped.
func NewLoader(paths []string, opts ...Option) *Loader {
	l := &Loader{paths: paths, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load implements ports.GraphLoader.
func (l *Loader) Load(ctx context.Context) ([]graph.Draft, error) {
	files, err := findHCLFiles(l.paths)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("discovered hcl files", "count", len(files))

	parser := hclparse.NewParser()
	seen := make(map[string]string)
	var drafts []graph.Draft
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		found, err := decode(f.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, err)
		}
		for _, d := range found {
			if prev, ok := seen[d.ID]; ok {
				return nil, fmt.Errorf("collision detected: graph %q is defined in both %q and %q", d.ID, prev, file)
			}
			seen[d.ID] = file
			drafts = append(drafts, d)
		}
	}
	l.logger.Debug("hcl loading complete", "graphs", len(drafts))
	return drafts, nil
}

// Parse decodes the graphs of a single HCL source. filename is used in diagnostics.
func Parse(src []byte, filename string) ([]graph.Draft, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %w", diags)
	}
	return decode(f.Body)
}

func decode(body hcl.Body) ([]graph.Draft, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(body, nil, &root); diags.HasErrors() {
		return nil, diags
	}
	drafts := make([]graph.Draft, 0, len(root.Graphs))
	for _, g := range root.Graphs {
		spec, err := translateGraph(g)
		if err != nil {
			return nil, fmt.Errorf("graph %q: %w", g.ID, err)
		}
		drafts = append(drafts, spec.Draft())
	}
	return drafts, nil
}

func translateGraph(g *graphBlock) (document.GraphSpec, error) {
	spec := document.GraphSpec{ID: g.ID, Start: g.Start}
	var err error
	if spec.Decorators, err = translateDecorators(g.Decorators); err != nil {
		return spec, err
	}
	for _, n := range g.Nodes {
		ns := document.NodeSpec{
			ID:       n.ID,
			Kind:     n.Kind,
			Speaker:  n.Speaker,
			Text:     n.Text,
			Metadata: n.Metadata,
			Inherit:  n.Inherit,
			To:       n.To,
		}
		if ns.Decorators, err = translateDecorators(n.Decorators); err != nil {
			return spec, fmt.Errorf("node %q: %w", n.ID, err)
		}
		for _, e := range n.Edges {
			es := document.EdgeSpec{
				ID:       e.ID,
				To:       e.To,
				Priority: e.Priority,
				Label:    e.Label,
				SelfLoop: e.SelfLoop,
			}
			if es.Decorators, err = translateDecorators(e.Decorators); err != nil {
				return spec, fmt.Errorf("edge %s->%s: %w", n.ID, e.To, err)
			}
			ns.Edges = append(ns.Edges, es)
		}
		spec.Nodes = append(spec.Nodes, ns)
	}
	return spec, nil
}

func translateDecorators(blocks []*decoratorBlock) ([]document.DecoratorSpec, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	out := make([]document.DecoratorSpec, 0, len(blocks))
	for _, b := range blocks {
		config, err := bodyConfig(b.Config)
		if err != nil {
			return nil, fmt.Errorf("decorator %q: %w", b.Type, err)
		}
		out = append(out, document.DecoratorSpec{ID: b.ID, Type: b.Type, Kind: b.Kind, Config: config})
	}
	return out, nil
}

// bodyConfig evaluates the remaining attributes of a decorator block.
// Expressions are evaluated without variables or functions.
func bodyConfig(body hcl.Body) (map[string]any, error) {
	if body == nil {
		return nil, nil
	}
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	config := make(map[string]any, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, diags
		}
		v, err := ctyValueToInterface(val)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		config[name] = v
	}
	return config, nil
}

// findHCLFiles walks the given paths and returns every .hcl file in order.
func findHCLFiles(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			files = append(files, p)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			if filepath.Ext(path) == ".hcl" {
				add(path)
			}
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(files)
	return files, nil
}
