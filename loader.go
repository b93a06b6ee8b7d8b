package parley

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/loam"

	"github.com/aretw0/parley/pkg/adapters/document"
	"github.com/aretw0/parley/pkg/adapters/hcl"
	loamAdapter "github.com/aretw0/parley/pkg/adapters/loam"
	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/ports"
)

// LoaderFunc adapts a function to ports.GraphLoader.
type LoaderFunc func(ctx context.Context) ([]graph.Draft, error)

func (f LoaderFunc) Load(ctx context.Context) ([]graph.Draft, error) { return f(ctx) }

// DetectLoader picks a graph source for path:
//   - a .hcl file, or a directory holding .hcl files, is read with the HCL loader;
//   - a .yaml, .yml or .json file is a single graph document;
//   - a directory holding markdown files is a Loam repository of node documents;
//   - any other directory is read as one graph document per file.
func DetectLoader(path string) (ports.GraphLoader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	if !info.IsDir() {
		if strings.EqualFold(filepath.Ext(path), ".hcl") {
			return hcl.NewLoader([]string{path}), nil
		}
		if _, ok := document.FormatFromPath(path); ok {
			return LoaderFunc(func(context.Context) ([]graph.Draft, error) {
				d, err := document.ReadFile(path)
				if err != nil {
					return nil, err
				}
				return []graph.Draft{d}, nil
			}), nil
		}
		return nil, fmt.Errorf("unsupported graph file %s", path)
	}

	var hasHCL, hasMarkdown bool
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".hcl":
			hasHCL = true
		case ".md":
			hasMarkdown = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}

	switch {
	case hasHCL:
		return hcl.NewLoader([]string{path}), nil
	case hasMarkdown:
		return newLoamLoader(path)
	default:
		return document.NewLoader(path), nil
	}
}

func newLoamLoader(path string) (ports.GraphLoader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	// Strict mode keeps numbers as json.Number across adapters; read-only
	// because the engine never writes node documents.
	repo, err := loam.Init(absPath,
		loam.WithStrict(true),
		loam.WithReadOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return loamAdapter.New(loam.NewTypedRepository[loamAdapter.NodeMetadata](repo)), nil
}

// MultiLoader merges several sources. A graph id provided by two sources is an error.
func MultiLoader(loaders ...ports.GraphLoader) ports.GraphLoader {
	return LoaderFunc(func(ctx context.Context) ([]graph.Draft, error) {
		seen := make(map[string]int)
		var out []graph.Draft
		for i, l := range loaders {
			drafts, err := l.Load(ctx)
			if err != nil {
				return nil, err
			}
			for _, d := range drafts {
				if prev, ok := seen[d.ID]; ok {
					return nil, fmt.Errorf("collision detected: graph %q is provided by sources %d and %d", d.ID, prev, i)
				}
				seen[d.ID] = i
				out = append(out, d)
			}
		}
		return out, nil
	})
}

// PathsLoader detects a loader for every path and merges them.
func PathsLoader(paths ...string) (ports.GraphLoader, error) {
	if len(paths) == 1 {
		return DetectLoader(paths[0])
	}
	loaders := make([]ports.GraphLoader, 0, len(paths))
	for _, p := range paths {
		l, err := DetectLoader(p)
		if err != nil {
			return nil, err
		}
		loaders = append(loaders, l)
	}
	return MultiLoader(loaders...), nil
}
