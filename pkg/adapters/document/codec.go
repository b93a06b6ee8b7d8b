package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/ports"
)

// Format names a document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var _ ports.GraphLoader = (*Loader)(nil)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".json":
		return FormatJSON, true
	}
	return "", false
}

// Parse decodes a document into a draft. Unknown fields are rejected.
func Parse(data []byte, format Format) (graph.Draft, error) {
	var spec GraphSpec
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return graph.Draft{}, fmt.Errorf("failed to parse yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return graph.Draft{}, fmt.Errorf("failed to parse json: %w", err)
		}
	default:
		return graph.Draft{}, fmt.Errorf("unsupported document format %q", format)
	}
	if spec.ID == "" {
		return graph.Draft{}, errors.New("document is missing the graph id")
	}
	return spec.Draft(), nil
}

// Marshal encodes a draft.
func Marshal(d graph.Draft, format Format) ([]byte, error) {
	spec := FromDraft(d)
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(spec); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		return json.MarshalIndent(spec, "", "  ")
	}
	return nil, fmt.Errorf("unsupported document format %q", format)
}

// ReadFile parses a single document file.
func ReadFile(path string) (graph.Draft, error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return graph.Draft{}, fmt.Errorf("%s: unsupported extension", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return graph.Draft{}, err
	}
	d, err := Parse(data, format)
	if err != nil {
		return graph.Draft{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Loader reads every YAML and JSON document of a directory, one graph per file.
type Loader struct {
	dir string
}

// NewLoader creates a loader over dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load implements ports.GraphLoader. Files are read in name order and a graph
// id defined by two files is an error.
func (l *Loader) Load(ctx context.Context) ([]graph.Draft, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := FormatFromPath(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	seen := make(map[string]string, len(names))
	drafts := make([]graph.Draft, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[d.ID]; ok {
			return nil, fmt.Errorf("collision detected: graph %q is defined in both %q and %q", d.ID, prev, name)
		}
		seen[d.ID] = name
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// UnmarshalYAML accepts a bare type name in place of a decorator mapping.
func (s *DecoratorSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Type = value.Value
		return nil
	}
	type plain DecoratorSpec
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*s = DecoratorSpec(p)
	return nil
}

// UnmarshalJSON accepts a bare type name in place of a decorator object.
func (s *DecoratorSpec) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &s.Type)
	}
	type plain DecoratorSpec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = DecoratorSpec(p)
	return nil
}
