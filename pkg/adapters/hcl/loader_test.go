package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
)

const tavernHCL = `
graph "tavern" {
  decorator "send_command" {
    command = "ambient"
  }

  node "greet" {
    kind = "start"
    to   = "offer"
  }

  node "offer" {
    kind     = "branch"
    speaker  = "barkeep"
    text     = "tavern.offer"
    inherit  = true
    metadata = { mood = "friendly" }

    edge "drink" {
      id       = "ale"
      label    = "Ale, please"
      priority = 2
      decorator "max_visits" {
        max = 2
      }
    }
    edge "leave" {
      decorator "set_var" {
        key   = "left"
        value = true
      }
    }
  }

  node "drink" {
    speaker = "barkeep"
    text    = "tavern.drink"
    to      = "leave"
  }

  node "leave" {
    kind = "end"
  }
}
`

func TestParse_Graph(t *testing.T) {
	drafts, err := Parse([]byte(tavernHCL), "tavern.hcl")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	d := drafts[0]

	assert.Equal(t, "tavern", d.ID)
	require.Len(t, d.Decorators, 1)
	assert.Equal(t, "ambient", d.Decorators[0].Config["command"])

	require.Len(t, d.Nodes, 4)
	assert.Equal(t, domain.NodeBranch, d.Nodes[1].Kind)
	assert.Equal(t, domain.NodeLine, d.Nodes[2].Kind)
	assert.Equal(t, "friendly", d.Nodes[1].Payload.Metadata["mood"])
	assert.True(t, d.Nodes[1].InheritGraphDecorators)

	require.Len(t, d.Edges, 4)
	ale := d.Edges[1]
	assert.Equal(t, "ale", ale.ID)
	assert.Equal(t, "offer", ale.From)
	assert.Equal(t, 2, ale.Priority)
	assert.Equal(t, 2, ale.Decorators[0].Config["max"], "whole numbers decode as int")
	assert.Equal(t, true, d.Edges[2].Decorators[0].Config["value"])

	g, _, err := graph.Publish(d)
	require.NoError(t, err)
	assert.Equal(t, "greet", g.StartNodeID())
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`graph "x" {`), "broken.hcl")
	assert.ErrorContains(t, err, "failed to parse HCL")

	_, err = Parse([]byte(`graph "x" { colour = "red" }`), "unknown.hcl")
	assert.Error(t, err, "unknown attributes are rejected")

	_, err = Parse([]byte(`
graph "x" {
  node "s" {
    decorator "set_var" {
      key = upper("k")
    }
  }
}`), "func.hcl")
	assert.Error(t, err, "functions are not available")
}

func TestLoader_WalksDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tavern.hcl"), []byte(tavernHCL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "short.hcl"), []byte(`
graph "short" {
  node "s" {
    kind = "start"
    to   = "e"
  }
  node "e" {
    kind = "end"
  }
}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	loader := NewLoader([]string{dir, filepath.Join(dir, "missing")})
	drafts, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	ids := []string{drafts[0].ID, drafts[1].ID}
	assert.ElementsMatch(t, []string{"tavern", "short"}, ids)
}

func TestLoader_DetectsCollisions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(tavernHCL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(tavernHCL), 0o644))

	_, err := NewLoader([]string{dir}).Load(context.Background())
	assert.ErrorContains(t, err, "collision detected")
}

func TestCtyValueToInterface(t *testing.T) {
	val := cty.ObjectVal(map[string]cty.Value{
		"name":  cty.StringVal("mira"),
		"ratio": cty.NumberFloatVal(0.5),
		"tags":  cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.NumberIntVal(3)}),
		"none":  cty.NullVal(cty.String),
	})
	got, err := ctyValueToInterface(val)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":  "mira",
		"ratio": 0.5,
		"tags":  []any{"a", 3},
		"none":  nil,
	}, got)
}
