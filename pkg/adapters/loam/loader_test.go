package loam

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/loam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
)

// setupRepo writes files into a fresh loam repository and returns a loader over it.
func setupRepo(t *testing.T, files map[string]string, opts ...Option) *Loader {
	t.Helper()

	dir, err := filepath.Abs(t.TempDir())
	require.NoError(t, err)
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	repo, err := loam.Init(dir, loam.WithVersioning(false))
	require.NoError(t, err, "Failed to init loam repo")
	return New(loam.NewTypedRepository[NodeMetadata](repo), opts...)
}

func TestLoader_BuildsGraphsPerDirectory(t *testing.T) {
	loader := setupRepo(t, map[string]string{
		"tavern/greet.md": `---
kind: start
to: offer
---`,
		"tavern/offer.md": `---
kind: branch
speaker: barkeep
metadata:
  voice:
    pitch: low
edges:
  - to: drink
    label: Ale, please
    decorators:
      - only_first_time
      - type: set_var
        config:
          key: drinks
          value: 1
  - to: leave
---
What'll it be?`,
		"tavern/drink.md": `---
speaker: barkeep
text: tavern.drink
to: leave
---`,
		"tavern/leave.json": `{"kind": "end"}`,
		"intro.md": `---
id: intro.md
kind: start
to: done
---`,
		"done.md": `---
kind: end
---`,
	}, WithDefaultGraph("prologue"))

	drafts, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	prologue, tavern := drafts[0], drafts[1]
	assert.Equal(t, "prologue", prologue.ID)
	assert.Equal(t, "tavern", tavern.ID)

	ids := make([]string, 0, len(tavern.Nodes))
	for _, n := range tavern.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"drink", "greet", "leave", "offer"}, ids)

	offer := tavern.Nodes[3]
	assert.Equal(t, domain.NodeBranch, offer.Kind)
	assert.Equal(t, "What'll it be?", offer.Payload.TextKey, "the body is the text when no key is given")
	assert.Equal(t, "low", offer.Payload.Metadata["voice.pitch"])
	assert.Equal(t, "tavern.drink", tavern.Nodes[0].Payload.TextKey)

	var offerEdges []domain.Edge
	for _, e := range tavern.Edges {
		if e.From == "offer" {
			offerEdges = append(offerEdges, e)
		}
	}
	require.Len(t, offerEdges, 2)
	assert.Equal(t, "drink", offerEdges[0].To)
	require.Len(t, offerEdges[0].Decorators, 2)
	assert.Equal(t, "only_first_time", offerEdges[0].Decorators[0].Type)
	assert.Equal(t, "drinks", offerEdges[0].Decorators[1].Config["key"])
	assert.NotNil(t, offerEdges[0].Decorators[1].Config["value"])
	_, isNumber := offerEdges[0].Decorators[1].Config["value"].(json.Number)
	assert.False(t, isNumber, "numbers are normalized")

	for _, d := range drafts {
		_, _, err := graph.Publish(d)
		require.NoError(t, err, d.ID)
	}
}

func TestLoader_GraphOverride(t *testing.T) {
	loader := setupRepo(t, map[string]string{
		"a.md": `---
graph: side
kind: start
to: b
---`,
		"b.md": `---
graph: side
kind: end
---`,
	})

	drafts, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "side", drafts[0].ID)
}

func TestLoader_DetectsCollisions(t *testing.T) {
	loader := setupRepo(t, map[string]string{
		"foo.md": `---
id: foo
kind: end
---
Explicit ID`,
		"foo.json": `{"id": "foo", "kind": "end"}`,
	})

	_, err := loader.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collision detected")
	assert.Contains(t, err.Error(), "foo")
}

func TestLoader_RejectsBadDecorators(t *testing.T) {
	loader := setupRepo(t, map[string]string{
		"s.md": `---
kind: start
decorators:
  - 42
to: e
---`,
		"e.md": `---
kind: end
---`,
	})

	_, err := loader.Load(context.Background())
	assert.ErrorContains(t, err, "invalid definition type")
}

func TestFlattenMetadata(t *testing.T) {
	got := flattenMetadata(map[string]any{
		"mood": "calm",
		"anim": map[string]any{"idle": "lean", "tags": []any{"a", "b"}},
	})
	assert.Equal(t, map[string]string{
		"mood":      "calm",
		"anim.idle": "lean",
		"anim.tags": "a b",
	}, got)
	assert.Nil(t, flattenMetadata(nil))
}
