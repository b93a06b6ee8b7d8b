package mermaid_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/internal/presentation/mermaid"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/dsl"
	"github.com/aretw0/parley/pkg/graph"
)

func sample(t *testing.T) *graph.Graph {
	t.Helper()
	b := dsl.New("sample")
	b.Add("start").Start().Go("ask")
	b.Add("ask").Branch("sample.ask").Speaker("old-man").
		Go("yes", dsl.Label(`Say "yes"`), dsl.Priority(2), dsl.When("only_first_time", nil)).
		Go("no", dsl.Do("set_var", map[string]any{"key": "refused", "value": true}))
	b.Add("yes").Event().Go("end")
	b.Add("no").Line("old-man", "sample.no").Go("end")
	b.Add("end").End()
	g, _, err := b.Publish()
	require.NoError(t, err)
	return g
}

func TestGenerate_Shapes(t *testing.T) {
	out := mermaid.Generate(sample(t), nil)

	for _, want := range []string{
		"graph TD\n",
		`start(("start"))`,
		`ask{"ask <br/> old-man"}`,
		`yes[["yes"]]`,
		`no["no <br/> old-man"]`,
		`end((("end")))`,
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "Overlay Styles")
}

func TestGenerate_Edges(t *testing.T) {
	out := mermaid.Generate(sample(t), nil)

	assert.Contains(t, out, `ask -- "Say 'yes' p2 [only_first_time]" --> yes`)
	assert.Contains(t, out, "ask -.-> no", "edges with actions are dotted")
	assert.Contains(t, out, "start --> ask")
}

func TestGenerate_Overlay(t *testing.T) {
	snap := domain.NewSnapshot("i1", "sample", "v")
	snap.History = []string{"start", "ask", "start"}
	snap.CurrentNodeID = "no"

	out := mermaid.Generate(sample(t), mermaid.OverlayFrom(snap))
	assert.Contains(t, out, "class start visited;")
	assert.Contains(t, out, "class ask visited;")
	assert.Equal(t, 1, strings.Count(out, "class start visited;"), "visited nodes are deduplicated")
	assert.Contains(t, out, "class no current;")
	assert.Nil(t, mermaid.OverlayFrom(nil))
}

func TestGenerate_SanitizesIDs(t *testing.T) {
	b := dsl.New("ids")
	b.Add("path/to.start").Start().Go("hyphen-ated")
	b.Add("hyphen-ated").End()
	g, _, err := b.Publish()
	require.NoError(t, err)

	out := mermaid.Generate(g, nil)
	assert.Contains(t, out, `path_to_start(("path/to.start"))`)
	assert.Contains(t, out, "path_to_start --> hyphen_ated")
}
