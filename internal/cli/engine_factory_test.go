package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/dsl"
	"github.com/aretw0/parley/pkg/graph"
)

func tiny(t *testing.T, id string) graph.Draft {
	t.Helper()
	b := dsl.New(id)
	b.Add("s").Start().Go("a")
	b.Add("a").Line("guide", id+".a").Go("e")
	b.Add("e").End()
	return b.Build()
}

func catalogOf(t *testing.T, ids ...string) *graph.Catalog {
	t.Helper()
	c := graph.NewCatalog()
	for _, id := range ids {
		_, _, err := c.Publish(tiny(t, id))
		require.NoError(t, err)
	}
	return c
}

func TestDetermineGraph(t *testing.T) {
	t.Run("Requested graph wins", func(t *testing.T) {
		g, err := determineGraph(catalogOf(t, "start", "side"), "side", "dialogues")
		require.NoError(t, err)
		assert.Equal(t, "side", g.ID())
	})

	t.Run("Single graph", func(t *testing.T) {
		g, err := determineGraph(catalogOf(t, "quest"), "", "dialogues")
		require.NoError(t, err)
		assert.Equal(t, "quest", g.ID())
	})

	t.Run("Fallback to main", func(t *testing.T) {
		g, err := determineGraph(catalogOf(t, "main", "index"), "", "dialogues")
		require.NoError(t, err)
		assert.Equal(t, "main", g.ID())
	})

	t.Run("Fallback to source name", func(t *testing.T) {
		g, err := determineGraph(catalogOf(t, "checkout", "other"), "", "flows/checkout.yaml")
		require.NoError(t, err)
		assert.Equal(t, "checkout", g.ID())
	})

	t.Run("Ambiguous", func(t *testing.T) {
		_, err := determineGraph(catalogOf(t, "a", "b"), "", "dialogues")
		assert.ErrorContains(t, err, "pick one with --graph: a, b")
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := determineGraph(catalogOf(t), "", "dialogues")
		assert.Error(t, err)
	})

	t.Run("Unknown requested graph", func(t *testing.T) {
		_, err := determineGraph(catalogOf(t, "a"), "missing", "dialogues")
		assert.ErrorIs(t, err, domain.ErrGraphNotFound)
	})
}

func TestCastFor(t *testing.T) {
	b := dsl.New("duel")
	b.Add("s").Start().Go("a")
	b.Add("a").Line("rival", "duel.a").Go("b")
	b.Add("b").Line("player", "duel.b").Go("c")
	b.Add("c").Line("rival", "duel.c").Go("d")
	b.Add("d").Line("judge", "duel.d").Go("e")
	b.Add("e").End()
	g, _, err := b.Publish()
	require.NoError(t, err)

	assert.Equal(t, []domain.ParticipantRecord{
		{Role: domain.RoleInitiator, ActorID: "player", Authoritative: true},
		{Role: domain.RoleResponder, ActorID: "rival"},
		{Role: domain.RoleResponder, ActorID: "judge"},
	}, castFor(g, "player"))

	silent := dsl.New("silent")
	silent.Add("s").Start().Go("e")
	silent.Add("e").End()
	sg, _, err := silent.Publish()
	require.NoError(t, err)
	cast := castFor(sg, "player")
	require.Len(t, cast, 2)
	assert.Equal(t, fallbackResponder, cast[1].ActorID)
}

func TestPick(t *testing.T) {
	choices := []domain.Choice{{EdgeID: "q->yes", To: "yes"}, {EdgeID: "q->no", To: "no"}}

	got, ok := pick(choices, "2")
	assert.True(t, ok)
	assert.Equal(t, "q->no", got)

	_, ok = pick(choices, "3")
	assert.False(t, ok)
	_, ok = pick(choices, "0")
	assert.False(t, ok)

	got, ok = pick(choices, "yes")
	assert.True(t, ok)
	assert.Equal(t, "yes", got)

	_, ok = pick(choices, "")
	assert.False(t, ok)
}
