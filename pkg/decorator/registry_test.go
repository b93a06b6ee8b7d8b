package decorator

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysAllow(context.Context, View, Target, map[string]any) (Verdict, error) {
	return Allow, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("always", Behavior{Kind: domain.KindCondition, Evaluate: alwaysAllow}))

	b, ok := r.Lookup("always")
	require.True(t, ok)
	assert.Equal(t, domain.KindCondition, b.Kind)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"always"}, r.Types())
}

func TestRegistry_RegisterRejectsIncompleteBehavior(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("", Behavior{Kind: domain.KindCondition, Evaluate: alwaysAllow}))
	assert.Error(t, r.Register("c", Behavior{Kind: domain.KindCondition}))
	assert.Error(t, r.Register("m", Behavior{Kind: domain.KindModifier}))
	assert.Error(t, r.Register("x", Behavior{Kind: "weird", Evaluate: alwaysAllow}))
}

func TestRegistry_Freeze(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	assert.True(t, r.Frozen())

	err := r.Register("late", Behavior{Kind: domain.KindCondition, Evaluate: alwaysAllow})
	assert.ErrorIs(t, err, domain.ErrRegistryFrozen)
}

func TestRegistry_Resolve(t *testing.T) {
	r := Builtin()

	kind, err := r.Resolve(domain.Decorator{ID: "d1", Type: TypeSetVar, Config: map[string]any{"key": "k", "value": 1}})
	require.NoError(t, err)
	assert.Equal(t, domain.KindModifier, kind)

	_, err = r.Resolve(domain.Decorator{ID: "d2", Type: "nope"})
	assert.ErrorContains(t, err, "decorator type not found")

	_, err = r.Resolve(domain.Decorator{ID: "d3", Type: TypeSetVar, Kind: domain.KindCondition, Config: map[string]any{"key": "k"}})
	assert.ErrorContains(t, err, "declares kind")

	_, err = r.Resolve(domain.Decorator{ID: "d4", Type: TypeSetVar})
	assert.ErrorContains(t, err, "key is required")

	_, err = r.Resolve(domain.Decorator{ID: "d5", Type: TypeSetVar, Config: map[string]any{"key": "k", "typo": true}})
	assert.ErrorContains(t, err, "invalid decorator config")
}

func TestRegistry_EvaluateAndExecuteDispatch(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.MustRegister("fails", Behavior{
		Kind: domain.KindModifier,
		Execute: func(context.Context, Scope, Target, map[string]any) error {
			return boom
		},
	})
	r.MustRegister("always", Behavior{Kind: domain.KindCondition, Evaluate: alwaysAllow})

	scope := newFakeScope("inst")

	v, err := r.Evaluate(context.Background(), scope, Target{Decorator: domain.Decorator{ID: "a", Type: "always"}})
	require.NoError(t, err)
	assert.Equal(t, Allow, v)

	_, err = r.Evaluate(context.Background(), scope, Target{Decorator: domain.Decorator{ID: "f", Type: "fails"}})
	assert.ErrorContains(t, err, "not a condition")

	err = r.Execute(context.Background(), scope, Target{Decorator: domain.Decorator{ID: "f", Type: "fails"}})
	assert.ErrorIs(t, err, boom)

	err = r.Execute(context.Background(), scope, Target{Decorator: domain.Decorator{ID: "a", Type: "always"}})
	assert.ErrorContains(t, err, "cannot be executed")
}
