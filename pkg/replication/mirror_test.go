package replication

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/pkg/domain"
)

func ptr[T any](v T) *T { return &v }

func baseFrame() domain.Frame {
	snap := domain.NewSnapshot("i1", "g", "v1")
	snap.Status = domain.StatusRunning
	snap.CurrentNodeID = "a"
	snap.Visits["a"] = 1
	snap.Seq = 1
	return domain.Frame{
		InstanceID: "i1",
		Seq:        1,
		Snapshot:   snap,
		Events:     []domain.Event{{Type: domain.EventNodeEntered, InstanceID: "i1", NodeID: "a", Seq: 1}},
	}
}

func moveFrame(seq uint64, from, to string) domain.Frame {
	return domain.Frame{
		InstanceID: "i1",
		Seq:        seq,
		Diff: &domain.InstanceDiff{
			InstanceID:    "i1",
			CurrentNodeID: ptr(to),
			History:       &domain.HistoryDelta{Appended: []string{from}},
			Visits:        map[string]int{to: 1},
		},
		Events: []domain.Event{{Type: domain.EventNodeEntered, InstanceID: "i1", NodeID: to, Seq: seq}},
	}
}

func TestMirror_AppliesInOrderAndIgnoresDuplicates(t *testing.T) {
	var entered []string
	m := NewMirror("i1", WithHandler(func(_ context.Context, ev domain.Event) {
		entered = append(entered, ev.NodeID)
	}))
	ctx := context.Background()

	assert.Nil(t, m.State())
	require.NoError(t, m.Apply(ctx, baseFrame()))
	require.NoError(t, m.Apply(ctx, moveFrame(2, "a", "b")))
	require.NoError(t, m.Apply(ctx, moveFrame(2, "a", "b")))
	require.NoError(t, m.Apply(ctx, baseFrame()))

	state := m.State()
	assert.Equal(t, uint64(2), m.Seq())
	assert.Equal(t, "b", state.CurrentNodeID)
	assert.Equal(t, []string{"a"}, state.History)
	assert.Equal(t, []string{"a", "b"}, entered, "handlers run once per applied frame")
}

func TestMirror_GapIsDesync(t *testing.T) {
	m := NewMirror("i1")
	ctx := context.Background()

	err := m.Apply(ctx, moveFrame(1, "a", "b"))
	assert.ErrorIs(t, err, domain.ErrNetworkDesync, "a diff without a base snapshot cannot be applied")

	require.NoError(t, m.Apply(ctx, baseFrame()))
	err = m.Apply(ctx, moveFrame(3, "b", "c"))
	assert.ErrorIs(t, err, domain.ErrNetworkDesync)
	assert.Equal(t, uint64(1), m.Seq())
	assert.Equal(t, "a", m.State().CurrentNodeID, "a rejected frame leaves the mirror untouched")

	err = m.Apply(ctx, domain.Frame{InstanceID: "other", Seq: 2})
	assert.Error(t, err)
}

func TestMirror_ReceiveResyncs(t *testing.T) {
	authority := domain.NewSnapshot("i1", "g", "v1")
	authority.CurrentNodeID = "c"
	authority.History = []string{"a", "b"}
	authority.Seq = 3

	calls := 0
	m := NewMirror("i1", WithResyncer(ResyncerFunc(func(_ context.Context, id string) (*domain.Snapshot, error) {
		calls++
		assert.Equal(t, "i1", id)
		return authority, nil
	})))
	ctx := context.Background()

	require.NoError(t, m.Receive(ctx, baseFrame()))
	require.NoError(t, m.Receive(ctx, moveFrame(3, "b", "c")))
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(3), m.Seq())
	assert.Equal(t, []string{"a", "b"}, m.State().History)

	require.NoError(t, m.Receive(ctx, moveFrame(4, "c", "d")))
	assert.Equal(t, "d", m.State().CurrentNodeID)
}

func TestMirror_ReceiveWithoutResyncerFails(t *testing.T) {
	m := NewMirror("i1")
	ctx := context.Background()
	require.NoError(t, m.Receive(ctx, baseFrame()))

	err := m.Receive(ctx, moveFrame(5, "a", "b"))
	assert.ErrorIs(t, err, domain.ErrNetworkDesync)

	failing := NewMirror("i1", WithResyncer(ResyncerFunc(func(context.Context, string) (*domain.Snapshot, error) {
		return nil, errors.New("authority unreachable")
	})))
	require.NoError(t, failing.Receive(ctx, baseFrame()))
	err = failing.Receive(ctx, moveFrame(5, "a", "b"))
	assert.ErrorIs(t, err, domain.ErrNetworkDesync)
	assert.ErrorContains(t, err, "authority unreachable")
}

func TestMirror_ResetNeverMovesBackwards(t *testing.T) {
	m := NewMirror("i1")
	require.NoError(t, m.Apply(context.Background(), baseFrame()))
	require.NoError(t, m.Apply(context.Background(), moveFrame(2, "a", "b")))

	old := domain.NewSnapshot("i1", "g", "v1")
	old.CurrentNodeID = "a"
	old.Seq = 1
	m.Reset(old)
	assert.Equal(t, "b", m.State().CurrentNodeID)
}
