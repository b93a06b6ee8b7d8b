// Package tests holds reusable contract suites for ports implementations.
package tests

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore implementation
// adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store ports.SnapshotStore) {
	t.Helper()
	ctx := context.Background()
	instanceID := "contract-test-instance-" + time.Now().Format("20060102150405")

	newSnapshot := func(id string) *domain.Snapshot {
		s := domain.NewSnapshot(id, "graph", "v1")
		s.Status = domain.StatusPaused
		s.CurrentNodeID = "b"
		s.History = []string{"a"}
		s.Visits["a"] = 1
		s.Visits["b"] = 1
		s.Vars["mood"] = "calm"
		s.Vars["gold"] = 42
		s.DecoratorState["d1"] = []byte("blob")
		s.Pause = &domain.PauseInfo{
			Reason:      domain.ReasonDecoratorError,
			DecoratorID: "d2",
			Pending:     &domain.PendingEntry{NodeID: "b", Index: 1},
		}
		s.Seq = 3
		return s
	}

	t.Run("Save and Load", func(t *testing.T) {
		snap := newSnapshot(instanceID)

		err := store.Save(ctx, instanceID, snap)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, instanceID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, snap.CurrentNodeID, loaded.CurrentNodeID)
		assert.Equal(t, snap.Status, loaded.Status)
		assert.Equal(t, snap.History, loaded.History)
		assert.Equal(t, snap.Visits, loaded.Visits)
		assert.Equal(t, snap.DecoratorState, loaded.DecoratorState)
		assert.Equal(t, snap.Pause, loaded.Pause)
		assert.Equal(t, snap.Seq, loaded.Seq)
		assert.Equal(t, "calm", loaded.Vars["mood"])
		// JSON persistence turns integers into float64; only existence is portable.
		assert.NotNil(t, loaded.Vars["gold"])
	})

	t.Run("Load Returns Independent Copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, instanceID)
		require.NoError(t, err)
		loaded.History = append(loaded.History, "mutated")
		loaded.Vars["mood"] = "angry"

		again, err := store.Load(ctx, instanceID)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, again.History)
		assert.Equal(t, "calm", again.Vars["mood"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+instanceID)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, instanceID, newSnapshot(instanceID))
		require.NoError(t, err)

		err = store.Delete(ctx, instanceID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, instanceID)
		assert.ErrorIs(t, err, domain.ErrSnapshotNotFound, "Load after Delete should return ErrSnapshotNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := instanceID + "-1"
		id2 := instanceID + "-2"
		require.NoError(t, store.Save(ctx, id1, newSnapshot(id1)))
		require.NoError(t, store.Save(ctx, id2, newSnapshot(id2)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
