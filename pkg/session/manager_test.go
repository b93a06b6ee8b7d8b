package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/dsl"
	"github.com/aretw0/parley/pkg/participant"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
)

// slowStore simulates latency and counts overlapping writes.
type slowStore struct {
	*memory.Store
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (s *slowStore) Save(ctx context.Context, id string, snap *domain.Snapshot) error {
	if s.inFlight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inFlight.Add(-1)
	time.Sleep(2 * time.Millisecond)
	return s.Store.Save(ctx, id, snap)
}

func running(id string, seq uint64) *domain.Snapshot {
	snap := domain.NewSnapshot(id, "g", "v1")
	snap.Status = domain.StatusRunning
	snap.Seq = seq
	return snap
}

func TestManager_SerializesWrites(t *testing.T) {
	store := &slowStore{Store: memory.NewStore()}
	manager := session.NewManager(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			assert.NoError(t, manager.Checkpoint(ctx, running("race", seq)))
		}(uint64(i))
	}
	wg.Wait()

	assert.False(t, store.overlap.Load(), "writes for one instance must not overlap")
	snap, err := manager.Load(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), snap.Seq, "the newest snapshot wins regardless of arrival order")
}

func TestManager_IgnoresStaleSnapshots(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	require.NoError(t, manager.Checkpoint(ctx, running("i1", 5)))
	require.NoError(t, manager.Checkpoint(ctx, running("i1", 3)))

	snap, err := manager.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), snap.Seq)
}

func TestManager_TerminalSnapshots(t *testing.T) {
	ctx := context.Background()
	done := running("i1", 4)
	done.Status = domain.StatusCompleted

	manager := session.NewManager(memory.NewStore())
	require.NoError(t, manager.Checkpoint(ctx, running("i1", 3)))
	require.NoError(t, manager.Checkpoint(ctx, done))
	_, err := manager.Load(ctx, "i1")
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound)

	keeping := session.NewManager(memory.NewStore(), session.WithKeepTerminal())
	require.NoError(t, keeping.Checkpoint(ctx, done))
	snap, err := keeping.Load(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, snap.Status)
}

func TestManager_RejectsAnonymousSnapshot(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	assert.Error(t, manager.Checkpoint(context.Background(), &domain.Snapshot{}))
	assert.Error(t, manager.Checkpoint(context.Background(), nil))
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string, time.Duration) (ports.UnlockFunc, error) {
	return nil, errors.New("cluster unavailable")
}

func TestManager_DistributedLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	manager := session.NewManager(redis.NewFromClient(client),
		session.WithLocker(redis.NewLocker(client, "parley:")),
		session.WithLockTTL(5*time.Second),
	)

	require.NoError(t, manager.Checkpoint(ctx, running("i1", 1)))
	assert.False(t, mr.Exists("parley:lock:i1"), "the lock is released after the write")

	err := manager.WithLock(ctx, "i1", func(context.Context) error {
		assert.True(t, mr.Exists("parley:lock:i1"))
		return nil
	})
	require.NoError(t, err)

	broken := session.NewManager(memory.NewStore(), session.WithLocker(failingLocker{}))
	err = broken.Checkpoint(ctx, running("i1", 1))
	assert.ErrorContains(t, err, "failed to acquire distributed lock")
}

func TestManager_CheckpointsEngineCommits(t *testing.T) {
	b := dsl.New("walk")
	b.Add("s").Start().Go("a")
	b.Add("a").Line("guide", "walk.a").Go("e")
	b.Add("e").End()
	g, _, err := b.Publish()
	require.NoError(t, err)

	manager := session.NewManager(memory.NewStore())
	engine := runtime.NewEngine(runtime.WithCheckpointer(manager))
	t.Cleanup(func() { _ = engine.Close(context.Background()) })
	ctx := context.Background()

	parts := []domain.Participant{
		{Role: domain.RoleInitiator, Actor: participant.NewHandle("hero"), Authoritative: true},
		{Role: domain.RoleResponder, Actor: participant.NewHandle("guide")},
	}
	snap, err := engine.Start(ctx, g, parts, runtime.StartOptions{})
	require.NoError(t, err)

	stored, err := manager.Load(ctx, snap.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, snap.Seq, stored.Seq)
	assert.Equal(t, "s", stored.CurrentNodeID)

	_, err = engine.Advance(ctx, snap.InstanceID, "")
	require.NoError(t, err)
	stored, err = manager.Load(ctx, snap.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "a", stored.CurrentNodeID)

	_, err = engine.Advance(ctx, snap.InstanceID, "")
	require.NoError(t, err)
	_, err = manager.Load(ctx, snap.InstanceID)
	assert.ErrorIs(t, err, domain.ErrSnapshotNotFound, "finished instances are removed")
}
