package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewStore())
	ctx := context.Background()
	count := 2000

	for i := 0; i < count; i++ {
		id := fmt.Sprintf("instance-%d", i)
		snap := domain.NewSnapshot(id, "g", "v1")
		snap.Status = domain.StatusRunning
		_ = mgr.Checkpoint(ctx, snap)
		_ = mgr.Delete(ctx, id)
	}

	if n := len(mgr.locks); n != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after Delete", n)
	}
}
