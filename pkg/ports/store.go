package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// SnapshotStore defines the interface for persisting instance snapshots.
// This allows dialogue instances to be saved and resumed across sessions.
type SnapshotStore interface {
	// Save persists the snapshot under the given instance id.
	Save(ctx context.Context, instanceID string, snap *domain.Snapshot) error

	// Load retrieves the snapshot for an instance id.
	// Returns domain.ErrSnapshotNotFound if it does not exist.
	Load(ctx context.Context, instanceID string) (*domain.Snapshot, error)

	// Delete removes the snapshot for an instance id.
	Delete(ctx context.Context, instanceID string) error

	// List returns the ids of all stored snapshots.
	List(ctx context.Context) ([]string, error)
}

// Checkpointer persists the state behind each committed frame.
type Checkpointer interface {
	Checkpoint(ctx context.Context, snap *domain.Snapshot) error
}

// FrameSink receives committed frames, in commit order per instance.
type FrameSink interface {
	Publish(ctx context.Context, frame domain.Frame) error
}

// FrameSinkFunc adapts a function to FrameSink.
type FrameSinkFunc func(ctx context.Context, frame domain.Frame) error

func (f FrameSinkFunc) Publish(ctx context.Context, frame domain.Frame) error {
	return f(ctx, frame)
}
