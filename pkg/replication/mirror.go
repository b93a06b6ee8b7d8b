// Package replication keeps observers of a dialogue instance in step with the
// authoritative engine.
//
// The authority emits one domain.Frame per committed operation. Observers
// hold a Mirror that applies frames strictly in sequence; on a gap the mirror
// asks a Resyncer for the full state instead of re-deriving anything locally.
package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
)

// Resyncer returns the authoritative state of an instance.
type Resyncer interface {
	Resync(ctx context.Context, instanceID string) (*domain.Snapshot, error)
}

// ResyncerFunc adapts a function to Resyncer.
type ResyncerFunc func(ctx context.Context, instanceID string) (*domain.Snapshot, error)

func (f ResyncerFunc) Resync(ctx context.Context, instanceID string) (*domain.Snapshot, error) {
	return f(ctx, instanceID)
}

// Handler reacts locally to a replicated event, e.g. to play a voice line.
// Handlers never feed anything back into the traversal.
type Handler func(ctx context.Context, ev domain.Event)

// Mirror is an observer's read-only copy of one instance.
type Mirror struct {
	id       string
	resyncer Resyncer
	handlers []Handler
	logger   *slog.Logger

	mu      sync.RWMutex
	state   *domain.Snapshot
	applied uint64
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

// WithResyncer sets where the mirror fetches full state after a gap.
func WithResyncer(r Resyncer) MirrorOption {
	return func(m *Mirror) {
		m.resyncer = r
	}
}

// WithHandler adds a local event handler.
func WithHandler(h Handler) MirrorOption {
	return func(m *Mirror) {
		m.handlers = append(m.handlers, h)
	}
}

// WithMirrorLogger sets the mirror logger.
func WithMirrorLogger(logger *slog.Logger) MirrorOption {
	return func(m *Mirror) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMirror creates an empty mirror of instanceID. It holds no state until
// a frame carrying a snapshot is applied.
func NewMirror(instanceID string, opts ...MirrorOption) *Mirror {
	m := &Mirror{id: instanceID, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InstanceID returns the id of the mirrored instance.
func (m *Mirror) InstanceID() string { return m.id }

// Seq returns the sequence number of the last applied frame.
func (m *Mirror) Seq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applied
}

// State returns a copy of the mirrored state, or nil before the first snapshot.
func (m *Mirror) State() *domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Apply applies one frame. Frames already applied are ignored, so delivery
// may repeat. A frame that skips ahead fails with domain.ErrNetworkDesync and
// leaves the mirror untouched.
func (m *Mirror) Apply(ctx context.Context, f domain.Frame) error {
	if f.InstanceID != m.id {
		return fmt.Errorf("mirror %s: frame for instance %s", m.id, f.InstanceID)
	}

	m.mu.Lock()
	switch {
	case f.Seq <= m.applied:
		m.mu.Unlock()
		return nil
	case f.Snapshot != nil:
		m.state = f.Snapshot.Clone()
		m.state.Seq = f.Seq
	case m.state == nil || f.Seq != m.applied+1:
		expected := m.applied + 1
		m.mu.Unlock()
		return fmt.Errorf("mirror %s: expected seq %d, got %d: %w", m.id, expected, f.Seq, domain.ErrNetworkDesync)
	default:
		m.state.Apply(f.Diff)
		m.state.Seq = f.Seq
		m.state.UpdatedAt = f.Timestamp
	}
	m.applied = f.Seq
	m.mu.Unlock()

	for _, ev := range f.Events {
		for _, h := range m.handlers {
			h(ctx, ev)
		}
	}
	return nil
}

// Receive applies a frame and recovers from a gap through the resyncer.
func (m *Mirror) Receive(ctx context.Context, f domain.Frame) error {
	err := m.Apply(ctx, f)
	if err == nil || !errors.Is(err, domain.ErrNetworkDesync) || m.resyncer == nil {
		return err
	}

	m.logger.Warn("mirror out of sequence, resyncing", "instance_id", m.id, "error", err)
	snap, rerr := m.resyncer.Resync(ctx, m.id)
	if rerr != nil {
		return fmt.Errorf("mirror %s: resync: %w", m.id, errors.Join(err, rerr))
	}
	m.Reset(snap)
	return nil
}

// Reset replaces the mirrored state with snap unless the mirror is already ahead of it.
func (m *Mirror) Reset(snap *domain.Snapshot) {
	if snap == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Seq < m.applied {
		return
	}
	m.state = snap.Clone()
	m.applied = snap.Seq
}
