package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

var _ ports.Checkpointer = (*Manager)(nil)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates snapshot access, ensuring safe concurrent operations.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.SnapshotStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker       ports.DistributedLocker // Optional distributed locker
	lockTTL      time.Duration
	keepTerminal bool
	logger       *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the distributed lock expiry.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithKeepTerminal keeps the final snapshot of completed and aborted instances.
func WithKeepTerminal() Option {
	return func(m *Manager) {
		m.keepTerminal = true
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a new Manager over the given store.
func NewManager(store ports.SnapshotStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(instanceID) after unlocking.
func (m *Manager) acquire(instanceID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[instanceID]
	if !exists {
		entry = &lockEntry{}
		m.locks[instanceID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[instanceID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, instanceID)
	}
}

// Checkpoint persists a committed snapshot. A snapshot older than the stored
// one is ignored. Terminal snapshots delete the stored entry.
func (m *Manager) Checkpoint(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil || snap.InstanceID == "" {
		return errors.New("checkpoint: snapshot without instance id")
	}
	id := snap.InstanceID
	return m.WithLock(ctx, id, func(ctx context.Context) error {
		if snap.Status.Terminal() && !m.keepTerminal {
			if err := m.store.Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to delete finished instance: %w", err)
			}
			return nil
		}

		stored, err := m.store.Load(ctx, id)
		switch {
		case err == nil && stored.Seq > snap.Seq:
			m.logger.Debug("skipping stale checkpoint", "instance_id", id, "seq", snap.Seq, "stored_seq", stored.Seq)
			return nil
		case err != nil && !errors.Is(err, domain.ErrSnapshotNotFound):
			return fmt.Errorf("failed to check stored snapshot: %w", err)
		}
		return m.store.Save(ctx, id, snap)
	})
}

// Load retrieves a stored snapshot.
func (m *Manager) Load(ctx context.Context, instanceID string) (*domain.Snapshot, error) {
	var snap *domain.Snapshot
	err := m.WithLock(ctx, instanceID, func(ctx context.Context) error {
		var err error
		snap, err = m.store.Load(ctx, instanceID)
		return err
	})
	return snap, err
}

// Delete removes a stored snapshot.
func (m *Manager) Delete(ctx context.Context, instanceID string) error {
	return m.WithLock(ctx, instanceID, func(ctx context.Context) error {
		return m.store.Delete(ctx, instanceID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying snapshot store.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}

// WithLock executes a function while holding the lock for the instance.
func (m *Manager) WithLock(ctx context.Context, instanceID string, fn func(context.Context) error) error {
	entry := m.acquire(instanceID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(instanceID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, instanceID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"instance_id", instanceID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
