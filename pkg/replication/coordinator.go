package replication

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

const (
	// DefaultBacklog is the number of frames kept per instance for late subscribers.
	DefaultBacklog = 128
	// DefaultBufferSize is the channel capacity of a subscription.
	DefaultBufferSize = 32
	// DefaultRetainEnded is how many ended instances stay resyncable.
	DefaultRetainEnded = 64
)

var (
	_ ports.FrameSink = (*Coordinator)(nil)
	_ Resyncer        = (*Coordinator)(nil)
)

// Coordinator is the authority-side hub. It receives every committed frame
// from the engine, keeps a mirror and a short backlog per instance and fans
// frames out to subscribers and downstream sinks in commit order.
type Coordinator struct {
	backlog     int
	bufferSize  int
	retainEnded int
	downstream  []ports.FrameSink
	logger      *slog.Logger

	mu         sync.RWMutex
	streams    map[string]*stream
	ended      map[string]*domain.Snapshot
	endedOrder []string
}

type stream struct {
	mirror  *Mirror
	backlog []domain.Frame
	subs    map[*Subscription]struct{}
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithBacklog sets how many frames are replayed to late subscribers.
func WithBacklog(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n >= 0 {
			c.backlog = n
		}
	}
}

// WithBufferSize sets the channel capacity of each subscription.
func WithBufferSize(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithRetainEnded sets how many ended instances keep answering Resync with
// their final state. Zero disables retention.
func WithRetainEnded(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n >= 0 {
			c.retainEnded = n
		}
	}
}

// WithDownstream forwards every frame to additional sinks, e.g. a Redis channel.
func WithDownstream(sinks ...ports.FrameSink) CoordinatorOption {
	return func(c *Coordinator) {
		c.downstream = append(c.downstream, sinks...)
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		backlog:     DefaultBacklog,
		bufferSize:  DefaultBufferSize,
		retainEnded: DefaultRetainEnded,
		logger:      logging.NewNop(),
		streams:     make(map[string]*stream),
		ended:       make(map[string]*domain.Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish records a frame and delivers it. Subscribers whose buffer is full
// miss the frame; they detect the gap and resync. The terminal frame is never
// missed: it replaces whatever a full buffer still holds, since it carries
// the final snapshot.
func (c *Coordinator) Publish(ctx context.Context, f domain.Frame) error {
	c.mu.Lock()
	s, ok := c.streams[f.InstanceID]
	if !ok {
		s = &stream{
			mirror: NewMirror(f.InstanceID, WithMirrorLogger(c.logger)),
			subs:   make(map[*Subscription]struct{}),
		}
		c.streams[f.InstanceID] = s
	}
	if err := s.mirror.Apply(ctx, f); err != nil {
		c.mu.Unlock()
		c.logger.Error("coordinator rejected frame", "instance_id", f.InstanceID, "seq", f.Seq, "error", err)
		return err
	}

	if c.backlog > 0 {
		s.backlog = append(s.backlog, f)
		if over := len(s.backlog) - c.backlog; over > 0 {
			s.backlog = slices.Delete(s.backlog, 0, over)
		}
	}
	terminal := f.Terminal()
	for sub := range s.subs {
		if terminal {
			c.deliverFinal(sub, f)
			continue
		}
		select {
		case sub.ch <- f:
		default:
			c.logger.Warn("subscriber buffer full, dropping frame", "instance_id", f.InstanceID, "seq", f.Seq)
		}
	}
	if terminal {
		for sub := range s.subs {
			sub.closeLocked()
		}
		delete(c.streams, f.InstanceID)
		c.retainLocked(s.mirror.State())
	}
	c.mu.Unlock()

	for _, sink := range c.downstream {
		if err := sink.Publish(ctx, f); err != nil {
			c.logger.Warn("downstream publish failed", "instance_id", f.InstanceID, "seq", f.Seq, "error", err)
		}
	}
	return nil
}

// deliverFinal queues the terminal frame, discarding stale buffered frames
// when there is no room. Only Publish sends on the channel and c.mu is held,
// so once drained the send cannot block.
func (c *Coordinator) deliverFinal(sub *Subscription, f domain.Frame) {
	select {
	case sub.ch <- f:
		return
	default:
	}
	dropped := 0
	for drained := false; !drained; {
		select {
		case <-sub.ch:
			dropped++
		default:
			drained = true
		}
	}
	c.logger.Warn("subscriber buffer full, replacing queued frames with the terminal frame",
		"instance_id", f.InstanceID, "seq", f.Seq, "dropped", dropped)
	sub.ch <- f
}

func (c *Coordinator) retainLocked(final *domain.Snapshot) {
	if c.retainEnded == 0 || final == nil {
		return
	}
	if _, ok := c.ended[final.InstanceID]; !ok {
		c.endedOrder = append(c.endedOrder, final.InstanceID)
	}
	c.ended[final.InstanceID] = final
	for len(c.endedOrder) > c.retainEnded {
		delete(c.ended, c.endedOrder[0])
		c.endedOrder = c.endedOrder[1:]
	}
}

// Subscribe streams the frames of an instance after since. When the backlog
// no longer covers since, the subscription starts with a snapshot frame.
// The channel is closed when the instance ends or the subscription is closed.
func (c *Coordinator) Subscribe(instanceID string, since uint64) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[instanceID]
	if !ok {
		return nil, fmt.Errorf("subscribe %s: %w", instanceID, domain.ErrInstanceNotFound)
	}

	var replay []domain.Frame
	if since > 0 && len(s.backlog) > 0 && s.backlog[0].Seq <= since+1 {
		for _, f := range s.backlog {
			if f.Seq > since {
				replay = append(replay, f)
			}
		}
	} else if state := s.mirror.State(); state != nil && state.Seq > since {
		replay = append(replay, domain.Frame{
			InstanceID: instanceID,
			Seq:        state.Seq,
			Timestamp:  state.UpdatedAt,
			Snapshot:   state,
		})
	}

	sub := &Subscription{
		c:          c,
		instanceID: instanceID,
		ch:         make(chan domain.Frame, c.bufferSize+len(replay)),
	}
	for _, f := range replay {
		sub.ch <- f
	}
	s.subs[sub] = struct{}{}
	return sub, nil
}

// Resync returns the latest state of an instance as seen by the coordinator.
// Recently ended instances answer with their final state.
func (c *Coordinator) Resync(_ context.Context, instanceID string) (*domain.Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.streams[instanceID]
	if !ok {
		if final, ok := c.ended[instanceID]; ok {
			return final.Clone(), nil
		}
		return nil, fmt.Errorf("resync %s: %w", instanceID, domain.ErrInstanceNotFound)
	}
	state := s.mirror.State()
	if state == nil {
		return nil, fmt.Errorf("resync %s: no state yet: %w", instanceID, domain.ErrInstanceNotFound)
	}
	return state, nil
}

// Instances lists the instances the coordinator currently tracks.
func (c *Coordinator) Instances() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Close ends every subscription.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.streams {
		for sub := range s.subs {
			sub.closeLocked()
		}
		delete(c.streams, id)
	}
	clear(c.ended)
	c.endedOrder = nil
}

// Subscription is a stream of frames for one instance.
type Subscription struct {
	c          *Coordinator
	instanceID string
	ch         chan domain.Frame
	closed     bool
}

// C returns the frame channel.
func (s *Subscription) C() <-chan domain.Frame { return s.ch }

// Close stops the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	if st, ok := s.c.streams[s.instanceID]; ok {
		delete(st.subs, s)
	}
}

// Follow feeds the frames of sub into m until the subscription ends or ctx
// is done. Gaps are resolved through the mirror's resyncer.
func Follow(ctx context.Context, sub *Subscription, m *Mirror) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := m.Receive(ctx, f); err != nil {
				return err
			}
		}
	}
}
