// Package runtime implements the dialogue traversal engine: the state machine
// that walks a published graph for each running instance.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/decorator"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/participant"
	"github.com/aretw0/parley/pkg/ports"
)

const (
	// DefaultHistoryCap bounds the history kept per instance.
	DefaultHistoryCap = 256
	// DefaultStepLimit aborts instances that take more steps than this.
	DefaultStepLimit = 10000
	// DefaultQueueSize is the number of requests buffered per instance.
	DefaultQueueSize = 64

	tracerName = "github.com/aretw0/parley/internal/runtime"
)

// ErrEngineClosed is returned for requests made after Close.
var ErrEngineClosed = errors.New("engine closed")

// Engine runs dialogue instances. Each instance is driven by its own worker
// goroutine that processes requests one at a time, in arrival order.
type Engine struct {
	registry     *decorator.Registry
	logger       *slog.Logger
	hooks        domain.LifecycleHooks
	sink         ports.FrameSink
	checkpointer ports.Checkpointer
	tracer       trace.Tracer
	historyCap   int
	stepLimit    int
	queueSize    int
	now          func() time.Time
	newID        func() string

	mu        sync.RWMutex
	instances map[string]*instance
	closed    bool
	wg        sync.WaitGroup
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithRegistry sets the decorator registry. Defaults to the built-in decorators.
func WithRegistry(r *decorator.Registry) EngineOption {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithFrameSink sets where committed frames are published.
func WithFrameSink(sink ports.FrameSink) EngineOption {
	return func(e *Engine) {
		e.sink = sink
	}
}

// WithCheckpointer persists the instance state behind every frame.
func WithCheckpointer(c ports.Checkpointer) EngineOption {
	return func(e *Engine) {
		e.checkpointer = c
	}
}

// WithTracerProvider sets the OpenTelemetry provider. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithHistoryCap bounds the history kept per instance. Zero keeps everything.
func WithHistoryCap(n int) EngineOption {
	return func(e *Engine) {
		e.historyCap = n
	}
}

// WithStepLimit sets the maximum number of steps per instance. Zero disables it.
func WithStepLimit(n int) EngineOption {
	return func(e *Engine) {
		e.stepLimit = n
	}
}

// WithQueueSize sets how many requests may wait per instance.
func WithQueueSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator overrides how instance ids are generated.
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *Engine) {
		e.newID = fn
	}
}

// NewEngine creates a new engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger:     logging.NewNop(),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
		historyCap: DefaultHistoryCap,
		stepLimit:  DefaultStepLimit,
		queueSize:  DefaultQueueSize,
		now:        time.Now,
		newID:      uuid.NewString,
		instances:  make(map[string]*instance),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = decorator.Builtin()
	}
	// Registration is a start-up concern; running instances see a fixed set.
	e.registry.Freeze()
	return e
}

// StartOptions tune a single instance.
type StartOptions struct {
	EntryNodeID string
	Vars        map[string]any
}

// Start creates an instance against g and enters its start node.
// When entering fails recoverably the instance exists in Paused state and
// both the snapshot and the error are returned.
func (e *Engine) Start(ctx context.Context, g *graph.Graph, parts []domain.Participant, opts StartOptions) (*domain.Snapshot, error) {
	if g == nil {
		return nil, fmt.Errorf("start: nil graph: %w", domain.ErrInvalidGraph)
	}
	registry, err := participant.NewRegistry(parts)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", g.ID(), err)
	}

	entry := opts.EntryNodeID
	if entry == "" {
		entry = g.StartNodeID()
	}
	if _, ok := g.Node(entry); !ok {
		return nil, fmt.Errorf("start %s: entry node %q not found: %w", g.ID(), entry, domain.ErrInvalidGraph)
	}

	id := e.newID()
	state := domain.NewSnapshot(id, g.ID(), g.Version())
	for k, v := range opts.Vars {
		state.Vars[k] = v
	}
	state.Participants = registry.Records()
	state.CurrentNodeID = entry

	in, err := e.spawn(g, registry, state)
	if err != nil {
		return nil, err
	}
	return in.submit(ctx, "start", func(ctx context.Context) error {
		return e.start(ctx, in, entry)
	})
}

// Restore recreates a live instance from a persisted snapshot.
// The graph must be the exact version the snapshot was taken against.
func (e *Engine) Restore(ctx context.Context, g *graph.Graph, parts []domain.Participant, snap *domain.Snapshot) (*domain.Snapshot, error) {
	if snap == nil {
		return nil, fmt.Errorf("restore: nil snapshot")
	}
	if g == nil || g.ID() != snap.GraphID || g.Version() != snap.GraphVersion {
		return nil, fmt.Errorf("restore %s: graph %s@%s not available: %w", snap.InstanceID, snap.GraphID, snap.GraphVersion, domain.ErrGraphNotFound)
	}
	if snap.Status.Terminal() {
		return nil, fmt.Errorf("restore %s: %w", snap.InstanceID, domain.ErrInstanceEnded)
	}
	if _, ok := g.Node(snap.CurrentNodeID); !ok {
		return nil, fmt.Errorf("restore %s: node %q not in graph: %w", snap.InstanceID, snap.CurrentNodeID, domain.ErrInvalidGraph)
	}
	registry, err := participant.NewRegistry(parts)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", snap.InstanceID, err)
	}

	state := snap.Clone()
	state.Participants = registry.Records()
	if state.Status == domain.StatusIdle {
		return nil, fmt.Errorf("restore %s: instance never started", snap.InstanceID)
	}

	in, err := e.spawn(g, registry, state)
	if err != nil {
		return nil, err
	}
	// The first frame of a restored instance carries the full state.
	return in.submit(ctx, "restore", func(context.Context) error { return nil })
}

// Resync makes the next frame of an instance carry its full state, for
// observers that fell behind.
func (e *Engine) Resync(ctx context.Context, instanceID string) (*domain.Snapshot, error) {
	return e.dispatch(ctx, instanceID, "resync", func(_ context.Context, in *instance) error {
		in.resync()
		return nil
	})
}

// Advance performs one step. A non-empty choice selects the eligible
// edge whose id or target matches it.
func (e *Engine) Advance(ctx context.Context, instanceID, choice string) (*domain.Snapshot, error) {
	return e.dispatch(ctx, instanceID, "advance", func(ctx context.Context, in *instance) error {
		return e.advance(ctx, in, choice)
	})
}

// Resume moves a paused instance back to Running at the same node.
func (e *Engine) Resume(ctx context.Context, instanceID string) (*domain.Snapshot, error) {
	return e.dispatch(ctx, instanceID, "resume", e.resume)
}

// Pause moves a running instance to Paused on external request.
func (e *Engine) Pause(ctx context.Context, instanceID string) (*domain.Snapshot, error) {
	return e.dispatch(ctx, instanceID, "pause", e.pause)
}

// Abort cancels an instance. The request is honored at the next step
// boundary: requests queued ahead of it are rejected, never a step in flight.
func (e *Engine) Abort(ctx context.Context, instanceID, reason string) (*domain.Snapshot, error) {
	in, err := e.lookup(instanceID)
	if err != nil {
		return nil, err
	}
	in.requestAbort(reason)
	return in.submit(ctx, "abort", func(ctx context.Context) error {
		return e.honorAbort(ctx, in)
	})
}

// Snapshot returns the current state of an instance.
func (e *Engine) Snapshot(ctx context.Context, instanceID string) (*domain.Snapshot, error) {
	return e.dispatch(ctx, instanceID, "snapshot", func(context.Context, *instance) error { return nil })
}

// Active lists the ids of live instances.
func (e *Engine) Active() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.instances))
	for id := range e.instances {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every worker after its current request. Instances are not
// aborted; with a checkpointer configured they can be restored later.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, in := range e.instances {
		close(in.quit)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) lookup(id string) (*instance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	in, ok := e.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, domain.ErrInstanceNotFound)
	}
	return in, nil
}

func (e *Engine) dispatch(ctx context.Context, id, op string, fn func(context.Context, *instance) error) (*domain.Snapshot, error) {
	in, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return in.submit(ctx, op, func(ctx context.Context) error {
		if in.abortPending() {
			if err := e.honorAbort(ctx, in); err != nil {
				return err
			}
			return fmt.Errorf("instance %s: %w", in.id, domain.ErrInstanceEnded)
		}
		return fn(ctx, in)
	})
}

func (e *Engine) spawn(g *graph.Graph, registry *participant.Registry, state *domain.Snapshot) (*instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if _, exists := e.instances[state.InstanceID]; exists {
		return nil, fmt.Errorf("instance %s is already running", state.InstanceID)
	}

	in := newInstance(e, g, registry, state)
	e.instances[in.id] = in
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		in.run()
		e.mu.Lock()
		delete(e.instances, in.id)
		e.mu.Unlock()
	}()
	return in, nil
}
