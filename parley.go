package parley

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/decorator"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/participant"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/replication"
	"github.com/aretw0/parley/pkg/session"
)

var _ ports.DialogueEngine = (*Engine)(nil)

// Engine is the high-level entry point for the Parley library.
// It publishes the graphs of a loader into a catalog, runs instances on the
// traversal engine and replicates every committed frame through a coordinator.
type Engine struct {
	runtime     *runtime.Engine
	catalog     *graph.Catalog
	coordinator *replication.Coordinator
	directory   *participant.Directory
	loader      ports.GraphLoader
	sessions    *session.Manager
	registry    *decorator.Registry
	hooks       domain.LifecycleHooks
	sinks       []ports.FrameSink
	runtimeOpts []runtime.EngineOption
	coordOpts   []replication.CoordinatorOption
	strict      bool
	logger      *slog.Logger
	Name        string
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLoader injects a custom GraphLoader, bypassing path detection.
func WithLoader(l ports.GraphLoader) Option {
	return func(e *Engine) {
		e.loader = l
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = domain.ChainHooks(e.hooks, hooks)
	}
}

// WithRegistry replaces the built-in decorator registry.
// The registry is frozen when the engine is created.
func WithRegistry(r *decorator.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithSessionManager checkpoints every committed frame and enables RestoreInstance.
func WithSessionManager(m *session.Manager) Option {
	return func(e *Engine) {
		e.sessions = m
	}
}

// WithFrameSink forwards every committed frame to sink after the coordinator.
func WithFrameSink(sink ports.FrameSink) Option {
	return func(e *Engine) {
		e.sinks = append(e.sinks, sink)
	}
}

// WithReplication tunes the frame coordinator.
func WithReplication(opts ...replication.CoordinatorOption) Option {
	return func(e *Engine) {
		e.coordOpts = append(e.coordOpts, opts...)
	}
}

// WithHistoryCap bounds the node history kept per instance.
func WithHistoryCap(n int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithHistoryCap(n))
	}
}

// WithStepLimit aborts instances that take more than n steps.
func WithStepLimit(n int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithStepLimit(n))
	}
}

// WithQueueSize sets the request queue capacity of each instance.
func WithQueueSize(n int) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithQueueSize(n))
	}
}

// WithTracerProvider sets the OpenTelemetry provider for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithTracerProvider(tp))
	}
}

// WithIDGenerator sets how instance ids are minted. Ids must be unique
// among live instances.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithIDGenerator(fn))
	}
}

// WithStrictGraphs treats publish warnings as errors.
func WithStrictGraphs() Option {
	return func(e *Engine) {
		e.strict = true
	}
}

// New initializes a new Parley Engine and publishes every graph found.
// By default the graphs are read from repoPath, with the loader chosen by
// DetectLoader. If WithLoader is provided, repoPath is only used as a label.
func New(ctx context.Context, repoPath string, opts ...Option) (*Engine, error) {
	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.loader == nil {
		if repoPath == "" {
			return nil, fmt.Errorf("repoPath is required when no custom loader is provided")
		}
		loader, err := DetectLoader(repoPath)
		if err != nil {
			return nil, err
		}
		eng.loader = loader
	}
	if repoPath != "" {
		if abs, err := filepath.Abs(repoPath); err == nil {
			eng.Name = filepath.Base(abs)
		}
	}

	// Ensure logger is initialized (so we don't pass nil to components, which would overwrite their default)
	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.Name != "" {
		eng.logger = eng.logger.With("source", eng.Name)
	}
	if eng.registry == nil {
		eng.registry = decorator.Builtin()
	}

	publishOpts := []graph.PublishOption{graph.WithRegistry(eng.registry)}
	if eng.strict {
		publishOpts = append(publishOpts, graph.WithWarningsAsErrors())
	}
	eng.catalog = graph.NewCatalog(publishOpts...)
	eng.directory = participant.NewDirectory()

	coordOpts := append([]replication.CoordinatorOption{replication.WithLogger(eng.logger)}, eng.coordOpts...)
	if len(eng.sinks) > 0 {
		coordOpts = append(coordOpts, replication.WithDownstream(eng.sinks...))
	}
	eng.coordinator = replication.NewCoordinator(coordOpts...)

	runtimeOpts := []runtime.EngineOption{
		runtime.WithRegistry(eng.registry),
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithFrameSink(eng.coordinator),
	}
	if eng.sessions != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithCheckpointer(eng.sessions))
	}
	eng.runtime = runtime.NewEngine(append(runtimeOpts, eng.runtimeOpts...)...)

	if err := eng.Reload(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

// Reload reads the loader again and publishes every draft. Graphs whose
// content did not change keep their revision; running instances keep the
// version they started on. Every invalid graph is reported.
func (e *Engine) Reload(ctx context.Context) error {
	drafts, err := e.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load graphs: %w", err)
	}

	var errs []error
	for _, d := range drafts {
		g, report, err := e.catalog.Publish(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, w := range report.Warnings {
			e.logger.Warn("graph warning", "graph_id", g.ID(), "warning", w.String())
		}
		e.logger.Debug("graph published", "graph_id", g.ID(), "version", g.Version(), "revision", g.Revision())
	}
	return errors.Join(errs...)
}

// Watch republishes the graphs whenever the loader reports a change, until
// ctx is done. It returns an error if the loader does not support watching.
func (e *Engine) Watch(ctx context.Context) error {
	w, ok := e.loader.(ports.Watchable)
	if !ok {
		return fmt.Errorf("current loader does not support watching")
	}
	changes, err := w.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		for change := range changes {
			if err := e.Reload(ctx); err != nil {
				e.logger.Error("reload failed", "change", change, "error", err)
				continue
			}
			e.logger.Info("graphs reloaded", "change", change)
		}
	}()
	return nil
}

// StartInstance starts the latest revision of req.GraphID.
func (e *Engine) StartInstance(ctx context.Context, req ports.StartRequest) (*domain.Snapshot, error) {
	g, err := e.catalog.Latest(req.GraphID)
	if err != nil {
		return nil, err
	}
	return e.runtime.Start(ctx, g, req.Participants, runtime.StartOptions{
		EntryNodeID: req.EntryNodeID,
		Vars:        req.Vars,
	})
}

// AdvanceInstance performs one step, with an optional branch choice.
func (e *Engine) AdvanceInstance(ctx context.Context, instanceID, choice string) (*domain.Snapshot, error) {
	return e.runtime.Advance(ctx, instanceID, choice)
}

// ResumeInstance continues a paused instance.
func (e *Engine) ResumeInstance(ctx context.Context, instanceID string) (*domain.Snapshot, error) {
	return e.runtime.Resume(ctx, instanceID)
}

// PauseInstance pauses a running instance.
func (e *Engine) PauseInstance(ctx context.Context, instanceID string) (*domain.Snapshot, error) {
	return e.runtime.Pause(ctx, instanceID)
}

// AbortInstance cancels an instance at its next step boundary.
func (e *Engine) AbortInstance(ctx context.Context, instanceID, reason string) (*domain.Snapshot, error) {
	return e.runtime.Abort(ctx, instanceID, reason)
}

// Snapshot returns the current state of a live instance.
func (e *Engine) Snapshot(ctx context.Context, instanceID string) (*domain.Snapshot, error) {
	return e.runtime.Snapshot(ctx, instanceID)
}

// RestoreInstance brings a checkpointed instance back to life. Participants
// are bound to the directory handles of their recorded actor ids.
func (e *Engine) RestoreInstance(ctx context.Context, instanceID string) (*domain.Snapshot, error) {
	if e.sessions == nil {
		return nil, fmt.Errorf("restore %s: no session manager configured", instanceID)
	}
	snap, err := e.sessions.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	g, err := e.catalog.Version(snap.GraphID, snap.GraphVersion)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", instanceID, err)
	}
	return e.runtime.Restore(ctx, g, e.directory.Resolve(snap.Participants), snap)
}

// Participants binds actor ids to live directory handles, for transports
// that only carry ids.
func (e *Engine) Participants(records []domain.ParticipantRecord) []domain.Participant {
	return e.directory.Resolve(records)
}

// ReleaseActor marks an actor as gone. Instances it takes part in abort
// with ParticipantLost at their next step.
func (e *Engine) ReleaseActor(actorID string) bool {
	return e.directory.Release(actorID)
}

// Active lists the ids of live instances.
func (e *Engine) Active() []string {
	return e.runtime.Active()
}

// Catalog returns the published graphs.
func (e *Engine) Catalog() *graph.Catalog { return e.catalog }

// Coordinator returns the replication hub observers subscribe to.
func (e *Engine) Coordinator() *replication.Coordinator { return e.coordinator }

// Sessions returns the session manager, or nil when none is configured.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Loader returns the underlying GraphLoader used by the engine.
func (e *Engine) Loader() ports.GraphLoader { return e.loader }

// Close stops every instance worker and ends every subscription.
func (e *Engine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	e.coordinator.Close()
	return err
}
