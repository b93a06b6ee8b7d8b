package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/participant"
)

type result struct {
	snap *domain.Snapshot
	err  error
}

type request struct {
	ctx   context.Context
	op    string
	fn    func(context.Context) error
	reply chan result
}

// instance owns the state of one dialogue. Only its worker goroutine touches
// graph, parts, state, published and events.
type instance struct {
	e     *Engine
	id    string
	graph *graph.Graph
	parts *participant.Registry

	state     *domain.Snapshot
	published *domain.Snapshot
	events    []domain.Event

	reqs chan request
	quit chan struct{}
	done chan struct{}
	// endErr is written before done is closed.
	endErr error

	aborting    atomic.Bool
	abortMu     sync.Mutex
	abortReason string
}

func newInstance(e *Engine, g *graph.Graph, parts *participant.Registry, state *domain.Snapshot) *instance {
	return &instance{
		e:     e,
		id:    state.InstanceID,
		graph: g,
		parts: parts,
		state: state,
		reqs:  make(chan request, e.queueSize),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (in *instance) logger() *slog.Logger {
	return in.e.logger.With("instance_id", in.id, "graph_id", in.graph.ID())
}

// submit enqueues fn and waits for the snapshot committed after it ran.
func (in *instance) submit(ctx context.Context, op string, fn func(context.Context) error) (*domain.Snapshot, error) {
	req := request{ctx: ctx, op: op, fn: fn, reply: make(chan result, 1)}

	select {
	case in.reqs <- req:
	case <-in.done:
		return nil, in.endErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.snap, res.err
	case <-in.done:
		select {
		case res := <-req.reply:
			return res.snap, res.err
		default:
			return nil, in.endErr
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (in *instance) run() {
	defer close(in.done)
	for {
		select {
		case <-in.quit:
			in.stop(ErrEngineClosed)
			return
		case req := <-in.reqs:
			in.handle(req)
			if in.state.Status.Terminal() {
				in.stop(fmt.Errorf("instance %s: %w", in.id, domain.ErrInstanceEnded))
				return
			}
		}
	}
}

// stop rejects every queued request with err. Queued aborts of an instance
// that already ended receive its final state.
func (in *instance) stop(err error) {
	in.endErr = err
	for {
		select {
		case req := <-in.reqs:
			if req.op == "abort" && in.state.Status.Terminal() {
				req.reply <- result{snap: in.state.Clone()}
				continue
			}
			req.reply <- result{err: err}
		default:
			return
		}
	}
}

func (in *instance) handle(req request) {
	if err := req.ctx.Err(); err != nil {
		req.reply <- result{err: err}
		return
	}

	ctx, span := in.e.tracer.Start(req.ctx, "parley."+req.op,
		trace.WithAttributes(
			attribute.String("parley.instance_id", in.id),
			attribute.String("parley.graph_id", in.graph.ID()),
			attribute.String("parley.graph_version", in.graph.Version()),
		),
	)
	defer span.End()

	err := req.fn(ctx)
	in.commit(ctx)

	span.SetAttributes(
		attribute.String("parley.status", string(in.state.Status)),
		attribute.String("parley.node_id", in.state.CurrentNodeID),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	req.reply <- result{snap: in.state.Clone(), err: err}
}

// emit queues an event for the frame committed at the end of the request.
func (in *instance) emit(ev domain.Event) {
	ev.InstanceID = in.id
	ev.Timestamp = in.e.now()
	in.events = append(in.events, ev)
}

// commit turns the changes made since the last frame into a new frame.
// It does nothing when neither the state nor the event queue changed.
func (in *instance) commit(ctx context.Context) {
	var diff *domain.InstanceDiff
	if in.published != nil {
		diff = domain.Diff(in.published, in.state)
		if diff == nil && len(in.events) == 0 {
			return
		}
	}

	in.state.Seq++
	in.state.UpdatedAt = in.e.now()
	frame := domain.Frame{
		InstanceID: in.id,
		Seq:        in.state.Seq,
		Timestamp:  in.state.UpdatedAt,
		Diff:       diff,
		Events:     in.events,
	}
	for i := range frame.Events {
		frame.Events[i].Seq = frame.Seq
	}
	if in.published == nil || in.state.Status.Terminal() {
		frame.Snapshot = in.state.Clone()
	}
	in.events = nil
	in.published = in.state.Clone()

	log := in.logger()
	if in.e.sink != nil {
		if err := in.e.sink.Publish(ctx, frame); err != nil {
			log.Warn("frame publish failed", "seq", frame.Seq, "error", err)
		}
	}
	if in.e.checkpointer != nil {
		if err := in.e.checkpointer.Checkpoint(ctx, in.state.Clone()); err != nil {
			log.Error("checkpoint failed", "seq", frame.Seq, "error", err)
		}
	}
	for i := range frame.Events {
		in.e.hooks.Dispatch(ctx, &frame.Events[i])
	}
}

// resync makes the next frame carry the full state.
func (in *instance) resync() {
	in.published = nil
}

func (in *instance) requestAbort(reason string) {
	in.abortMu.Lock()
	if !in.aborting.Load() {
		in.abortReason = reason
	}
	in.abortMu.Unlock()
	in.aborting.Store(true)
}

func (in *instance) abortPending() bool {
	return in.aborting.Load()
}

func (in *instance) pendingAbortReason() string {
	in.abortMu.Lock()
	defer in.abortMu.Unlock()
	return in.abortReason
}
