package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/pkg/decorator"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/dsl"
	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/participant"
)

type recorder struct {
	mu     sync.Mutex
	frames []domain.Frame
}

func (r *recorder) Publish(_ context.Context, f domain.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) all() []domain.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Frame(nil), r.frames...)
}

func (r *recorder) last() domain.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[len(r.frames)-1]
}

func eventTypes(f domain.Frame) []domain.EventType {
	out := make([]domain.EventType, 0, len(f.Events))
	for _, ev := range f.Events {
		out = append(out, ev.Type)
	}
	return out
}

func players() ([]domain.Participant, *participant.Handle, *participant.Handle) {
	hero := participant.NewHandle("hero")
	npc := participant.NewHandle("npc")
	return []domain.Participant{
		{Role: domain.RoleInitiator, Actor: hero, Authoritative: true},
		{Role: domain.RoleResponder, Actor: npc},
	}, hero, npc
}

func publish(t *testing.T, b *dsl.Builder, opts ...graph.PublishOption) *graph.Graph {
	t.Helper()
	g, _, err := b.Publish(opts...)
	require.NoError(t, err)
	return g
}

// loopGraph is s -> a -> b -> a ... with a low priority exit b -> e.
func loopGraph(t *testing.T) *graph.Graph {
	b := dsl.New("loop")
	b.Add("s").Start().Go("a")
	b.Add("a").Line("npc", "loop.a").Go("b")
	b.Add("b").Line("npc", "loop.b").Go("a", dsl.Priority(1)).Go("e")
	b.Add("e").End()
	return publish(t, b)
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *recorder) {
	t.Helper()
	rec := &recorder{}
	e := NewEngine(append([]EngineOption{WithFrameSink(rec)}, opts...)...)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e, rec
}

func TestEngine_StartThenAdvanceCompletes(t *testing.T) {
	b := dsl.New("simple")
	b.Add("a").Start().Go("b")
	b.Add("b").End().Text("simple.bye")
	g := publish(t, b)

	e, rec := newTestEngine(t)
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, snap.Status)
	assert.Equal(t, "a", snap.CurrentNodeID)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t,
		[]domain.EventType{domain.EventInstanceStarted, domain.EventNodeEntered},
		eventTypes(rec.last()))

	snap, err = e.Advance(ctx, snap.InstanceID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, snap.Status)
	assert.Equal(t, "b", snap.CurrentNodeID)
	assert.Equal(t, []string{"a"}, snap.History)

	final := rec.last()
	assert.Equal(t, uint64(2), final.Seq)
	assert.Equal(t,
		[]domain.EventType{domain.EventNodeEntered, domain.EventInstanceCompleted, domain.EventInstanceEnded},
		eventTypes(final))
	require.NotNil(t, final.Events[0].Payload)
	assert.Equal(t, "simple.bye", final.Events[0].Payload.TextKey)
	assert.True(t, final.Terminal())

	id := snap.InstanceID
	assert.Eventually(t, func() bool {
		_, err := e.Snapshot(ctx, id)
		return errors.Is(err, domain.ErrInstanceNotFound)
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_SkipsDeniedHigherPriorityEdge(t *testing.T) {
	b := dsl.New("priority")
	b.Add("a").Start().
		Go("b", dsl.Priority(5), dsl.When(decorator.TypeVarEquals, map[string]any{"key": "door", "value": "open"})).
		Go("c", dsl.Priority(1))
	b.Add("b").End()
	b.Add("c").End()
	g := publish(t, b)

	e, _ := newTestEngine(t)
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	snap, err = e.Advance(ctx, snap.InstanceID, "")
	require.NoError(t, err)
	assert.Equal(t, "c", snap.CurrentNodeID)

	snap, err = e.Start(ctx, g, parts, StartOptions{Vars: map[string]any{"door": "open"}})
	require.NoError(t, err)
	snap, err = e.Advance(ctx, snap.InstanceID, "")
	require.NoError(t, err)
	assert.Equal(t, "b", snap.CurrentNodeID)
}

func TestEngine_NoEligiblePathAborts(t *testing.T) {
	b := dsl.New("walls")
	b.Add("a").Start().Go("b", dsl.When(decorator.TypeVarExists, map[string]any{"key": "key"}))
	b.Add("b").End()
	g := publish(t, b)

	e, rec := newTestEngine(t)
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)

	snap, err = e.Advance(ctx, snap.InstanceID, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoEligiblePath)
	assert.Equal(t, domain.ReasonNoEligiblePath, domain.ReasonOf(err))
	assert.Equal(t, domain.StatusAborted, snap.Status)
	assert.Equal(t, "a", snap.CurrentNodeID)

	final := rec.last()
	assert.Equal(t, []domain.EventType{domain.EventInstanceAborted, domain.EventInstanceEnded}, eventTypes(final))
	assert.Equal(t, domain.ReasonNoEligiblePath, final.Events[0].Reason)
}

func TestEngine_ConditionErrorDenies(t *testing.T) {
	reg := decorator.Builtin()
	reg.MustRegister("broken", decorator.Behavior{
		Kind: domain.KindCondition,
		Evaluate: func(context.Context, decorator.View, decorator.Target, map[string]any) (decorator.Verdict, error) {
			return decorator.Allow, errors.New("lookup table offline")
		},
	})

	b := dsl.New("broken")
	b.Add("a").Start().Go("b", dsl.Priority(2), dsl.When("broken", nil)).Go("c")
	b.Add("b").End()
	b.Add("c").End()
	g := publish(t, b, graph.WithRegistry(reg))

	e, _ := newTestEngine(t, WithRegistry(reg))
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	snap, err = e.Advance(ctx, snap.InstanceID, "")
	require.NoError(t, err)
	assert.Equal(t, "c", snap.CurrentNodeID)
}

// flakyRegistry registers a modifier that fails while *failures > 0.
func flakyRegistry(failures *atomic.Int32) *decorator.Registry {
	reg := decorator.Builtin()
	reg.MustRegister("flaky", decorator.Behavior{
		Kind: domain.KindModifier,
		Execute: func(context.Context, decorator.Scope, decorator.Target, map[string]any) error {
			if failures.Add(-1) >= 0 {
				return errors.New("inventory service unavailable")
			}
			return nil
		},
	})
	return reg
}

func TestEngine_EntryDecoratorErrorPausesAndResumeRetries(t *testing.T) {
	var failures atomic.Int32
	failures.Store(1)
	reg := flakyRegistry(&failures)

	b := dsl.New("shop")
	b.Add("a").Start().Go("b")
	b.Add("b").Line("merchant", "shop.welcome").
		Decorate(decorator.TypeIncrementVar, map[string]any{"key": "greeted"}).
		Decorate("flaky", nil).
		Decorate(decorator.TypeSetVar, map[string]any{"key": "stocked", "value": true}).
		Go("c")
	b.Add("c").End()
	g := publish(t, b, graph.WithRegistry(reg))

	e, rec := newTestEngine(t, WithRegistry(reg))
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	id := snap.InstanceID

	snap, err = e.Advance(ctx, id, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDecoratorError)
	assert.Equal(t, domain.StatusPaused, snap.Status)
	assert.Equal(t, "b", snap.CurrentNodeID)
	assert.Equal(t, 1, snap.Vars["greeted"])
	assert.NotContains(t, snap.Vars, "stocked")
	require.NotNil(t, snap.Pause)
	assert.Equal(t, domain.ReasonDecoratorError, snap.Pause.Reason)
	assert.Equal(t, &domain.PendingEntry{NodeID: "b", Index: 1}, snap.Pause.Pending)
	assert.NotContains(t, eventTypes(rec.last()), domain.EventNodeEntered)

	snap, err = e.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, snap.Status)
	assert.Equal(t, "b", snap.CurrentNodeID)
	assert.Equal(t, 1, snap.Vars["greeted"], "committed decorators are not re-run")
	assert.Equal(t, true, snap.Vars["stocked"])
	assert.Equal(t,
		[]domain.EventType{domain.EventInstanceResumed, domain.EventNodeEntered},
		eventTypes(rec.last()))
}

func TestEngine_EdgeActionsAreAllOrNothing(t *testing.T) {
	var failures atomic.Int32
	failures.Store(1)
	reg := flakyRegistry(&failures)

	b := dsl.New("bribe")
	b.Add("a").Start().Go("b",
		dsl.Do(decorator.TypeSetVar, map[string]any{"key": "paid", "value": 10}),
		dsl.Do(decorator.TypeSendCommand, map[string]any{"command": "take_gold", "role": "initiator"}),
		dsl.Do("flaky", nil),
	)
	b.Add("b").End()
	g := publish(t, b, graph.WithRegistry(reg))

	e, rec := newTestEngine(t, WithRegistry(reg))
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	id := snap.InstanceID

	snap, err = e.Advance(ctx, id, "")
	require.Error(t, err)
	assert.Equal(t, domain.StatusPaused, snap.Status)
	assert.Equal(t, "a", snap.CurrentNodeID)
	assert.Empty(t, snap.History)
	assert.NotContains(t, snap.Vars, "paid")
	assert.Equal(t, []domain.EventType{domain.EventInstancePaused}, eventTypes(rec.last()))

	_, err = e.Resume(ctx, id)
	require.NoError(t, err)
	snap, err = e.Advance(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, snap.Status)
	assert.Equal(t, 10, snap.Vars["paid"])

	final := rec.last()
	require.Equal(t, domain.EventCommand, final.Events[0].Type)
	assert.Equal(t, "take_gold", final.Events[0].Command.Name)
	assert.Equal(t, "hero", final.Events[0].Command.ActorID)
}

func TestEngine_PauseResumeKeepsPosition(t *testing.T) {
	g := loopGraph(t)
	e, _ := newTestEngine(t)
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	id := snap.InstanceID
	_, err = e.Advance(ctx, id, "")
	require.NoError(t, err)

	paused, err := e.Pause(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)
	assert.Equal(t, domain.ReasonExternalPause, paused.Pause.Reason)

	_, err = e.Advance(ctx, id, "")
	assert.ErrorIs(t, err, domain.ErrNotRunning)
	_, err = e.Pause(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotRunning)

	resumed, err := e.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, resumed.Status)
	assert.Equal(t, paused.CurrentNodeID, resumed.CurrentNodeID)
	assert.Equal(t, paused.History, resumed.History)
	assert.Nil(t, resumed.Pause)

	_, err = e.Resume(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotPaused)
}

func TestEngine_BranchAwaitsChoice(t *testing.T) {
	b := dsl.New("gate")
	b.Add("s").Start().Go("q")
	b.Add("q").Branch("gate.question").
		Go("yes", dsl.Label("Open it"), dsl.Priority(1)).
		Go("no", dsl.Label("Leave"))
	b.Add("yes").End()
	b.Add("no").End()
	g := publish(t, b)

	e, rec := newTestEngine(t)
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	id := snap.InstanceID

	snap, err = e.Advance(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, snap.Status)
	assert.Equal(t, "q", snap.CurrentNodeID)
	require.NotNil(t, snap.Pause)
	assert.Equal(t, domain.ReasonAwaitingChoice, snap.Pause.Reason)
	require.Len(t, snap.Pause.Choices, 2)
	assert.Equal(t, domain.Choice{EdgeID: "q->yes", To: "yes", Label: "Open it"}, snap.Pause.Choices[0])
	pausedSeq := rec.last().Seq

	_, err = e.Advance(ctx, id, "")
	assert.ErrorIs(t, err, domain.ErrNotRunning)

	snap, err = e.Advance(ctx, id, "sideways")
	assert.ErrorIs(t, err, domain.ErrInvalidChoice)
	assert.Equal(t, domain.StatusPaused, snap.Status)
	assert.Equal(t, pausedSeq, rec.last().Seq, "a rejected choice commits nothing")

	snap, err = e.Advance(ctx, id, "no")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, snap.Status)
	assert.Equal(t, "no", snap.CurrentNodeID)
	assert.Equal(t, domain.EventInstanceResumed, rec.last().Events[0].Type)
}

func TestEngine_StepLimit(t *testing.T) {
	g := loopGraph(t)
	e, _ := newTestEngine(t, WithStepLimit(3))
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	id := snap.InstanceID

	for range 3 {
		_, err = e.Advance(ctx, id, "")
		require.NoError(t, err)
	}
	snap, err = e.Advance(ctx, id, "")
	assert.ErrorIs(t, err, domain.ErrStepLimitExceeded)
	assert.Equal(t, domain.StatusAborted, snap.Status)
	assert.Equal(t, domain.ReasonStepLimitExceeded, snap.Reason)
	assert.Equal(t, 3, snap.Steps)
}

func TestEngine_HistoryIsBounded(t *testing.T) {
	g := loopGraph(t)
	e, _ := newTestEngine(t, WithHistoryCap(2))
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	for range 4 {
		snap, err = e.Advance(ctx, snap.InstanceID, "")
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b", "a"}, snap.History)
	assert.Equal(t, 2, snap.HistoryEvicted)
	assert.Equal(t, 2, snap.Visits["a"])
	assert.Equal(t, 2, snap.Visits["b"])
}

func TestEngine_ParticipantLostAborts(t *testing.T) {
	g := loopGraph(t)
	e, _ := newTestEngine(t)
	parts, _, npc := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)

	npc.Release()
	snap, err = e.Advance(ctx, snap.InstanceID, "")
	assert.ErrorIs(t, err, domain.ErrParticipantLost)
	assert.Equal(t, domain.StatusAborted, snap.Status)
	assert.Equal(t, "s", snap.CurrentNodeID)
}

func TestEngine_ResumeChecksParticipants(t *testing.T) {
	g := loopGraph(t)
	e, _ := newTestEngine(t)
	parts, _, npc := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	id := snap.InstanceID
	_, err = e.Pause(ctx, id)
	require.NoError(t, err)

	npc.Release()
	snap, err = e.Resume(ctx, id)
	assert.ErrorIs(t, err, domain.ErrParticipantLost)
	assert.Equal(t, domain.StatusAborted, snap.Status)
	assert.Equal(t, domain.ReasonParticipantLost, snap.Reason)
}

func TestEngine_FailedChoiceStillAwaitsChoice(t *testing.T) {
	var failures atomic.Int32
	failures.Store(1)
	reg := flakyRegistry(&failures)

	b := dsl.New("door")
	b.Add("s").Start().Go("q")
	b.Add("q").Branch("door.question").
		Go("open", dsl.Label("Pick the lock"), dsl.Priority(1), dsl.Do("flaky", nil)).
		Go("leave", dsl.Label("Walk away"))
	b.Add("open").End()
	b.Add("leave").End()
	g := publish(t, b, graph.WithRegistry(reg))

	e, _ := newTestEngine(t, WithRegistry(reg))
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	id := snap.InstanceID
	_, err = e.Advance(ctx, id, "")
	require.NoError(t, err)

	snap, err = e.Advance(ctx, id, "open")
	assert.ErrorIs(t, err, domain.ErrDecoratorError)
	assert.Equal(t, domain.ReasonDecoratorError, snap.Pause.Reason)
	assert.Equal(t, "q", snap.CurrentNodeID)

	snap, err = e.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, snap.Status)
	require.NotNil(t, snap.Pause)
	assert.Equal(t, domain.ReasonAwaitingChoice, snap.Pause.Reason)
	assert.Len(t, snap.Pause.Choices, 2)

	_, err = e.Advance(ctx, id, "")
	assert.ErrorIs(t, err, domain.ErrNotRunning, "the top edge is never taken without a choice")

	snap, err = e.Advance(ctx, id, "leave")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, snap.Status)
	assert.Equal(t, "leave", snap.CurrentNodeID)
}

func enteredPayload(t *testing.T, f domain.Frame) domain.Payload {
	t.Helper()
	for _, ev := range f.Events {
		if ev.Type == domain.EventNodeEntered {
			require.NotNil(t, ev.Payload)
			return *ev.Payload
		}
	}
	t.Fatalf("frame %d has no node_entered event", f.Seq)
	return domain.Payload{}
}

func TestEngine_OverridePayloadOnFirstVisit(t *testing.T) {
	b := dsl.New("regular")
	b.Add("s").Start().Go("a")
	b.Add("a").Line("npc", "regular.hello").
		Decorate(decorator.TypeOverridePayload, map[string]any{
			"text_key":        "regular.hello.first",
			"only_first_time": true,
		}).
		Go("b")
	b.Add("b").Line("npc", "regular.chat").Go("a", dsl.Priority(1)).Go("e")
	b.Add("e").End()
	g := publish(t, b)

	e, rec := newTestEngine(t)
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	id := snap.InstanceID

	snap, err = e.Advance(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, domain.Payload{TextKey: "regular.hello.first", Speaker: "npc"}, enteredPayload(t, rec.last()))
	assert.Equal(t, "regular.hello.first", snap.Overrides["a"].TextKey)

	_, err = e.Advance(ctx, id, "")
	require.NoError(t, err)
	snap, err = e.Advance(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, "a", snap.CurrentNodeID)
	assert.Equal(t, "regular.hello", enteredPayload(t, rec.last()).TextKey)
	assert.NotContains(t, snap.Overrides, "a")

	node, _ := g.Node("a")
	assert.Equal(t, "regular.hello", node.Payload.TextKey)
}

func TestEngine_InvalidStart(t *testing.T) {
	g := loopGraph(t)
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Start(ctx, g, []domain.Participant{
		{Role: domain.RoleInitiator, Actor: participant.NewHandle("solo")},
	}, StartOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidParticipants)

	parts, _, _ := players()
	_, err = e.Start(ctx, g, parts, StartOptions{EntryNodeID: "nowhere"})
	assert.ErrorIs(t, err, domain.ErrInvalidGraph)

	snap, err := e.Start(ctx, g, parts, StartOptions{EntryNodeID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", snap.CurrentNodeID)
}

func TestEngine_AbortCancels(t *testing.T) {
	g := loopGraph(t)
	e, rec := newTestEngine(t)
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)

	snap, err = e.Abort(ctx, snap.InstanceID, "player walked away")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAborted, snap.Status)
	assert.Equal(t, domain.ReasonCancelled, snap.Reason)

	final := rec.last()
	assert.Equal(t, []domain.EventType{domain.EventInstanceAborted, domain.EventInstanceEnded}, eventTypes(final))
	assert.Equal(t, "player walked away", final.Events[0].Message)
}

func TestEngine_RequestsAreSerialized(t *testing.T) {
	g := loopGraph(t)
	e, rec := newTestEngine(t, WithStepLimit(0))
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	id := snap.InstanceID

	const n = 40
	steps := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := e.Advance(ctx, id, "")
			if assert.NoError(t, err) {
				steps[i] = s.Steps
			}
		}()
	}
	wg.Wait()

	sort.Ints(steps)
	for i, s := range steps {
		assert.Equal(t, i+1, s)
	}

	frames := rec.all()
	require.Len(t, frames, n+1)
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.Seq)
	}
}

func TestEngine_FramesRebuildState(t *testing.T) {
	g := loopGraph(t)
	e, rec := newTestEngine(t, WithHistoryCap(3))
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{Vars: map[string]any{"mood": "calm"}})
	require.NoError(t, err)
	id := snap.InstanceID
	for range 5 {
		_, err = e.Advance(ctx, id, "")
		require.NoError(t, err)
	}
	_, err = e.Pause(ctx, id)
	require.NoError(t, err)
	want, err := e.Snapshot(ctx, id)
	require.NoError(t, err)

	frames := rec.all()
	require.NotNil(t, frames[0].Snapshot)
	for _, f := range frames[1:] {
		assert.Nil(t, f.Snapshot)
	}

	mirror := frames[0].Snapshot.Clone()
	for _, f := range frames[1:] {
		mirror.Apply(f.Diff)
		mirror.Seq = f.Seq
	}
	assert.Equal(t, want.CurrentNodeID, mirror.CurrentNodeID)
	assert.Equal(t, want.Status, mirror.Status)
	assert.Equal(t, want.History, mirror.History)
	assert.Equal(t, want.HistoryEvicted, mirror.HistoryEvicted)
	assert.Equal(t, want.Visits, mirror.Visits)
	assert.Equal(t, want.Vars, mirror.Vars)
	assert.Equal(t, want.Pause, mirror.Pause)
	assert.Equal(t, want.Seq, mirror.Seq)
}

func TestEngine_RestoreContinuesSequence(t *testing.T) {
	g := loopGraph(t)
	parts, _, _ := players()
	ctx := context.Background()

	first := NewEngine(WithIDGenerator(func() string { return "inst-1" }))
	snap, err := first.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	snap, err = first.Advance(ctx, snap.InstanceID, "")
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))

	_, err = first.Snapshot(ctx, "inst-1")
	assert.ErrorIs(t, err, ErrEngineClosed)

	second, rec := newTestEngine(t)
	restored, err := second.Restore(ctx, g, parts, snap)
	require.NoError(t, err)
	assert.Equal(t, snap.Seq+1, restored.Seq)
	assert.Equal(t, "a", restored.CurrentNodeID)
	require.NotNil(t, rec.last().Snapshot)

	_, err = second.Restore(ctx, g, parts, snap)
	assert.Error(t, err, "an instance can only be live once")

	next, err := second.Advance(ctx, "inst-1", "")
	require.NoError(t, err)
	assert.Equal(t, "b", next.CurrentNodeID)
	assert.Equal(t, []string{"s", "a"}, next.History)

	other := loopGraph(t)
	stale := snap.Clone()
	stale.GraphVersion = "deadbeef"
	_, err = second.Restore(ctx, other, parts, stale)
	assert.ErrorIs(t, err, domain.ErrGraphNotFound)
}

func TestEngine_ResyncSendsSnapshotFrame(t *testing.T) {
	g := loopGraph(t)
	e, rec := newTestEngine(t)
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)

	_, err = e.Resync(ctx, snap.InstanceID)
	require.NoError(t, err)
	f := rec.last()
	assert.Equal(t, uint64(2), f.Seq)
	require.NotNil(t, f.Snapshot)
	assert.Equal(t, "s", f.Snapshot.CurrentNodeID)
}

func TestEngine_LifecycleHooks(t *testing.T) {
	b := dsl.New("hooks")
	b.Add("a").Start().Go("b")
	b.Add("b").End()
	g := publish(t, b)

	var mu sync.Mutex
	var seen []string
	record := func(_ context.Context, ev *domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, fmt.Sprintf("%s:%s", ev.Type, ev.NodeID))
	}
	e, _ := newTestEngine(t, WithLifecycleHooks(domain.LifecycleHooks{
		OnNodeEntered:       record,
		OnInstanceCompleted: record,
	}))
	parts, _, _ := players()
	ctx := context.Background()

	snap, err := e.Start(ctx, g, parts, StartOptions{})
	require.NoError(t, err)
	_, err = e.Advance(ctx, snap.InstanceID, "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"node_entered:a", "node_entered:b", "instance_completed:b"}, seen)
}
