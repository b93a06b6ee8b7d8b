package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/parley/pkg/decorator"
	"github.com/aretw0/parley/pkg/domain"
)

func (e *Engine) start(ctx context.Context, in *instance, entry string) error {
	in.state.Status = domain.StatusRunning
	in.state.Visits[entry]++
	in.emit(domain.Event{
		Type:   domain.EventInstanceStarted,
		NodeID: entry,
		Status: domain.StatusRunning,
	})
	in.logger().Debug("instance started", "node_id", entry)
	return e.enter(ctx, in, entry, nil, 0)
}

// advance performs one traversal step from the current node.
func (e *Engine) advance(ctx context.Context, in *instance, choice string) error {
	implicitResume := false
	switch in.state.Status {
	case domain.StatusRunning:
	case domain.StatusPaused:
		if choice == "" || in.state.Pause == nil || in.state.Pause.Reason != domain.ReasonAwaitingChoice {
			return fmt.Errorf("advance %s: %w", in.id, domain.ErrNotRunning)
		}
		implicitResume = true
	default:
		return fmt.Errorf("advance %s: %w", in.id, domain.ErrNotRunning)
	}

	if err := e.checkBoundary(ctx, in); err != nil {
		return err
	}

	from := in.state.CurrentNodeID
	eligible := e.eligible(ctx, in, from)

	var edge domain.Edge
	if choice != "" {
		found := false
		for _, candidate := range eligible {
			if candidate.ID == choice || candidate.To == choice {
				edge, found = candidate, true
				break
			}
		}
		if !found {
			return fmt.Errorf("advance %s: choice %q: %w", in.id, choice, domain.ErrInvalidChoice)
		}
	} else {
		if len(eligible) == 0 {
			return e.abort(ctx, in, domain.ReasonNoEligiblePath, fmt.Sprintf("no eligible edge from %s", from), "")
		}
		edge = eligible[0]
	}

	if implicitResume {
		e.clearPause(in)
	}

	target, _ := in.graph.Node(edge.To)
	st := newStage(in)
	for _, d := range in.graph.EdgeActions(edge.ID) {
		err := e.registry.Execute(ctx, st, decorator.Target{Decorator: d, Node: &target, Edge: &edge})
		if err != nil {
			return e.pauseOnDecorator(in, d, err, nil)
		}
	}
	st.apply(in)

	in.state.PushHistory(from, e.historyCap)
	in.state.CurrentNodeID = edge.To
	in.state.Visits[edge.To]++
	in.state.Steps++
	in.logger().Debug("edge taken", "edge_id", edge.ID, "from", from, "node_id", edge.To)

	return e.enter(ctx, in, edge.To, &edge, 0)
}

// enter runs the entry decorators of nodeID starting at index from, then
// announces the node. Each decorator commits on its own so that a failure
// leaves the ones before it applied.
func (e *Engine) enter(ctx context.Context, in *instance, nodeID string, via *domain.Edge, from int) error {
	node, ok := in.graph.Node(nodeID)
	if !ok {
		return e.abort(ctx, in, domain.ReasonInvalidGraph, fmt.Sprintf("node %s not in graph", nodeID), "")
	}

	decorators := in.graph.EntryDecorators(nodeID)
	for i := from; i < len(decorators); i++ {
		st := newStage(in)
		err := e.registry.Execute(ctx, st, decorator.Target{Decorator: decorators[i], Node: &node, Edge: via})
		if err != nil {
			return e.pauseOnDecorator(in, decorators[i], err, &domain.PendingEntry{NodeID: nodeID, Index: i})
		}
		st.apply(in)
	}

	payload := in.state.PayloadFor(node)
	in.emit(domain.Event{
		Type:    domain.EventNodeEntered,
		NodeID:  nodeID,
		Kind:    node.Kind,
		Payload: &payload,
	})

	switch node.Kind {
	case domain.NodeEnd:
		return e.complete(in)
	case domain.NodeBranch:
		return e.awaitChoice(ctx, in, nodeID)
	}
	return nil
}

// awaitChoice pauses at a branch until a participant picks an edge.
func (e *Engine) awaitChoice(ctx context.Context, in *instance, nodeID string) error {
	choices := e.choices(ctx, in, nodeID)
	if len(choices) == 0 {
		return e.abort(ctx, in, domain.ReasonNoEligiblePath, fmt.Sprintf("branch %s has no eligible choice", nodeID), "")
	}
	e.setPause(in, &domain.PauseInfo{Reason: domain.ReasonAwaitingChoice, Choices: choices})
	return nil
}

func (e *Engine) resume(ctx context.Context, in *instance) error {
	if in.state.Status != domain.StatusPaused {
		return fmt.Errorf("resume %s: %w", in.id, domain.ErrNotPaused)
	}
	if err := e.checkLiveness(ctx, in); err != nil {
		return err
	}
	pending := in.state.Pause.Clone().Pending
	e.clearPause(in)

	if pending != nil {
		return e.enter(ctx, in, pending.NodeID, nil, pending.Index)
	}
	// A failed edge out of a branch leaves the instance at the branch; the
	// participant still has to choose.
	if node, ok := in.graph.Node(in.state.CurrentNodeID); ok && node.Kind == domain.NodeBranch {
		return e.awaitChoice(ctx, in, node.ID)
	}
	return nil
}

func (e *Engine) pause(_ context.Context, in *instance) error {
	if in.state.Status != domain.StatusRunning {
		return fmt.Errorf("pause %s: %w", in.id, domain.ErrNotRunning)
	}
	e.setPause(in, &domain.PauseInfo{Reason: domain.ReasonExternalPause})
	return nil
}

// honorAbort performs a requested cancellation. It is a no-op for an
// instance that already ended.
func (e *Engine) honorAbort(ctx context.Context, in *instance) error {
	if in.state.Status.Terminal() {
		return nil
	}
	_ = e.abort(ctx, in, domain.ReasonCancelled, in.pendingAbortReason(), "")
	return nil
}

// checkBoundary enforces the conditions verified before every step.
func (e *Engine) checkBoundary(ctx context.Context, in *instance) error {
	if err := e.checkLiveness(ctx, in); err != nil {
		return err
	}
	if e.stepLimit > 0 && in.state.Steps >= e.stepLimit {
		return e.abort(ctx, in, domain.ReasonStepLimitExceeded, fmt.Sprintf("limit of %d steps reached", e.stepLimit), "")
	}
	return nil
}

// checkLiveness aborts the instance once a participant's actor is gone.
func (e *Engine) checkLiveness(ctx context.Context, in *instance) error {
	if lost, ok := in.parts.Lost(); ok {
		msg := fmt.Sprintf("%s %s is gone", lost.Role, lost.Actor.ActorID())
		return e.abort(ctx, in, domain.ReasonParticipantLost, msg, "")
	}
	return nil
}

// eligible returns the outgoing edges of nodeID whose conditions, and the
// conditions of whose target node, all allow. Priority order is preserved.
func (e *Engine) eligible(ctx context.Context, in *instance, nodeID string) []domain.Edge {
	v := &view{state: in.state, parts: in.parts}
	var out []domain.Edge
	for _, edge := range in.graph.Outgoing(nodeID) {
		target, ok := in.graph.Node(edge.To)
		if !ok {
			continue
		}
		if !e.allow(ctx, in, v, in.graph.EdgeConditions(edge.ID), &target, &edge) {
			continue
		}
		if !e.allow(ctx, in, v, in.graph.NodeConditions(edge.To), &target, &edge) {
			continue
		}
		out = append(out, edge)
	}
	return out
}

func (e *Engine) allow(ctx context.Context, in *instance, v *view, conds []domain.Decorator, node *domain.Node, edge *domain.Edge) bool {
	for _, d := range conds {
		verdict, err := e.registry.Evaluate(ctx, v, decorator.Target{Decorator: d, Node: node, Edge: edge})
		if err != nil {
			in.logger().Warn("condition failed, denying",
				"decorator_id", d.ID,
				"type", d.Type,
				"edge_id", edge.ID,
				"error", err,
			)
			return false
		}
		if verdict == decorator.Deny {
			return false
		}
	}
	return true
}

func (e *Engine) choices(ctx context.Context, in *instance, nodeID string) []domain.Choice {
	eligible := e.eligible(ctx, in, nodeID)
	out := make([]domain.Choice, 0, len(eligible))
	for _, edge := range eligible {
		out = append(out, domain.Choice{EdgeID: edge.ID, To: edge.To, Label: edge.Label})
	}
	return out
}

func (e *Engine) setPause(in *instance, info *domain.PauseInfo) {
	in.state.Status = domain.StatusPaused
	in.state.Pause = info
	in.state.Reason = info.Reason
	in.emit(domain.Event{
		Type:        domain.EventInstancePaused,
		NodeID:      in.state.CurrentNodeID,
		Status:      domain.StatusPaused,
		Reason:      info.Reason,
		DecoratorID: info.DecoratorID,
		Message:     info.Message,
		Choices:     info.Choices,
	})
}

func (e *Engine) clearPause(in *instance) {
	in.state.Status = domain.StatusRunning
	in.state.Pause = nil
	in.state.Reason = ""
	in.emit(domain.Event{
		Type:   domain.EventInstanceResumed,
		NodeID: in.state.CurrentNodeID,
		Status: domain.StatusRunning,
	})
}

// pauseOnDecorator handles an Execute failure: the instance pauses and the
// caller receives a recoverable error.
func (e *Engine) pauseOnDecorator(in *instance, d domain.Decorator, cause error, pending *domain.PendingEntry) error {
	in.logger().Warn("decorator failed, pausing",
		"node_id", in.state.CurrentNodeID,
		"decorator_id", d.ID,
		"type", d.Type,
		"error", cause,
	)
	e.setPause(in, &domain.PauseInfo{
		Reason:      domain.ReasonDecoratorError,
		DecoratorID: d.ID,
		Message:     cause.Error(),
		Pending:     pending,
	})
	return &domain.InstanceError{
		InstanceID:  in.id,
		Reason:      domain.ReasonDecoratorError,
		DecoratorID: d.ID,
		Err:         cause,
	}
}

func (e *Engine) complete(in *instance) error {
	in.state.Status = domain.StatusCompleted
	in.state.Pause = nil
	in.emit(domain.Event{
		Type:   domain.EventInstanceCompleted,
		NodeID: in.state.CurrentNodeID,
		Status: domain.StatusCompleted,
	})
	in.emit(domain.Event{
		Type:   domain.EventInstanceEnded,
		NodeID: in.state.CurrentNodeID,
		Status: domain.StatusCompleted,
	})
	in.logger().Info("instance completed", "node_id", in.state.CurrentNodeID, "steps", in.state.Steps)
	return nil
}

// abort moves the instance to Aborted and returns the error describing why.
func (e *Engine) abort(_ context.Context, in *instance, reason domain.ReasonCode, message, decoratorID string) error {
	in.state.Status = domain.StatusAborted
	in.state.Reason = reason
	in.state.Pause = nil
	in.emit(domain.Event{
		Type:        domain.EventInstanceAborted,
		NodeID:      in.state.CurrentNodeID,
		Status:      domain.StatusAborted,
		Reason:      reason,
		DecoratorID: decoratorID,
		Message:     message,
	})
	in.emit(domain.Event{
		Type:   domain.EventInstanceEnded,
		NodeID: in.state.CurrentNodeID,
		Status: domain.StatusAborted,
		Reason: reason,
	})

	level := in.e.logger.Warn
	if reason == domain.ReasonCancelled {
		level = in.e.logger.Info
	}
	level("instance aborted",
		"instance_id", in.id,
		"node_id", in.state.CurrentNodeID,
		"reason", reason,
		"message", message,
	)

	var cause error
	if message != "" {
		cause = errors.New(message)
	}
	return &domain.InstanceError{InstanceID: in.id, Reason: reason, DecoratorID: decoratorID, Err: cause}
}
