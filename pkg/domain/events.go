package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventInstanceStarted   EventType = "instance_started"
	EventNodeEntered       EventType = "node_entered"
	EventInstancePaused    EventType = "instance_paused"
	EventInstanceResumed   EventType = "instance_resumed"
	EventInstanceCompleted EventType = "instance_completed"
	EventInstanceAborted   EventType = "instance_aborted"
	EventInstanceEnded     EventType = "instance_ended"
	EventCommand           EventType = "command"
)

// Command is an authoritative gameplay notification emitted by an event decorator.
// Observers receive it through the mirrored event stream and never re-derive it.
type Command struct {
	Name        string         `json:"name"`
	Payload     map[string]any `json:"payload,omitempty"`
	Role        Role           `json:"role,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"`
	DecoratorID string         `json:"decorator_id,omitempty"`
	NodeID      string         `json:"node_id,omitempty"`
}

// Event is a lifecycle notification of a dialogue instance.
type Event struct {
	Type       EventType `json:"type"`
	InstanceID string    `json:"instance_id"`
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`

	NodeID  string   `json:"node_id,omitempty"`
	Kind    NodeKind `json:"kind,omitempty"`
	Payload *Payload `json:"payload,omitempty"`

	Status      Status     `json:"status,omitempty"`
	Reason      ReasonCode `json:"reason,omitempty"`
	DecoratorID string     `json:"decorator_id,omitempty"`
	Message     string     `json:"message,omitempty"`
	Choices     []Choice   `json:"choices,omitempty"`
	Command     *Command   `json:"command,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
// Hooks run on the instance worker after the frame is committed; they must not block.
type LifecycleHooks struct {
	OnInstanceStarted   func(context.Context, *Event)
	OnNodeEntered       func(context.Context, *Event)
	OnInstancePaused    func(context.Context, *Event)
	OnInstanceResumed   func(context.Context, *Event)
	OnInstanceCompleted func(context.Context, *Event)
	OnInstanceAborted   func(context.Context, *Event)
	OnInstanceEnded     func(context.Context, *Event)
	OnCommand           func(context.Context, *Event)
}

// Dispatch routes the event to the matching hook, if set.
func (h LifecycleHooks) Dispatch(ctx context.Context, ev *Event) {
	var fn func(context.Context, *Event)
	switch ev.Type {
	case EventInstanceStarted:
		fn = h.OnInstanceStarted
	case EventNodeEntered:
		fn = h.OnNodeEntered
	case EventInstancePaused:
		fn = h.OnInstancePaused
	case EventInstanceResumed:
		fn = h.OnInstanceResumed
	case EventInstanceCompleted:
		fn = h.OnInstanceCompleted
	case EventInstanceAborted:
		fn = h.OnInstanceAborted
	case EventInstanceEnded:
		fn = h.OnInstanceEnded
	case EventCommand:
		fn = h.OnCommand
	}
	if fn != nil {
		fn(ctx, ev)
	}
}

// ChainHooks combines several hook sets; each callback runs in argument order.
func ChainHooks(hooks ...LifecycleHooks) LifecycleHooks {
	chain := func(pick func(LifecycleHooks) func(context.Context, *Event)) func(context.Context, *Event) {
		var fns []func(context.Context, *Event)
		for _, h := range hooks {
			if fn := pick(h); fn != nil {
				fns = append(fns, fn)
			}
		}
		if len(fns) == 0 {
			return nil
		}
		return func(ctx context.Context, ev *Event) {
			for _, fn := range fns {
				fn(ctx, ev)
			}
		}
	}

	return LifecycleHooks{
		OnInstanceStarted:   chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnInstanceStarted }),
		OnNodeEntered:       chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnNodeEntered }),
		OnInstancePaused:    chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnInstancePaused }),
		OnInstanceResumed:   chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnInstanceResumed }),
		OnInstanceCompleted: chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnInstanceCompleted }),
		OnInstanceAborted:   chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnInstanceAborted }),
		OnInstanceEnded:     chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnInstanceEnded }),
		OnCommand:           chain(func(h LifecycleHooks) func(context.Context, *Event) { return h.OnCommand }),
	}
}
