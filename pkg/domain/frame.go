package domain

import "time"

// Frame is one committed state change of an instance, in commit order.
// Seq starts at 1 and increases by exactly one per frame of the same instance,
// so observers can apply frames idempotently and detect gaps.
type Frame struct {
	InstanceID string        `json:"instance_id"`
	Seq        uint64        `json:"seq"`
	Timestamp  time.Time     `json:"timestamp"`
	Diff       *InstanceDiff `json:"diff,omitempty"`
	Events     []Event       `json:"events,omitempty"`

	// Snapshot carries the full state. It is set on the first frame of an
	// instance, on resync frames and on the terminal frame, so an observer
	// that missed frames still ends on the final state.
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// Terminal reports whether the frame ends its instance.
func (f *Frame) Terminal() bool {
	for _, ev := range f.Events {
		if ev.Type == EventInstanceEnded {
			return true
		}
	}
	return false
}
