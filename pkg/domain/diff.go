package domain

import (
	"bytes"
	"reflect"
	"slices"
)

// InstanceDiff represents the changes between two snapshots of one instance.
// It is designed to be serialized to JSON for partial updates on observers.
type InstanceDiff struct {
	// InstanceID is always present to identify the target.
	InstanceID string `json:"instance_id"`

	CurrentNodeID *string     `json:"current_node_id,omitempty"`
	Status        *Status     `json:"status,omitempty"`
	Reason        *ReasonCode `json:"reason,omitempty"`
	Steps         *int        `json:"steps,omitempty"`
	EntryNodeID   *string     `json:"entry_node_id,omitempty"`

	// Vars contains only changed, added or deleted keys.
	// For deletions, the key is present with a nil value.
	Vars map[string]any `json:"vars,omitempty"`

	// Visits contains the new counters of nodes entered since the old snapshot.
	Visits map[string]int `json:"visits,omitempty"`

	// DecoratorState follows the same convention as Vars.
	DecoratorState map[string][]byte `json:"decorator_state,omitempty"`

	// Overrides carries changed payload overrides; a nil value removes one.
	Overrides map[string]*Payload `json:"overrides,omitempty"`

	History *HistoryDelta `json:"history,omitempty"`

	// Participants carries the full list whenever any record changed.
	Participants []ParticipantRecord `json:"participants,omitempty"`

	// Pause is set when the pause info changed to a non-nil value;
	// PauseCleared is set when it changed to nil.
	Pause        *PauseInfo `json:"pause,omitempty"`
	PauseCleared bool       `json:"pause_cleared,omitempty"`
}

// HistoryDelta represents changes to the bounded history.
// Evicted entries are dropped from the front after appending.
type HistoryDelta struct {
	Appended []string `json:"appended,omitempty"`
	Evicted  int      `json:"evicted,omitempty"`
}

// Diff calculates the difference between oldSnap and newSnap.
// If oldSnap is nil, it returns a diff representing the entire newSnap (initial load).
func Diff(oldSnap, newSnap *Snapshot) *InstanceDiff {
	if newSnap == nil {
		return nil
	}

	diff := &InstanceDiff{InstanceID: newSnap.InstanceID}

	if oldSnap == nil || oldSnap.CurrentNodeID != newSnap.CurrentNodeID {
		diff.CurrentNodeID = &newSnap.CurrentNodeID
	}
	if oldSnap == nil || oldSnap.Status != newSnap.Status {
		diff.Status = &newSnap.Status
	}
	if (oldSnap == nil && newSnap.Reason != "") || (oldSnap != nil && oldSnap.Reason != newSnap.Reason) {
		diff.Reason = &newSnap.Reason
	}
	if oldSnap == nil || oldSnap.Steps != newSnap.Steps {
		diff.Steps = &newSnap.Steps
	}
	if (oldSnap == nil && newSnap.EntryNodeID != "") || (oldSnap != nil && oldSnap.EntryNodeID != newSnap.EntryNodeID) {
		diff.EntryNodeID = &newSnap.EntryNodeID
	}

	diff.Vars = diffVars(oldSnap, newSnap)
	diff.Visits = diffVisits(oldSnap, newSnap)
	diff.DecoratorState = diffDecoratorState(oldSnap, newSnap)
	diff.Overrides = diffOverrides(oldSnap, newSnap)
	diff.History = diffHistory(oldSnap, newSnap)

	if oldSnap == nil || !slices.Equal(oldSnap.Participants, newSnap.Participants) {
		if len(newSnap.Participants) > 0 {
			diff.Participants = append([]ParticipantRecord(nil), newSnap.Participants...)
		}
	}

	switch {
	case oldSnap == nil:
		diff.Pause = newSnap.Pause.Clone()
	case newSnap.Pause == nil && oldSnap.Pause != nil:
		diff.PauseCleared = true
	case newSnap.Pause != nil && !reflect.DeepEqual(oldSnap.Pause, newSnap.Pause):
		diff.Pause = newSnap.Pause.Clone()
	}

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

func diffVars(old, new *Snapshot) map[string]any {
	delta := make(map[string]any)

	if old == nil {
		for k, v := range new.Vars {
			delta[k] = v
		}
	} else {
		for k, newVal := range new.Vars {
			oldVal, exists := old.Vars[k]
			if !exists || !reflect.DeepEqual(oldVal, newVal) {
				delta[k] = newVal
			}
		}
		for k := range old.Vars {
			if _, exists := new.Vars[k]; !exists {
				delta[k] = nil
			}
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

func diffVisits(old, new *Snapshot) map[string]int {
	delta := make(map[string]int)
	for k, v := range new.Visits {
		if old == nil || old.Visits[k] != v {
			delta[k] = v
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

func diffDecoratorState(old, new *Snapshot) map[string][]byte {
	delta := make(map[string][]byte)
	for k, v := range new.DecoratorState {
		if old == nil {
			delta[k] = v
			continue
		}
		if prev, ok := old.DecoratorState[k]; !ok || !bytes.Equal(prev, v) {
			delta[k] = v
		}
	}
	if old != nil {
		for k := range old.DecoratorState {
			if _, ok := new.DecoratorState[k]; !ok {
				delta[k] = nil
			}
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

func diffOverrides(old, new *Snapshot) map[string]*Payload {
	delta := make(map[string]*Payload)
	for k, v := range new.Overrides {
		if old != nil {
			if prev, ok := old.Overrides[k]; ok && reflect.DeepEqual(prev, v) {
				continue
			}
		}
		p := v.Clone()
		delta[k] = &p
	}
	if old != nil {
		for k := range old.Overrides {
			if _, ok := new.Overrides[k]; !ok {
				delta[k] = nil
			}
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

// diffHistory relies on history being append-only with front eviction,
// so the total number of entries ever pushed identifies what is new.
func diffHistory(old, new *Snapshot) *HistoryDelta {
	if old == nil {
		if len(new.History) == 0 && new.HistoryEvicted == 0 {
			return nil
		}
		return &HistoryDelta{Appended: append([]string(nil), new.History...)}
	}

	oldTotal := old.HistoryEvicted + len(old.History)
	newTotal := new.HistoryEvicted + len(new.History)
	evicted := new.HistoryEvicted - old.HistoryEvicted
	if newTotal <= oldTotal && evicted == 0 {
		return nil
	}

	added := newTotal - oldTotal
	if added > len(new.History) {
		added = len(new.History)
	}
	return &HistoryDelta{
		Appended: append([]string(nil), new.History[len(new.History)-added:]...),
		Evicted:  evicted,
	}
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *InstanceDiff) IsEmpty() bool {
	return d.CurrentNodeID == nil &&
		d.Status == nil &&
		d.Reason == nil &&
		d.Steps == nil &&
		d.EntryNodeID == nil &&
		len(d.Vars) == 0 &&
		len(d.Visits) == 0 &&
		len(d.DecoratorState) == 0 &&
		len(d.Overrides) == 0 &&
		d.History == nil &&
		d.Participants == nil &&
		d.Pause == nil &&
		!d.PauseCleared
}

// Apply merges the diff into s in place.
func (s *Snapshot) Apply(d *InstanceDiff) {
	if d == nil {
		return
	}
	if d.CurrentNodeID != nil {
		s.CurrentNodeID = *d.CurrentNodeID
	}
	if d.Status != nil {
		s.Status = *d.Status
	}
	if d.Reason != nil {
		s.Reason = *d.Reason
	}
	if d.Steps != nil {
		s.Steps = *d.Steps
	}
	if d.EntryNodeID != nil {
		s.EntryNodeID = *d.EntryNodeID
	}

	if len(d.Vars) > 0 && s.Vars == nil {
		s.Vars = make(map[string]any)
	}
	for k, v := range d.Vars {
		if v == nil {
			delete(s.Vars, k)
			continue
		}
		s.Vars[k] = v
	}

	if len(d.Visits) > 0 && s.Visits == nil {
		s.Visits = make(map[string]int)
	}
	for k, v := range d.Visits {
		s.Visits[k] = v
	}

	if len(d.DecoratorState) > 0 && s.DecoratorState == nil {
		s.DecoratorState = make(map[string][]byte)
	}
	for k, v := range d.DecoratorState {
		if v == nil {
			delete(s.DecoratorState, k)
			continue
		}
		s.DecoratorState[k] = append([]byte(nil), v...)
	}

	if len(d.Overrides) > 0 && s.Overrides == nil {
		s.Overrides = make(map[string]Payload)
	}
	for k, v := range d.Overrides {
		if v == nil {
			delete(s.Overrides, k)
			continue
		}
		s.Overrides[k] = v.Clone()
	}

	if d.History != nil {
		s.History = append(s.History, d.History.Appended...)
		if d.History.Evicted > 0 {
			drop := min(d.History.Evicted, len(s.History))
			s.History = append([]string{}, s.History[drop:]...)
			s.HistoryEvicted += d.History.Evicted
		}
	}

	if d.Participants != nil {
		s.Participants = append([]ParticipantRecord(nil), d.Participants...)
	}

	if d.PauseCleared {
		s.Pause = nil
	} else if d.Pause != nil {
		s.Pause = d.Pause.Clone()
	}
}
