package domain

import (
	"maps"
	"time"
)

// Status represents the lifecycle state of a dialogue instance.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// PendingEntry records an interrupted node entry.
// Index is the position of the entry decorator that failed; resuming
// continues from it instead of re-running the ones that already committed.
type PendingEntry struct {
	NodeID string `json:"node_id"`
	Index  int    `json:"index"`
}

// PauseInfo explains why an instance is paused.
type PauseInfo struct {
	Reason      ReasonCode    `json:"reason"`
	DecoratorID string        `json:"decorator_id,omitempty"`
	Message     string        `json:"message,omitempty"`
	Pending     *PendingEntry `json:"pending,omitempty"`
	Choices     []Choice      `json:"choices,omitempty"`
}

// Clone returns a deep copy of the pause info.
func (p *PauseInfo) Clone() *PauseInfo {
	if p == nil {
		return nil
	}
	out := *p
	if p.Pending != nil {
		pending := *p.Pending
		out.Pending = &pending
	}
	out.Choices = append([]Choice(nil), p.Choices...)
	return &out
}

// Snapshot is the complete, serializable state of one dialogue instance.
// It is what gets persisted for save/resume and what observers rebuild
// when they resynchronize.
type Snapshot struct {
	InstanceID   string `json:"instance_id"`
	GraphID      string `json:"graph_id"`
	GraphVersion string `json:"graph_version"`

	Status        Status `json:"status"`
	CurrentNodeID string `json:"current_node_id"`

	// History holds the previously visited node ids, oldest first.
	// It is bounded; HistoryEvicted counts entries dropped from the front.
	History        []string `json:"history"`
	HistoryEvicted int      `json:"history_evicted,omitempty"`

	// Visits counts how many times each node has been entered.
	Visits map[string]int `json:"visits,omitempty"`

	// Vars is the per-instance variable scope written by modifier decorators.
	Vars map[string]any `json:"vars,omitempty"`

	// DecoratorState maps decorator id to an opaque per-instance blob.
	DecoratorState map[string][]byte `json:"decorator_state,omitempty"`

	Participants []ParticipantRecord `json:"participants,omitempty"`

	// Overrides maps node id to the payload announced in place of the
	// authored one for this instance. The graph itself is never changed.
	Overrides map[string]Payload `json:"overrides,omitempty"`

	// EntryNodeID is the node a later session should start from, if a
	// decorator saved one.
	EntryNodeID string `json:"entry_node_id,omitempty"`

	Pause  *PauseInfo `json:"pause,omitempty"`
	Reason ReasonCode `json:"reason,omitempty"`

	Steps     int       `json:"steps"`
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSnapshot creates an idle snapshot bound to a graph version.
func NewSnapshot(instanceID, graphID, graphVersion string) *Snapshot {
	return &Snapshot{
		InstanceID:     instanceID,
		GraphID:        graphID,
		GraphVersion:   graphVersion,
		Status:         StatusIdle,
		History:        []string{},
		Visits:         make(map[string]int),
		Vars:           make(map[string]any),
		DecoratorState: make(map[string][]byte),
	}
}

// Clone returns a deep copy of the snapshot.
// Var values are copied shallowly; decorators are expected to store scalars.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.History = append([]string{}, s.History...)
	out.Visits = maps.Clone(s.Visits)
	out.Vars = maps.Clone(s.Vars)
	if s.DecoratorState != nil {
		out.DecoratorState = make(map[string][]byte, len(s.DecoratorState))
		for k, v := range s.DecoratorState {
			out.DecoratorState[k] = append([]byte(nil), v...)
		}
	}
	out.Participants = append([]ParticipantRecord(nil), s.Participants...)
	if s.Overrides != nil {
		out.Overrides = make(map[string]Payload, len(s.Overrides))
		for k, v := range s.Overrides {
			out.Overrides[k] = v.Clone()
		}
	}
	out.Pause = s.Pause.Clone()
	return &out
}

// PayloadFor returns the payload to announce for node, honoring overrides.
func (s *Snapshot) PayloadFor(node Node) Payload {
	if p, ok := s.Overrides[node.ID]; ok {
		return p.Clone()
	}
	return node.Payload.Clone()
}

// PushHistory appends a node id, evicting the oldest entries beyond limit.
// A limit <= 0 disables eviction.
func (s *Snapshot) PushHistory(nodeID string, limit int) {
	s.History = append(s.History, nodeID)
	if limit > 0 && len(s.History) > limit {
		drop := len(s.History) - limit
		s.History = append([]string{}, s.History[drop:]...)
		s.HistoryEvicted += drop
	}
}
