package runtime

import (
	"github.com/aretw0/parley/pkg/decorator"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/participant"
)

var (
	_ decorator.View  = (*view)(nil)
	_ decorator.Scope = (*stage)(nil)
)

// view is the read-only face handed to condition decorators.
type view struct {
	state *domain.Snapshot
	parts *participant.Registry
}

func (v *view) InstanceID() string    { return v.state.InstanceID }
func (v *view) CurrentNodeID() string { return v.state.CurrentNodeID }

func (v *view) Visits(nodeID string) int {
	return v.state.Visits[nodeID]
}

func (v *view) Var(key string) (any, bool) {
	val, ok := v.state.Vars[key]
	return val, ok
}

func (v *view) State(decoratorID string) []byte {
	return v.state.DecoratorState[decoratorID]
}

func (v *view) Participant(role domain.Role) (domain.Participant, bool) {
	return v.parts.ByRole(role)
}

// stage collects the mutations of event and modifier decorators on a copy of
// the instance. Nothing reaches the instance until apply is called.
type stage struct {
	view
	commands []domain.Command
}

func newStage(in *instance) *stage {
	return &stage{view: view{state: in.state.Clone(), parts: in.parts.Clone()}}
}

func (s *stage) SetVar(key string, value any) {
	s.state.Vars[key] = value
}

func (s *stage) DeleteVar(key string) {
	delete(s.state.Vars, key)
}

func (s *stage) SetState(decoratorID string, blob []byte) {
	if s.state.DecoratorState == nil {
		s.state.DecoratorState = make(map[string][]byte)
	}
	s.state.DecoratorState[decoratorID] = append([]byte(nil), blob...)
}

func (s *stage) Emit(cmd domain.Command) {
	s.commands = append(s.commands, cmd)
}

func (s *stage) SaveEntryNode(nodeID string) {
	s.state.EntryNodeID = nodeID
}

func (s *stage) OverridePayload(nodeID string, p *domain.Payload) {
	if p == nil {
		delete(s.state.Overrides, nodeID)
		return
	}
	if s.state.Overrides == nil {
		s.state.Overrides = make(map[string]domain.Payload)
	}
	s.state.Overrides[nodeID] = p.Clone()
}

func (s *stage) SwapParticipants(a, b domain.Role) error {
	return s.parts.Swap(a, b)
}

// apply commits the staged state and queues the emitted commands.
func (s *stage) apply(in *instance) {
	s.state.Participants = s.parts.Records()
	in.state = s.state
	in.parts = s.parts
	for i := range s.commands {
		cmd := s.commands[i]
		in.emit(domain.Event{
			Type:        domain.EventCommand,
			NodeID:      cmd.NodeID,
			DecoratorID: cmd.DecoratorID,
			Command:     &cmd,
		})
	}
}
