// Package participant tracks the actors engaged in a dialogue instance and their roles.
package participant

import (
	"fmt"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// Registry maps roles to actors for the lifetime of one dialogue instance.
// It only holds back-references; actor lifetime is owned by the caller.
type Registry struct {
	mu    sync.RWMutex
	parts []domain.Participant
}

// NewRegistry validates the participant set and builds a registry.
// It requires exactly one initiator, at least one responder, a non-nil
// actor for every participant and unique actor ids.
func NewRegistry(parts []domain.Participant) (*Registry, error) {
	if err := Validate(parts); err != nil {
		return nil, err
	}
	return &Registry{parts: append([]domain.Participant(nil), parts...)}, nil
}

// Validate checks the role constraints of a participant set.
func Validate(parts []domain.Participant) error {
	initiators, responders := 0, 0
	seen := make(map[string]bool, len(parts))

	for i, p := range parts {
		if p.Actor == nil {
			return fmt.Errorf("participant #%d (%s) has no actor: %w", i, p.Role, domain.ErrInvalidParticipants)
		}
		id := p.Actor.ActorID()
		if seen[id] {
			return fmt.Errorf("actor %q joined twice: %w", id, domain.ErrInvalidParticipants)
		}
		seen[id] = true

		switch p.Role {
		case domain.RoleInitiator:
			initiators++
		case domain.RoleResponder:
			responders++
		case domain.RoleObserver:
		default:
			return fmt.Errorf("participant %q has unknown role %q: %w", id, p.Role, domain.ErrInvalidParticipants)
		}
	}

	if initiators != 1 {
		return fmt.Errorf("want exactly one initiator, got %d: %w", initiators, domain.ErrInvalidParticipants)
	}
	if responders < 1 {
		return fmt.Errorf("want at least one responder: %w", domain.ErrInvalidParticipants)
	}
	return nil
}

// ByRole returns the first participant holding role.
func (r *Registry) ByRole(role domain.Role) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.parts {
		if p.Role == role {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// AllByRole returns every participant holding role, in join order.
func (r *Registry) AllByRole(role domain.Role) []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Participant
	for _, p := range r.parts {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// ByActor returns the participant bound to the actor id.
func (r *Registry) ByActor(actorID string) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.parts {
		if p.Actor.ActorID() == actorID {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// Lost returns the first participant whose actor is no longer alive.
func (r *Registry) Lost() (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.parts {
		if !p.Actor.Alive() {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// Swap exchanges the actors bound to the first holders of roles a and b.
func (r *Registry) Swap(a, b domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ia, ib := -1, -1
	for i, p := range r.parts {
		if ia < 0 && p.Role == a {
			ia = i
		} else if ib < 0 && p.Role == b {
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		return fmt.Errorf("cannot swap %s and %s: role not present", a, b)
	}
	r.parts[ia].Actor, r.parts[ib].Actor = r.parts[ib].Actor, r.parts[ia].Actor
	r.parts[ia].Authoritative, r.parts[ib].Authoritative = r.parts[ib].Authoritative, r.parts[ia].Authoritative
	return nil
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Registry{parts: append([]domain.Participant(nil), r.parts...)}
}

// All returns the participants in join order.
func (r *Registry) All() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Participant(nil), r.parts...)
}

// Records returns the serializable view of the participants.
func (r *Registry) Records() []domain.ParticipantRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ParticipantRecord, 0, len(r.parts))
	for _, p := range r.parts {
		out = append(out, domain.ParticipantRecord{
			Role:          p.Role,
			ActorID:       p.Actor.ActorID(),
			Authoritative: p.Authoritative,
		})
	}
	return out
}
