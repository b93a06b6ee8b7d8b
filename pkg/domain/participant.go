package domain

// Role identifies how a participant takes part in a dialogue.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
	RoleObserver  Role = "observer"
)

// Actor is the back-reference to an externally owned entity taking part in a dialogue.
// The runtime never controls the actor's lifetime; it only asks whether it is still alive.
type Actor interface {
	ActorID() string
	Alive() bool
}

// Participant binds a role to an actor for the lifetime of one instance.
type Participant struct {
	Role  Role
	Actor Actor

	// Authoritative marks the participant that owns the traversal.
	// Mirrored participants only receive replicated frames.
	Authoritative bool
}

// ParticipantRecord is the serializable view of a Participant.
type ParticipantRecord struct {
	Role          Role   `json:"role"`
	ActorID       string `json:"actor_id"`
	Authoritative bool   `json:"authoritative,omitempty"`
}
