package participant

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/aretw0/parley/pkg/domain"
)

// Handle is an Actor whose liveness is controlled explicitly by its owner.
type Handle struct {
	id       string
	released atomic.Bool
}

// NewHandle creates a live handle.
func NewHandle(id string) *Handle {
	return &Handle{id: id}
}

func (h *Handle) ActorID() string { return h.id }
func (h *Handle) Alive() bool     { return !h.released.Load() }

// Release marks the actor as gone. Instances referencing it abort with
// ParticipantLost at their next step boundary.
func (h *Handle) Release() {
	h.released.Store(true)
}

// Weak adapts a garbage-collected object into an Actor without keeping it alive.
// The actor is considered lost once the object has been collected.
type Weak[T any] struct {
	id  string
	ptr weak.Pointer[T]
}

// NewWeak creates a weak actor reference to obj.
func NewWeak[T any](id string, obj *T) *Weak[T] {
	return &Weak[T]{id: id, ptr: weak.Make(obj)}
}

func (w *Weak[T]) ActorID() string { return w.id }
func (w *Weak[T]) Alive() bool     { return w.ptr.Value() != nil }

// Value returns the referenced object, or nil once it has been collected.
func (w *Weak[T]) Value() *T {
	return w.ptr.Value()
}

// Directory resolves actor ids to handles for transports that only carry ids.
type Directory struct {
	mu     sync.Mutex
	actors map[string]*Handle
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{actors: make(map[string]*Handle)}
}

// Get returns the live handle for id, creating a new one if the id is
// unknown or was released.
func (d *Directory) Get(id string) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.actors[id]
	if !ok || !h.Alive() {
		h = NewHandle(id)
		d.actors[id] = h
	}
	return h
}

// Release releases the handle for id. It reports whether the id was known.
func (d *Directory) Release(id string) bool {
	d.mu.Lock()
	h, ok := d.actors[id]
	delete(d.actors, id)
	d.mu.Unlock()
	if ok {
		h.Release()
	}
	return ok
}

// Resolve turns serialized participant records into participants bound to handles.
func (d *Directory) Resolve(records []domain.ParticipantRecord) []domain.Participant {
	out := make([]domain.Participant, 0, len(records))
	for _, r := range records {
		out = append(out, domain.Participant{
			Role:          r.Role,
			Actor:         d.Get(r.ActorID),
			Authoritative: r.Authoritative,
		})
	}
	return out
}
