package decorator

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// Registry maps decorator types to their behavior.
// It is meant to be populated at process start and frozen before instances run.
type Registry struct {
	mu        sync.RWMutex
	behaviors map[string]Behavior
	frozen    bool
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		behaviors: make(map[string]Behavior),
	}
}

// Register adds a behavior to the registry.
// If a behavior with the same type exists, it is overwritten.
func (r *Registry) Register(typ string, b Behavior) error {
	if typ == "" {
		return fmt.Errorf("decorator type is required")
	}
	switch b.Kind {
	case domain.KindCondition:
		if b.Evaluate == nil {
			return fmt.Errorf("condition decorator %q needs an Evaluate func", typ)
		}
	case domain.KindEvent, domain.KindModifier:
		if b.Execute == nil {
			return fmt.Errorf("%s decorator %q needs an Execute func", b.Kind, typ)
		}
	default:
		return fmt.Errorf("decorator %q has unknown kind %q", typ, b.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %q: %w", typ, domain.ErrRegistryFrozen)
	}
	r.behaviors[typ] = b
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(typ string, b Behavior) {
	if err := r.Register(typ, b); err != nil {
		panic(err)
	}
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the behavior registered for typ.
func (r *Registry) Lookup(typ string) (Behavior, bool) {
	r.mu.RLock()
	b, ok := r.behaviors[typ]
	r.mu.RUnlock()
	return b, ok
}

// Types lists the registered decorator types in lexical order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.behaviors))
	for t := range r.behaviors {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Resolve checks a decorator against the registry and returns its effective kind.
// An empty kind on the decorator is filled from the registered behavior.
func (r *Registry) Resolve(d domain.Decorator) (domain.DecoratorKind, error) {
	b, ok := r.Lookup(d.Type)
	if !ok {
		return "", fmt.Errorf("decorator type not found: %s", d.Type)
	}
	if d.Kind != "" && d.Kind != b.Kind {
		return "", fmt.Errorf("decorator %s declares kind %q but type %s is %q", d.ID, d.Kind, d.Type, b.Kind)
	}
	if b.Validate != nil {
		if err := b.Validate(d.Config); err != nil {
			return "", fmt.Errorf("decorator %s (%s): %w", d.ID, d.Type, err)
		}
	}
	return b.Kind, nil
}

// Evaluate looks up a condition decorator by type and evaluates it.
func (r *Registry) Evaluate(ctx context.Context, view View, target Target) (Verdict, error) {
	b, ok := r.Lookup(target.Decorator.Type)
	if !ok {
		return Deny, fmt.Errorf("decorator type not found: %s", target.Decorator.Type)
	}
	if b.Kind != domain.KindCondition {
		return Deny, fmt.Errorf("decorator %s is %s, not a condition", target.Decorator.ID, b.Kind)
	}
	return b.Evaluate(ctx, view, target, target.Decorator.Config)
}

// Execute looks up an event or modifier decorator by type and executes it.
func (r *Registry) Execute(ctx context.Context, scope Scope, target Target) error {
	b, ok := r.Lookup(target.Decorator.Type)
	if !ok {
		return fmt.Errorf("decorator type not found: %s", target.Decorator.Type)
	}
	if b.Execute == nil {
		return fmt.Errorf("decorator %s is %s and cannot be executed", target.Decorator.ID, b.Kind)
	}
	return b.Execute(ctx, scope, target, target.Decorator.Config)
}
