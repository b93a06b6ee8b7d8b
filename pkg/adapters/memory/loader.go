package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/aretw0/parley/pkg/graph"
	"github.com/aretw0/parley/pkg/ports"
)

var _ ports.GraphLoader = (*Loader)(nil)

// Loader implements ports.GraphLoader over drafts held in memory.
type Loader struct {
	mu     sync.RWMutex
	drafts map[string]graph.Draft
}

// NewLoader creates a loader holding the given drafts.
func NewLoader(drafts ...graph.Draft) (*Loader, error) {
	l := &Loader{drafts: make(map[string]graph.Draft, len(drafts))}
	for _, d := range drafts {
		if err := l.Put(d); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Put adds or replaces a draft.
func (l *Loader) Put(d graph.Draft) error {
	if d.ID == "" {
		return fmt.Errorf("draft missing ID")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drafts[d.ID] = d.Clone()
	return nil
}

// Load returns copies of every draft in id order.
func (l *Loader) Load(_ context.Context) ([]graph.Draft, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.drafts))
	for id := range l.drafts {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]graph.Draft, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.drafts[id].Clone())
	}
	return out, nil
}
