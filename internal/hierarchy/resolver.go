// Package hierarchy computes reflexive-transitive descendant closures over
// the concept parent→children relation.
package hierarchy

import (
	"sync"

	"github.com/clincohort/cohort-explorer/internal/index"
)

// Resolver expands a concept id to the set of all its descendants, itself
// included. The edge relation is immutable, so closures are memoized per
// concept id.
type Resolver struct {
	store *index.Store

	mu    sync.RWMutex
	cache map[index.ConceptID][]index.ConceptID
}

// NewResolver creates a Resolver over the store's hierarchy edges.
func NewResolver(store *index.Store) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[index.ConceptID][]index.ConceptID),
	}
}

// Descendants returns the reflexive-transitive closure of id over the
// parent→children relation. The returned slice is shared; callers must not
// mutate it. Cycles in the edge relation terminate because frontier re-visits
// are set no-ops.
func (r *Resolver) Descendants(id index.ConceptID) []index.ConceptID {
	r.mu.RLock()
	if cached, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return cached
	}
	r.mu.RUnlock()

	closure := r.expand(id)

	r.mu.Lock()
	r.cache[id] = closure
	r.mu.Unlock()
	return closure
}

// expand runs a breadth-first fixed point from {id}, unioning in each
// frontier member's direct children until the set stops growing.
func (r *Resolver) expand(id index.ConceptID) []index.ConceptID {
	seen := map[index.ConceptID]struct{}{id: {}}
	frontier := []index.ConceptID{id}
	closure := []index.ConceptID{id}
	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, member := range frontier {
			for _, child := range r.store.Children(member) {
				if _, ok := seen[child]; ok {
					continue
				}
				seen[child] = struct{}{}
				closure = append(closure, child)
				next = append(next, child)
			}
		}
		frontier = next
	}
	return closure
}
