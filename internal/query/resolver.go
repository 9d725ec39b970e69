package query

import (
	"time"

	"github.com/clincohort/cohort-explorer/internal/hierarchy"
	"github.com/clincohort/cohort-explorer/internal/index"
	"github.com/clincohort/cohort-explorer/internal/patientset"
)

// Resolver turns one TermDescriptor into the matching patient set.
type Resolver struct {
	store *index.Store
	hier  *hierarchy.Resolver
	now   func() time.Time
}

// NewResolver creates a Resolver. now is only consulted for relative time
// windows; pass nil for time.Now.
func NewResolver(store *index.Store, hier *hierarchy.Resolver, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: store, hier: hier, now: now}
}

// Resolve produces the patient set for a term. An unknown concept id resolves
// to the empty set (or the full universe under Without polarity).
func (r *Resolver) Resolve(term TermDescriptor) *patientset.Set {
	base := []index.ConceptID{term.ConceptID}
	if term.ExpandChildren {
		base = r.hier.Descendants(term.ConceptID)
	}

	var matched *patientset.Set
	if term.Window.Active() {
		matched = r.resolveWindowed(base, term.Window)
	} else {
		matched = patientset.New()
		for _, id := range base {
			matched.Or(r.store.Postings(id))
		}
	}

	if term.Polarity == Without {
		return matched.Complement(r.store.AllPatients())
	}
	return matched
}

// resolveWindowed keeps only patients with a mention timestamp satisfying the
// window. Mentions without a recorded timestamp never match.
func (r *Resolver) resolveWindowed(base []index.ConceptID, window *TimeFilter) *patientset.Set {
	now := r.now().Unix()
	matched := patientset.New()
	for _, id := range base {
		for patient, tsp := range r.store.Timestamps(id) {
			if window.Matches(tsp, now) {
				matched.Add(patient)
			}
		}
	}
	return matched
}
