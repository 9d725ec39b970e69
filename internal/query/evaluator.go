package query

import (
	"net/http"

	"github.com/clincohort/cohort-explorer/internal/patientset"
	apperrors "github.com/clincohort/cohort-explorer/pkg/errors"
)

// Evaluation is the result of combining a term sequence.
type Evaluation struct {
	// Cohort is the combined patient set.
	Cohort *patientset.Set
	// TermSizes holds each term's individually-resolved cardinality, for UI
	// display only; it carries no filtering effect.
	TermSizes []int
}

// Evaluate resolves every term and combines the sets. Connectors carry no
// precedence: the sequence is split into maximal AND-runs at each "or", each
// run is intersected, and the runs are unioned. An empty sequence yields the
// full patient universe.
func Evaluate(resolver *Resolver, terms []TermDescriptor, connectors []Connector) (*Evaluation, error) {
	if len(terms) == 0 {
		if len(connectors) != 0 {
			return nil, apperrors.New(apperrors.ErrMalformedQuery, http.StatusBadRequest, "connectors without terms")
		}
		return &Evaluation{Cohort: resolver.store.AllPatients().Clone()}, nil
	}
	if len(connectors) != len(terms)-1 {
		return nil, apperrors.Newf(apperrors.ErrMalformedQuery, http.StatusBadRequest,
			"%d terms require %d connectors, got %d", len(terms), len(terms)-1, len(connectors))
	}

	sizes := make([]int, len(terms))
	var runs []*patientset.Set
	var andRun []*patientset.Set
	for i, term := range terms {
		set := resolver.Resolve(term)
		sizes[i] = set.Cardinality()
		andRun = append(andRun, set)
		// An "or" closes the current AND-run; "and" extends it.
		if i < len(connectors) && connectors[i] == Or {
			runs = append(runs, patientset.Intersect(andRun...))
			andRun = nil
		}
	}
	runs = append(runs, patientset.Intersect(andRun...))

	return &Evaluation{
		Cohort:    patientset.Union(runs...),
		TermSizes: sizes,
	}, nil
}
