// Package engine wires the cohort pipeline together: query evaluation, facet
// filtering, the session cache, and the aggregate reads over cached cohorts.
// It is the in-process API the transport layer calls.
package engine

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/clincohort/cohort-explorer/internal/aggregate"
	"github.com/clincohort/cohort-explorer/internal/facet"
	"github.com/clincohort/cohort-explorer/internal/hierarchy"
	"github.com/clincohort/cohort-explorer/internal/index"
	"github.com/clincohort/cohort-explorer/internal/patientset"
	"github.com/clincohort/cohort-explorer/internal/query"
	"github.com/clincohort/cohort-explorer/internal/session"
	"github.com/clincohort/cohort-explorer/internal/terms"
	apperrors "github.com/clincohort/cohort-explorer/pkg/errors"
	"github.com/clincohort/cohort-explorer/pkg/metrics"
)

// Engine exposes the seven logical cohort operations over the loaded index.
type Engine struct {
	store    *index.Store
	hier     *hierarchy.Resolver
	terms    *terms.Index
	resolver *query.Resolver
	cache    *session.Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New builds an Engine over a loaded store. m may be nil to disable metrics.
func New(store *index.Store, cache *session.Cache, maxCandidates int, m *metrics.Metrics) *Engine {
	hier := hierarchy.NewResolver(store)
	return &Engine{
		store:    store,
		hier:     hier,
		terms:    terms.NewIndex(store, maxCandidates),
		resolver: query.NewResolver(store, hier, nil),
		cache:    cache,
		metrics:  m,
		logger:   slog.Default().With("component", "engine"),
	}
}

// Store returns the underlying index store.
func (e *Engine) Store() *index.Store {
	return e.store
}

// ConceptIDByCode resolves an external concept code, returning -1 when the
// code is unknown; downstream resolution then yields the empty set.
func (e *Engine) ConceptIDByCode(code string) index.ConceptID {
	if id, ok := e.store.ConceptIDByCode(code); ok {
		return id
	}
	return -1
}

// CohortRequest is one cohort evaluation: a validated term sequence plus the
// facet selections to apply to the combined set.
type CohortRequest struct {
	SessionID  string
	Terms      []query.TermDescriptor
	Connectors []query.Connector
	Facets     facet.Selection
}

// CohortResult reports the evaluated cohort's size and each term's individual
// cardinality.
type CohortResult struct {
	Size      int   `json:"all"`
	TermSizes []int `json:"individual"`
}

// EvaluateCohort evaluates the term sequence, narrows by facets, and caches
// the result under the request's session id, overwriting any prior entry.
func (e *Engine) EvaluateCohort(ctx context.Context, req CohortRequest) (*CohortResult, error) {
	start := time.Now()

	eval, err := query.Evaluate(e.resolver, req.Terms, req.Connectors)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CohortEvaluations.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	cohort := facet.Apply(e.store, eval.Cohort, req.Facets)
	e.cache.Put(req.SessionID, cohort)

	size := cohort.Cardinality()
	if e.metrics != nil {
		outcome := "ok"
		if size == 0 {
			outcome = "empty"
		}
		e.metrics.CohortEvaluations.WithLabelValues(outcome).Inc()
		e.metrics.CohortEvalDuration.Observe(time.Since(start).Seconds())
		e.metrics.CohortSize.Observe(float64(size))
		e.metrics.SessionEntries.Set(float64(e.cache.Len()))
	}
	e.logger.Info("cohort evaluated",
		"session", req.SessionID,
		"terms", len(req.Terms),
		"size", size,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	sizes := eval.TermSizes
	if sizes == nil {
		sizes = []int{}
	}
	return &CohortResult{Size: size, TermSizes: sizes}, nil
}

// cohort fetches the cached set for a session or reports the distinct
// no-prior-query condition.
func (e *Engine) cohort(sessionID string) (*patientset.Set, error) {
	set, ok := e.cache.Get(sessionID)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNoCohort, http.StatusNotFound, "session %q", sessionID)
	}
	return set, nil
}

// FacetCounts counts cached cohort members per facet sub-value. ageSel
// carries the custom age bucket bounds from the request.
func (e *Engine) FacetCounts(ctx context.Context, sessionID string, ageSel facet.AgeSelection) (aggregate.FacetCounts, error) {
	cohort, err := e.cohort(sessionID)
	if err != nil {
		return aggregate.FacetCounts{}, err
	}
	if e.metrics != nil {
		e.metrics.AggregateRequests.WithLabelValues("facets").Inc()
	}
	return aggregate.Facets(e.store, cohort, ageSel), nil
}

// AgeHistogram returns the 11-bin alive-member age histogram for the cached
// cohort.
func (e *Engine) AgeHistogram(ctx context.Context, sessionID string) ([]int, error) {
	cohort, err := e.cohort(sessionID)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.AggregateRequests.WithLabelValues("age").Inc()
	}
	return aggregate.AgeHistogram(e.store, cohort), nil
}

// TopConcepts returns the semantic-type treemap and the flat top ranking for
// the cached cohort.
func (e *Engine) TopConcepts(ctx context.Context, sessionID string) ([]aggregate.TypeGroup, []aggregate.ConceptCount, error) {
	cohort, err := e.cohort(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if e.metrics != nil {
		e.metrics.AggregateRequests.WithLabelValues("top_concepts").Inc()
	}
	groups, top := aggregate.TopConcepts(e.store, cohort)
	return groups, top, nil
}

// CompareConcepts counts cached cohort members per reference concept.
func (e *Engine) CompareConcepts(ctx context.Context, sessionID string, comparisons []aggregate.ComparisonTerm) ([]aggregate.ComparisonCount, error) {
	cohort, err := e.cohort(sessionID)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.AggregateRequests.WithLabelValues("compare").Inc()
	}
	return aggregate.Compare(e.store, e.hier, cohort, comparisons), nil
}

// SearchConcepts runs the autocomplete index over free text.
func (e *Engine) SearchConcepts(ctx context.Context, text string, limit int) []terms.Match {
	start := time.Now()
	matches := e.terms.Search(text, limit)
	if e.metrics != nil {
		e.metrics.AutocompleteDuration.Observe(time.Since(start).Seconds())
	}
	return matches
}

// RemoveSession drops a session's cached cohort.
func (e *Engine) RemoveSession(sessionID string) {
	e.cache.Remove(sessionID)
	if e.metrics != nil {
		e.metrics.SessionEntries.Set(float64(e.cache.Len()))
	}
}
