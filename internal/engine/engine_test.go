package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clincohort/cohort-explorer/internal/aggregate"
	"github.com/clincohort/cohort-explorer/internal/engine"
	"github.com/clincohort/cohort-explorer/internal/facet"
	"github.com/clincohort/cohort-explorer/internal/index"
	"github.com/clincohort/cohort-explorer/internal/index/indextest"
	"github.com/clincohort/cohort-explorer/internal/query"
	"github.com/clincohort/cohort-explorer/internal/session"
	apperrors "github.com/clincohort/cohort-explorer/pkg/errors"
)

// newEngine loads a snapshot with four patients over two concepts:
//
//	diabetes (C1):     P000 P001 P003
//	hypertension (C2): P001 P002
func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	store := indextest.Build(t, indextest.Fixture{
		Concepts: []index.Concept{
			{Code: "C1", Display: "Diabetes mellitus (disorder)"},
			{Code: "C2", Display: "Hypertension (disorder)"},
		},
		Mentions: map[string]map[string]int{
			"C1": indextest.Mention("P000", "P001", "P003"),
			"C2": indextest.Mention("P001", "P002"),
		},
		Sex: map[string]string{
			"P000": "Male", "P001": "Female", "P002": "Male", "P003": "Female",
		},
		Age: map[string]float64{
			"P000": 10, "P001": 30, "P002": 50, "P003": 70,
		},
	})
	return engine.New(store, session.NewCache(nil), 0, nil)
}

func term(e *engine.Engine, code string) query.TermDescriptor {
	return query.TermDescriptor{ConceptID: e.ConceptIDByCode(code)}
}

func TestEvaluateCohort(t *testing.T) {
	e := newEngine(t)

	res, err := e.EvaluateCohort(context.Background(), engine.CohortRequest{
		SessionID:  "s1",
		Terms:      []query.TermDescriptor{term(e, "C1"), term(e, "C2")},
		Connectors: []query.Connector{query.Or},
		Facets:     facet.Everything(),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Size)
	assert.Equal(t, []int{3, 2}, res.TermSizes)
}

func TestEvaluateCohortAppliesFacets(t *testing.T) {
	e := newEngine(t)

	sel := facet.Everything()
	sel.Sex = facet.SexSelection{Female: true}
	res, err := e.EvaluateCohort(context.Background(), engine.CohortRequest{
		SessionID: "s1",
		Terms:     []query.TermDescriptor{term(e, "C1")},
		Facets:    sel,
	})
	require.NoError(t, err)
	// C1 matches P000, P001, P003; the female facet keeps P001 and P003.
	assert.Equal(t, 2, res.Size)
}

func TestEvaluateCohortEmptyQueryIsUniverse(t *testing.T) {
	e := newEngine(t)

	res, err := e.EvaluateCohort(context.Background(), engine.CohortRequest{
		SessionID: "s1",
		Facets:    facet.Everything(),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Size)
	assert.Equal(t, []int{}, res.TermSizes)
}

func TestEvaluateCohortMalformedSequence(t *testing.T) {
	e := newEngine(t)

	_, err := e.EvaluateCohort(context.Background(), engine.CohortRequest{
		SessionID:  "s1",
		Terms:      []query.TermDescriptor{term(e, "C1")},
		Connectors: []query.Connector{query.And},
		Facets:     facet.Everything(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedQuery))
}

func TestAggregatesRequirePriorQuery(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.FacetCounts(ctx, "nope", facet.AgeSelection{})
	assert.True(t, errors.Is(err, apperrors.ErrNoCohort))

	_, err = e.AgeHistogram(ctx, "nope")
	assert.True(t, errors.Is(err, apperrors.ErrNoCohort))

	_, _, err = e.TopConcepts(ctx, "nope")
	assert.True(t, errors.Is(err, apperrors.ErrNoCohort))

	_, err = e.CompareConcepts(ctx, "nope", nil)
	assert.True(t, errors.Is(err, apperrors.ErrNoCohort))
}

func TestAggregatesOverCachedCohort(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.EvaluateCohort(ctx, engine.CohortRequest{
		SessionID: "s1",
		Terms:     []query.TermDescriptor{term(e, "C1")},
		Facets:    facet.Everything(),
	})
	require.NoError(t, err)

	counts, err := e.FacetCounts(ctx, "s1", facet.AgeSelection{})
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Sex.All)
	assert.Equal(t, 1, counts.Sex.Male)
	assert.Equal(t, 2, counts.Sex.Female)

	bins, err := e.AgeHistogram(ctx, "s1")
	require.NoError(t, err)
	total := 0
	for _, n := range bins {
		total += n
	}
	assert.Equal(t, 3, total)

	groups, top, err := e.TopConcepts(ctx, "s1")
	require.NoError(t, err)
	require.NotEmpty(t, groups)
	assert.Equal(t, "disorder", groups[0].Name)
	require.Len(t, top, 2)
	assert.Equal(t, aggregate.ConceptCount{Display: "Diabetes mellitus (disorder)", Count: 3}, top[0])

	results, err := e.CompareConcepts(ctx, "s1", []aggregate.ComparisonTerm{
		{ConceptID: e.ConceptIDByCode("C2"), Label: "Hypertension (disorder)"},
	})
	require.NoError(t, err)
	assert.Equal(t, []aggregate.ComparisonCount{{Label: "Hypertension (disorder)", Count: 1}}, results)
}

func TestReEvaluationOverwritesSession(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.EvaluateCohort(ctx, engine.CohortRequest{
		SessionID: "s1",
		Terms:     []query.TermDescriptor{term(e, "C1")},
		Facets:    facet.Everything(),
	})
	require.NoError(t, err)

	_, err = e.EvaluateCohort(ctx, engine.CohortRequest{
		SessionID: "s1",
		Terms:     []query.TermDescriptor{term(e, "C2")},
		Facets:    facet.Everything(),
	})
	require.NoError(t, err)

	counts, err := e.FacetCounts(ctx, "s1", facet.AgeSelection{})
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Sex.All)
}

func TestRemoveSession(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.EvaluateCohort(ctx, engine.CohortRequest{
		SessionID: "s1",
		Facets:    facet.Everything(),
	})
	require.NoError(t, err)

	e.RemoveSession("s1")
	_, err = e.AgeHistogram(ctx, "s1")
	assert.True(t, errors.Is(err, apperrors.ErrNoCohort))

	// Removing twice is a no-op.
	e.RemoveSession("s1")
}

func TestSearchConcepts(t *testing.T) {
	e := newEngine(t)

	matches := e.SearchConcepts(context.Background(), "diab", 10)
	require.Len(t, matches, 1)
	assert.Equal(t, "C1", matches[0].Code)
	assert.Equal(t, "<b>Diab</b>etes mellitus (disorder)", matches[0].Highlight)
}

func TestConceptIDByCode(t *testing.T) {
	e := newEngine(t)
	assert.Equal(t, 0, e.ConceptIDByCode("C1"))
	assert.Equal(t, -1, e.ConceptIDByCode("missing"))
}
