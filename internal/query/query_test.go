package query_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clincohort/cohort-explorer/internal/hierarchy"
	"github.com/clincohort/cohort-explorer/internal/index"
	"github.com/clincohort/cohort-explorer/internal/index/indextest"
	"github.com/clincohort/cohort-explorer/internal/query"
	apperrors "github.com/clincohort/cohort-explorer/pkg/errors"
)

// fixedNow is the reference clock for every window test.
var fixedNow = time.Unix(1_700_000_000, 0)

const yearSeconds = 60 * 60 * 24 * 365

// buildResolver loads a four-concept, five-patient snapshot:
//
//	X (parent of Y; Y parent of Z)   P000 P001
//	Y                                P002
//	Z                                P003
//	W                                P004
//
// X mentions carry timestamps: P000 three years back, P001 eight years back.
func buildResolver(t *testing.T) (*index.Store, *query.Resolver) {
	t.Helper()
	ages := map[string]float64{}
	for _, code := range indextest.Codes(5) {
		ages[code] = 30
	}
	store := indextest.Build(t, indextest.Fixture{
		Concepts: []index.Concept{
			{Code: "X", Display: "X (disorder)"},
			{Code: "Y", Display: "Y (disorder)"},
			{Code: "Z", Display: "Z (disorder)"},
			{Code: "W", Display: "W (disorder)"},
		},
		Hierarchy: map[string][]string{"X": {"Y"}, "Y": {"Z"}},
		Mentions: map[string]map[string]int{
			"X": indextest.Mention("P000", "P001"),
			"Y": indextest.Mention("P002"),
			"Z": indextest.Mention("P003"),
			"W": indextest.Mention("P004"),
		},
		Timestamps: map[string]map[string]int64{
			"X": {
				"P000": fixedNow.Unix() - 3*yearSeconds,
				"P001": fixedNow.Unix() - 8*yearSeconds,
			},
		},
		Age: ages,
	})
	resolver := query.NewResolver(store, hierarchy.NewResolver(store), func() time.Time { return fixedNow })
	return store, resolver
}

func conceptID(t *testing.T, store *index.Store, code string) int {
	t.Helper()
	id, ok := store.ConceptIDByCode(code)
	require.True(t, ok, "concept %s", code)
	return id
}

func TestResolvePlainTerm(t *testing.T) {
	store, resolver := buildResolver(t)

	set := resolver.Resolve(query.TermDescriptor{ConceptID: conceptID(t, store, "Y")})
	assert.Equal(t, []uint32{2}, set.ToSlice())
}

func TestResolveExpandsChildren(t *testing.T) {
	store, resolver := buildResolver(t)

	set := resolver.Resolve(query.TermDescriptor{
		ConceptID:      conceptID(t, store, "X"),
		ExpandChildren: true,
	})
	// X plus descendants Y and Z, but not W.
	assert.Equal(t, []uint32{0, 1, 2, 3}, set.ToSlice())
}

func TestResolveWithoutComplements(t *testing.T) {
	store, resolver := buildResolver(t)

	with := resolver.Resolve(query.TermDescriptor{ConceptID: conceptID(t, store, "W")})
	without := resolver.Resolve(query.TermDescriptor{
		ConceptID: conceptID(t, store, "W"),
		Polarity:  query.Without,
	})

	assert.Equal(t, store.PatientCount(), with.Cardinality()+without.Cardinality())
	assert.True(t, with.Complement(store.AllPatients()).Equals(without))
}

func TestResolveUnknownConcept(t *testing.T) {
	store, resolver := buildResolver(t)

	assert.True(t, resolver.Resolve(query.TermDescriptor{ConceptID: -1}).IsEmpty())

	everyone := resolver.Resolve(query.TermDescriptor{ConceptID: -1, Polarity: query.Without})
	assert.Equal(t, store.PatientCount(), everyone.Cardinality())
}

func TestResolveWindowKeepsRecentMentions(t *testing.T) {
	store, resolver := buildResolver(t)

	set := resolver.Resolve(query.TermDescriptor{
		ConceptID: conceptID(t, store, "X"),
		Window:    &query.TimeFilter{Last5y: true},
	})
	// P000 was mentioned three years ago, P001 eight.
	assert.Equal(t, []uint32{0}, set.ToSlice())

	set = resolver.Resolve(query.TermDescriptor{
		ConceptID: conceptID(t, store, "X"),
		Window:    &query.TimeFilter{Last10y: true},
	})
	assert.Equal(t, []uint32{0, 1}, set.ToSlice())
}

func TestResolveWindowDropsUntimestampedMentions(t *testing.T) {
	store, resolver := buildResolver(t)

	// Y has a mention but no recorded timestamp, so any active window
	// excludes it entirely.
	set := resolver.Resolve(query.TermDescriptor{
		ConceptID: conceptID(t, store, "Y"),
		Window:    &query.TimeFilter{Last10y: true},
	})
	assert.True(t, set.IsEmpty())
}

func TestResolveWindowCustomRange(t *testing.T) {
	store, resolver := buildResolver(t)
	x := conceptID(t, store, "X")

	set := resolver.Resolve(query.TermDescriptor{
		ConceptID: x,
		Window: &query.TimeFilter{
			Custom: true,
			HasMax: true, Max: fixedNow.Unix() - 5*yearSeconds,
		},
	})
	assert.Equal(t, []uint32{1}, set.ToSlice())

	// Custom mode with neither bound matches nothing.
	set = resolver.Resolve(query.TermDescriptor{
		ConceptID: x,
		Window:    &query.TimeFilter{Custom: true},
	})
	assert.True(t, set.IsEmpty())
}

func TestTimeFilterModesAreORed(t *testing.T) {
	f := &query.TimeFilter{
		Last5y: true,
		Custom: true,
		HasMin: true, Min: 0,
		HasMax: true, Max: 1000,
	}
	now := fixedNow.Unix()

	assert.True(t, f.Matches(now-yearSeconds, now), "recent mention matches last-5y")
	assert.True(t, f.Matches(500, now), "ancient mention matches custom range")
	assert.False(t, f.Matches(now-7*yearSeconds, now))
}

func TestTimeFilterInactive(t *testing.T) {
	var f *query.TimeFilter
	assert.False(t, f.Active())
	assert.False(t, (&query.TimeFilter{}).Active())
	assert.True(t, (&query.TimeFilter{Last5y: true}).Active())
}

func TestEvaluateEmptySequence(t *testing.T) {
	store, resolver := buildResolver(t)

	eval, err := query.Evaluate(resolver, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, store.PatientCount(), eval.Cohort.Cardinality())
}

func TestEvaluateSingleTerm(t *testing.T) {
	store, resolver := buildResolver(t)

	eval, err := query.Evaluate(resolver, []query.TermDescriptor{
		{ConceptID: conceptID(t, store, "X")},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, eval.Cohort.ToSlice())
	assert.Equal(t, []int{2}, eval.TermSizes)
}

func TestEvaluateOrIsUnion(t *testing.T) {
	store, resolver := buildResolver(t)

	eval, err := query.Evaluate(resolver, []query.TermDescriptor{
		{ConceptID: conceptID(t, store, "Y")},
		{ConceptID: conceptID(t, store, "Z")},
	}, []query.Connector{query.Or})
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3}, eval.Cohort.ToSlice())
}

func TestEvaluateAndIsIntersection(t *testing.T) {
	store, resolver := buildResolver(t)

	eval, err := query.Evaluate(resolver, []query.TermDescriptor{
		{ConceptID: conceptID(t, store, "Y")},
		{ConceptID: conceptID(t, store, "Z")},
	}, []query.Connector{query.And})
	require.NoError(t, err)
	assert.True(t, eval.Cohort.IsEmpty())
	assert.Equal(t, []int{1, 1}, eval.TermSizes)
}

func TestEvaluateAndBindsTighterThanOr(t *testing.T) {
	store, resolver := buildResolver(t)

	// Y and Z or W: the AND-run (Y∩Z) is empty, the second run is W alone.
	eval, err := query.Evaluate(resolver, []query.TermDescriptor{
		{ConceptID: conceptID(t, store, "Y")},
		{ConceptID: conceptID(t, store, "Z")},
		{ConceptID: conceptID(t, store, "W")},
	}, []query.Connector{query.And, query.Or})
	require.NoError(t, err)
	assert.Equal(t, []uint32{4}, eval.Cohort.ToSlice())
}

func TestEvaluateConnectorCountMismatch(t *testing.T) {
	store, resolver := buildResolver(t)

	_, err := query.Evaluate(resolver, []query.TermDescriptor{
		{ConceptID: conceptID(t, store, "X")},
	}, []query.Connector{query.And})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedQuery))

	_, err = query.Evaluate(resolver, nil, []query.Connector{query.Or})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedQuery))
}

func TestParsePolarityAndConnector(t *testing.T) {
	p, err := query.ParsePolarity("with")
	require.NoError(t, err)
	assert.Equal(t, query.With, p)

	p, err = query.ParsePolarity("without")
	require.NoError(t, err)
	assert.Equal(t, query.Without, p)

	_, err = query.ParsePolarity("maybe")
	assert.True(t, errors.Is(err, apperrors.ErrMalformedQuery))

	c, err := query.ParseConnector("or")
	require.NoError(t, err)
	assert.Equal(t, query.Or, c)

	_, err = query.ParseConnector("xor")
	assert.True(t, errors.Is(err, apperrors.ErrMalformedQuery))
}
