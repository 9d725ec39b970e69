package hierarchy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clincohort/cohort-explorer/internal/hierarchy"
	"github.com/clincohort/cohort-explorer/internal/index"
	"github.com/clincohort/cohort-explorer/internal/index/indextest"
)

func buildStore(t *testing.T, edges map[string][]string) *index.Store {
	t.Helper()
	return indextest.Build(t, indextest.Fixture{
		Concepts: []index.Concept{
			{Code: "X", Display: "X (disorder)"},
			{Code: "Y", Display: "Y (disorder)"},
			{Code: "Z", Display: "Z (disorder)"},
			{Code: "W", Display: "W (disorder)"},
		},
		Hierarchy: edges,
		Age:       map[string]float64{"P000": 10},
	})
}

func TestDescendantsIsReflexive(t *testing.T) {
	store := buildStore(t, nil)
	r := hierarchy.NewResolver(store)

	for id := 0; id < store.ConceptCount(); id++ {
		assert.Contains(t, r.Descendants(id), id)
	}
}

func TestDescendantsExpandsTransitively(t *testing.T) {
	store := buildStore(t, map[string][]string{
		"X": {"Y", "Z"},
		"Z": {"W"},
	})
	r := hierarchy.NewResolver(store)

	x, _ := store.ConceptIDByCode("X")
	z, _ := store.ConceptIDByCode("Z")

	assert.ElementsMatch(t, []int{0, 1, 2, 3}, r.Descendants(x))
	assert.ElementsMatch(t, []int{2, 3}, r.Descendants(z))
}

func TestDescendantsIsIdempotent(t *testing.T) {
	store := buildStore(t, map[string][]string{"X": {"Y"}})
	r := hierarchy.NewResolver(store)

	x, _ := store.ConceptIDByCode("X")
	first := r.Descendants(x)
	second := r.Descendants(x)
	assert.Equal(t, first, second)
}

func TestDescendantsTerminatesOnCycle(t *testing.T) {
	store := buildStore(t, map[string][]string{
		"X": {"Y"},
		"Y": {"Z"},
		"Z": {"X"},
	})
	r := hierarchy.NewResolver(store)

	x, _ := store.ConceptIDByCode("X")
	assert.ElementsMatch(t, []int{0, 1, 2}, r.Descendants(x))
}

func TestDescendantsUnknownConcept(t *testing.T) {
	store := buildStore(t, nil)
	r := hierarchy.NewResolver(store)

	// Ids outside the catalog still close over themselves.
	assert.Equal(t, []int{-1}, r.Descendants(-1))
}
