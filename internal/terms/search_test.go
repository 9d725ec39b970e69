package terms_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clincohort/cohort-explorer/internal/index"
	"github.com/clincohort/cohort-explorer/internal/index/indextest"
	"github.com/clincohort/cohort-explorer/internal/terms"
)

func buildIndex(t *testing.T, displays ...string) *terms.Index {
	t.Helper()
	concepts := make([]index.Concept, len(displays))
	for i, d := range displays {
		concepts[i] = index.Concept{Code: string(rune('A' + i)), Display: d}
	}
	store := indextest.Build(t, indextest.Fixture{
		Concepts: concepts,
		Age:      map[string]float64{"P000": 10},
	})
	return terms.NewIndex(store, 500)
}

func TestSearchForwardPrefixMatch(t *testing.T) {
	idx := buildIndex(t,
		"Diabetes mellitus (disorder)",
		"Diabetic retinopathy (disorder)",
		"Hypertension (disorder)",
	)

	matches := idx.Search("diab", 10)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.True(t, strings.HasPrefix(m.Display, "Diab"))
	}
}

func TestSearchScoresFullTokenAboveMiss(t *testing.T) {
	idx := buildIndex(t,
		"Diabetes mellitus (disorder)",
		"Diabetes mellitus type 2 (disorder)",
	)

	matches := idx.Search("diabetes mellitus type", 10)
	require.Len(t, matches, 2)
	// Three token hits beat two, despite the longer display string.
	assert.Equal(t, "Diabetes mellitus type 2 (disorder)", matches[0].Display)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestSearchTieBreaksOnShorterDisplay(t *testing.T) {
	idx := buildIndex(t,
		"Asthma with status asthmaticus (disorder)",
		"Asthma (disorder)",
	)

	matches := idx.Search("asthma", 10)
	require.Len(t, matches, 2)
	assert.Equal(t, "Asthma (disorder)", matches[0].Display)
}

func TestSearchHighlight(t *testing.T) {
	idx := buildIndex(t, "Asthma (disorder)")

	matches := idx.Search("asthma", 10)
	require.Len(t, matches, 1)

	m := matches[0]
	assert.Equal(t, "<b>Asthma</b> (disorder)", m.Highlight)
	require.Len(t, m.Mask, len(m.Display))
	for i := 0; i < len("Asthma"); i++ {
		assert.True(t, m.Mask[i], "position %d should be highlighted", i)
	}
	assert.False(t, m.Mask[len("Asthma")])
}

func TestSearchHonoursLimit(t *testing.T) {
	idx := buildIndex(t,
		"Asthma (disorder)",
		"Asthmatic bronchitis (disorder)",
		"Asthma management plan (procedure)",
	)

	assert.Len(t, idx.Search("asthma", 2), 2)
}

func TestSearchEmptyAndUnmatchedQuery(t *testing.T) {
	idx := buildIndex(t, "Asthma (disorder)")

	assert.Empty(t, idx.Search("", 10))
	assert.Empty(t, idx.Search("   ,.;", 10))
	assert.Empty(t, idx.Search("zebra", 10))
}

func TestSearchIsCaseInsensitive(t *testing.T) {
	idx := buildIndex(t, "Asthma (disorder)")

	matches := idx.Search("ASTHMA", 10)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0+1.0/float64(len("Asthma (disorder)")), matches[0].Score, 1e-9)
}
