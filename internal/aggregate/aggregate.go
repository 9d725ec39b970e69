// Package aggregate computes the read-only statistics served for a cached
// cohort: facet counts, the age histogram, the top-concept treemap, and
// ad-hoc comparison counts. All functions read only the index store and the
// cohort set they are given.
package aggregate

import (
	"sort"
	"strings"

	"github.com/clincohort/cohort-explorer/internal/facet"
	"github.com/clincohort/cohort-explorer/internal/hierarchy"
	"github.com/clincohort/cohort-explorer/internal/index"
	"github.com/clincohort/cohort-explorer/internal/patientset"
)

// TopConceptLimit bounds the ranking consumed by the treemap.
const TopConceptLimit = 300

// FacetCounts holds per-sub-value member counts for every facet category.
type FacetCounts struct {
	Sex       SexCounts       `json:"gender"`
	Vital     VitalCounts     `json:"alive"`
	Age       AgeCounts       `json:"age"`
	Ethnicity EthnicityCounts `json:"ethnicity"`
}

// SexCounts counts cohort members per sex. All is the cohort size.
type SexCounts struct {
	All     int `json:"0"`
	Male    int `json:"1"`
	Female  int `json:"2"`
	Unknown int `json:"3"`
}

// VitalCounts counts cohort members by vital status. All is the cohort size.
type VitalCounts struct {
	All   int `json:"0"`
	Alive int `json:"1"`
	Dead  int `json:"2"`
}

// AgeCounts counts alive cohort members per age bucket. Alive doubles as the
// category total, and Custom uses the bounds of the request's age selection.
type AgeCounts struct {
	Alive      int `json:"0"`
	Under21    int `json:"1"`
	From21to40 int `json:"2"`
	From41to60 int `json:"3"`
	Over60     int `json:"4"`
	Custom     int `json:"5"`
}

// EthnicityCounts counts cohort members per ethnicity. All is the cohort
// size.
type EthnicityCounts struct {
	All     int `json:"0"`
	Asian   int `json:"1"`
	Black   int `json:"2"`
	White   int `json:"3"`
	Mixed   int `json:"4"`
	Other   int `json:"5"`
	Unknown int `json:"6"`
}

// Facets counts cohort members per category sub-value in one pass. ageSel
// supplies the custom bucket's bounds; its selected buckets are ignored.
func Facets(store *index.Store, cohort *patientset.Set, ageSel facet.AgeSelection) FacetCounts {
	var counts FacetCounts
	total := cohort.Cardinality()
	counts.Sex.All = total
	counts.Vital.All = total
	counts.Ethnicity.All = total

	cohort.Iterate(func(id patientset.PatientID) bool {
		d := store.Demographics(id)

		switch d.Sex {
		case index.SexMale:
			counts.Sex.Male++
		case index.SexFemale:
			counts.Sex.Female++
		default:
			counts.Sex.Unknown++
		}

		switch d.Ethnicity {
		case index.EthnicityAsian:
			counts.Ethnicity.Asian++
		case index.EthnicityBlack:
			counts.Ethnicity.Black++
		case index.EthnicityWhite:
			counts.Ethnicity.White++
		case index.EthnicityMixed:
			counts.Ethnicity.Mixed++
		case index.EthnicityOther:
			counts.Ethnicity.Other++
		default:
			counts.Ethnicity.Unknown++
		}

		if d.DeathTime != 0 {
			counts.Vital.Dead++
			return true
		}
		counts.Vital.Alive++
		counts.Age.Alive++
		switch age := d.Age; {
		case age >= 0 && age <= 20:
			counts.Age.Under21++
		case age > 20 && age <= 40:
			counts.Age.From21to40++
		case age > 40 && age <= 60:
			counts.Age.From41to60++
		case age > 60:
			counts.Age.Over60++
		}
		if ageSel.CustomMatches(d.Age) {
			counts.Age.Custom++
		}
		return true
	})
	return counts
}

// histogramEdges are the fixed age histogram bin edges.
var histogramEdges = []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110}

// AgeHistogram counts alive cohort members per ten-year bin. Bin 0 is
// inclusive on both ends [0,10]; later bins are (lo,hi].
func AgeHistogram(store *index.Store, cohort *patientset.Set) []int {
	bins := make([]int, len(histogramEdges)-1)
	cohort.Iterate(func(id patientset.PatientID) bool {
		d := store.Demographics(id)
		if d.DeathTime != 0 {
			return true
		}
		for i := 0; i < len(bins); i++ {
			lo, hi := histogramEdges[i], histogramEdges[i+1]
			if i == 0 {
				if d.Age >= lo && d.Age <= hi {
					bins[i]++
					break
				}
				continue
			}
			if d.Age > lo && d.Age <= hi {
				bins[i]++
				break
			}
		}
		return true
	})
	return bins
}

// ConceptCount is one ranked concept with its cohort occurrence count.
type ConceptCount struct {
	Display string `json:"str"`
	Count   int    `json:"cnt"`
}

// TypeGroup is one semantic-type node of the treemap, with its per-concept
// children and the accumulated total.
type TypeGroup struct {
	Name     string         `json:"name"`
	Total    int            `json:"value"`
	Children []ConceptCount `json:"children"`
}

// TopConcepts ranks concepts by how many cohort members mention them, takes
// the top entries, and groups them by the semantic-type tag parsed from the
// trailing parenthesized suffix of the display string.
func TopConcepts(store *index.Store, cohort *patientset.Set) ([]TypeGroup, []ConceptCount) {
	counts := make([]int, store.ConceptCount())
	cohort.Iterate(func(id patientset.PatientID) bool {
		for _, conceptID := range store.PatientConcepts(id) {
			counts[conceptID]++
		}
		return true
	})

	type ranked struct {
		conceptID index.ConceptID
		count     int
	}
	var sortable []ranked
	for conceptID, count := range counts {
		if count > 0 {
			sortable = append(sortable, ranked{conceptID: conceptID, count: count})
		}
	}
	sort.SliceStable(sortable, func(i, j int) bool {
		return sortable[i].count > sortable[j].count
	})
	if len(sortable) > TopConceptLimit {
		sortable = sortable[:TopConceptLimit]
	}

	top := make([]ConceptCount, len(sortable))
	for i, r := range sortable {
		top[i] = ConceptCount{Display: store.Concept(r.conceptID).Display, Count: r.count}
	}

	var groups []TypeGroup
	groupIndex := make(map[string]int)
	for _, entry := range top {
		name := semanticType(entry.Display)
		i, ok := groupIndex[name]
		if !ok {
			i = len(groups)
			groupIndex[name] = i
			groups = append(groups, TypeGroup{Name: name})
		}
		groups[i].Total += entry.Count
		groups[i].Children = append(groups[i].Children, entry)
	}
	return groups, top
}

// semanticType extracts the tag from a trailing "(tag)" suffix, e.g.
// "Diabetes mellitus (disorder)" → "disorder". Displays without the suffix
// fall into an "unspecified" group.
func semanticType(display string) string {
	if !strings.HasSuffix(display, ")") {
		return "unspecified"
	}
	open := strings.LastIndex(display, "(")
	if open < 0 {
		return "unspecified"
	}
	return display[open+1 : len(display)-1]
}

// ComparisonTerm is one reference concept to count against the cohort,
// independent of the active query.
type ComparisonTerm struct {
	ConceptID      index.ConceptID
	ExpandChildren bool
	Label          string
}

// ComparisonCount is the per-term result of Compare.
type ComparisonCount struct {
	Label string `json:"str"`
	Count int    `json:"cnt"`
}

// Compare counts, for each term, how many cohort members appear in the
// (optionally hierarchy-expanded) postings of its concept.
func Compare(store *index.Store, hier *hierarchy.Resolver, cohort *patientset.Set, terms []ComparisonTerm) []ComparisonCount {
	results := make([]ComparisonCount, len(terms))
	for i, term := range terms {
		base := []index.ConceptID{term.ConceptID}
		if term.ExpandChildren {
			base = hier.Descendants(term.ConceptID)
		}
		matched := patientset.New()
		for _, id := range base {
			matched.Or(store.Postings(id))
		}
		matched.And(cohort)
		results[i] = ComparisonCount{Label: term.Label, Count: matched.Cardinality()}
	}
	return results
}
