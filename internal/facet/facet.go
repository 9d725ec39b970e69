// Package facet narrows cohorts by demographic selections: sex, vital status,
// age bucket, and ethnicity. Within a category selected sub-values are ORed;
// across categories the results are ANDed. A category with All set applies no
// restriction.
package facet

import (
	"github.com/clincohort/cohort-explorer/internal/index"
	"github.com/clincohort/cohort-explorer/internal/patientset"
)

// Selection holds one facet choice per category.
type Selection struct {
	Sex       SexSelection
	Vital     VitalSelection
	Age       AgeSelection
	Ethnicity EthnicitySelection
}

// SexSelection selects patients by sex.
type SexSelection struct {
	All     bool
	Male    bool
	Female  bool
	Unknown bool
}

// VitalSelection selects patients by vital status.
type VitalSelection struct {
	All   bool
	Alive bool
	Dead  bool
}

// AgeSelection selects alive patients by age bucket. The first fixed bucket is
// inclusive on both ends [0,20]; later fixed buckets are (20,40], (40,60],
// (60,∞). The custom bucket uses inclusive bounds on whichever side is set.
type AgeSelection struct {
	All        bool
	Under21    bool
	From21to40 bool
	From41to60 bool
	Over60     bool
	Custom     bool

	HasMin bool
	Min    int
	HasMax bool
	Max    int
}

// EthnicitySelection selects patients by ethnicity.
type EthnicitySelection struct {
	All     bool
	Asian   bool
	Black   bool
	White   bool
	Mixed   bool
	Other   bool
	Unknown bool
}

// Everything returns a Selection with every category set to All.
func Everything() Selection {
	return Selection{
		Sex:       SexSelection{All: true},
		Vital:     VitalSelection{All: true},
		Age:       AgeSelection{All: true},
		Ethnicity: EthnicitySelection{All: true},
	}
}

// Apply narrows cohort by the selection and returns the result as a new set.
// Applying the same selection again returns an equal set.
func Apply(store *index.Store, cohort *patientset.Set, sel Selection) *patientset.Set {
	out := cohort.Clone()
	if !sel.Sex.All {
		out = narrow(store, out, sel.Sex.matches)
	}
	if !sel.Vital.All {
		out = narrow(store, out, sel.Vital.matches)
	}
	if !sel.Age.All {
		out = narrow(store, out, sel.Age.matches)
	}
	if !sel.Ethnicity.All {
		out = narrow(store, out, sel.Ethnicity.matches)
	}
	return out
}

func narrow(store *index.Store, cohort *patientset.Set, pred func(index.Demographics) bool) *patientset.Set {
	matched := patientset.New()
	cohort.Iterate(func(id patientset.PatientID) bool {
		if pred(store.Demographics(id)) {
			matched.Add(id)
		}
		return true
	})
	return matched
}

func (s SexSelection) matches(d index.Demographics) bool {
	switch d.Sex {
	case index.SexMale:
		return s.Male
	case index.SexFemale:
		return s.Female
	default:
		return s.Unknown
	}
}

func (s VitalSelection) matches(d index.Demographics) bool {
	if d.DeathTime == 0 {
		return s.Alive
	}
	return s.Dead
}

func (s AgeSelection) matches(d index.Demographics) bool {
	// Age buckets are defined over alive patients only.
	if d.DeathTime != 0 {
		return false
	}
	age := d.Age
	if s.Under21 && age >= 0 && age <= 20 {
		return true
	}
	if s.From21to40 && age > 20 && age <= 40 {
		return true
	}
	if s.From41to60 && age > 40 && age <= 60 {
		return true
	}
	if s.Over60 && age > 60 {
		return true
	}
	if s.Custom && s.CustomMatches(age) {
		return true
	}
	return false
}

// CustomMatches evaluates the custom age range against an age, treating a
// missing bound as unbounded on that side.
func (s AgeSelection) CustomMatches(age int) bool {
	switch {
	case s.HasMin && s.HasMax:
		return age >= s.Min && age <= s.Max
	case s.HasMin:
		return age >= s.Min
	case s.HasMax:
		return age <= s.Max
	default:
		return age >= 0
	}
}

func (s EthnicitySelection) matches(d index.Demographics) bool {
	switch d.Ethnicity {
	case index.EthnicityAsian:
		return s.Asian
	case index.EthnicityBlack:
		return s.Black
	case index.EthnicityWhite:
		return s.White
	case index.EthnicityMixed:
		return s.Mixed
	case index.EthnicityOther:
		return s.Other
	default:
		return s.Unknown
	}
}
