// Package index owns the immutable in-memory indices the engine queries: the
// concept catalog, the concept hierarchy, concept→patient postings with
// mention timestamps, the reverse patient→concept lists, and per-patient
// demographics. A Store is built once at startup from snapshot files and is
// never mutated afterwards, so reads need no locking.
package index

import (
	"github.com/clincohort/cohort-explorer/internal/patientset"
)

// ConceptID is a dense internal concept identifier in [0, ConceptCount).
type ConceptID = int

// Sex is the patient sex enum.
type Sex uint8

const (
	SexMale Sex = iota + 1
	SexFemale
	SexUnknown
)

// Ethnicity is the fixed 6-value patient ethnicity enum.
type Ethnicity uint8

const (
	EthnicityAsian Ethnicity = iota + 1
	EthnicityBlack
	EthnicityWhite
	EthnicityMixed
	EthnicityOther
	EthnicityUnknown
)

// Concept is one catalog entry. Display carries a trailing semantic-type tag,
// e.g. "Diabetes mellitus (disorder)".
type Concept struct {
	Code    string
	Display string
}

// Demographics holds the per-patient scalars. DeathTime is Unix seconds, 0
// meaning alive.
type Demographics struct {
	Sex       Sex
	Age       int
	Ethnicity Ethnicity
	DeathTime int64
}

// Store is the immutable index built from a snapshot.
type Store struct {
	concepts  []Concept
	codeToID  map[string]ConceptID
	children  [][]ConceptID
	postings  []*patientset.Set
	mentionAt []map[patientset.PatientID]int64
	byPatient [][]ConceptID
	demo      []Demographics
	universe  *patientset.Set
}

// ConceptCount returns the number of concepts in the catalog.
func (s *Store) ConceptCount() int {
	return len(s.concepts)
}

// PatientCount returns the size of the patient universe.
func (s *Store) PatientCount() int {
	return len(s.demo)
}

// Concept returns the catalog entry for id. It panics on out-of-range ids;
// callers resolve ids through ConceptIDByCode first.
func (s *Store) Concept(id ConceptID) Concept {
	return s.concepts[id]
}

// ConceptIDByCode resolves an external concept code to its dense id.
func (s *Store) ConceptIDByCode(code string) (ConceptID, bool) {
	id, ok := s.codeToID[code]
	return id, ok
}

// Children returns the direct child concept ids of id, nil when it has none.
func (s *Store) Children(id ConceptID) []ConceptID {
	if id < 0 || id >= len(s.children) {
		return nil
	}
	return s.children[id]
}

// Postings returns the patient set mentioning concept id. The returned set is
// shared; callers must not mutate it.
func (s *Store) Postings(id ConceptID) *patientset.Set {
	if id < 0 || id >= len(s.postings) {
		return emptySet
	}
	return s.postings[id]
}

// Timestamps returns the mention timestamp per patient for concept id. The
// returned map is shared; callers must not mutate it.
func (s *Store) Timestamps(id ConceptID) map[patientset.PatientID]int64 {
	if id < 0 || id >= len(s.mentionAt) {
		return nil
	}
	return s.mentionAt[id]
}

// PatientConcepts returns the concept ids mentioned for a patient.
func (s *Store) PatientConcepts(id patientset.PatientID) []ConceptID {
	if int(id) >= len(s.byPatient) {
		return nil
	}
	return s.byPatient[id]
}

// Demographics returns the demographic scalars for a patient.
func (s *Store) Demographics(id patientset.PatientID) Demographics {
	return s.demo[id]
}

// AllPatients returns the full patient universe. The returned set is shared;
// callers must not mutate it.
func (s *Store) AllPatients() *patientset.Set {
	return s.universe
}

var emptySet = patientset.New()
