// Package patientset provides the dense patient-id set used throughout query
// evaluation, facet filtering, and aggregation. Sets are backed by roaring
// bitmaps so intersection and union over universes of ~10^6 ids stay cheap.
package patientset

import (
	"github.com/RoaringBitmap/roaring"
)

// PatientID is a dense internal patient identifier in [0, universe size).
type PatientID = uint32

// Set is a mutable set of patient ids. The zero value is not usable; call New
// or NewFromIDs.
type Set struct {
	bm *roaring.Bitmap
}

// New returns an empty set.
func New() *Set {
	return &Set{bm: roaring.New()}
}

// NewFromIDs returns a set containing the given ids.
func NewFromIDs(ids ...PatientID) *Set {
	s := New()
	s.bm.AddMany(ids)
	return s
}

// Universe returns the full set {0, ..., n-1}.
func Universe(n uint32) *Set {
	s := New()
	if n > 0 {
		s.bm.AddRange(0, uint64(n))
	}
	return s
}

// Add inserts id into the set.
func (s *Set) Add(id PatientID) {
	s.bm.Add(id)
}

// Contains reports whether id is in the set.
func (s *Set) Contains(id PatientID) bool {
	return s.bm.Contains(id)
}

// Cardinality returns the number of ids in the set.
func (s *Set) Cardinality() int {
	return int(s.bm.GetCardinality())
}

// IsEmpty reports whether the set has no members.
func (s *Set) IsEmpty() bool {
	return s.bm.IsEmpty()
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	return &Set{bm: s.bm.Clone()}
}

// Or unions other into s in place.
func (s *Set) Or(other *Set) {
	s.bm.Or(other.bm)
}

// And intersects s with other in place.
func (s *Set) And(other *Set) {
	s.bm.And(other.bm)
}

// AndNot removes other's members from s in place.
func (s *Set) AndNot(other *Set) {
	s.bm.AndNot(other.bm)
}

// Union returns a new set holding the union of the operands.
func Union(sets ...*Set) *Set {
	out := New()
	for _, s := range sets {
		out.bm.Or(s.bm)
	}
	return out
}

// Intersect returns a new set holding the intersection of the operands; the
// intersection of no operands is empty.
func Intersect(sets ...*Set) *Set {
	if len(sets) == 0 {
		return New()
	}
	out := sets[0].Clone()
	for _, s := range sets[1:] {
		out.bm.And(s.bm)
	}
	return out
}

// Complement returns universe minus s.
func (s *Set) Complement(universe *Set) *Set {
	out := universe.Clone()
	out.bm.AndNot(s.bm)
	return out
}

// Equals reports whether both sets hold exactly the same ids.
func (s *Set) Equals(other *Set) bool {
	return s.bm.Equals(other.bm)
}

// Iterate calls fn for each id in ascending order until fn returns false.
func (s *Set) Iterate(fn func(id PatientID) bool) {
	it := s.bm.Iterator()
	for it.HasNext() {
		if !fn(it.Next()) {
			return
		}
	}
}

// ToSlice returns the ids in ascending order.
func (s *Set) ToSlice() []PatientID {
	return s.bm.ToArray()
}
