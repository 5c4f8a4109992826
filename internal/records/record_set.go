package records

// Set is an unordered collection of Records keyed by their identity Hash,
// giving O(1) membership and the set algebra (union, intersection,
// difference) the cache and known-answer-suppression logic build on.
type Set struct {
	byHash map[uint64]Record
}

// NewSet builds a Set from zero or more records. Later duplicates (by Hash)
// overwrite earlier ones.
func NewSet(recs ...Record) *Set {
	s := &Set{byHash: make(map[uint64]Record, len(recs))}
	for _, r := range recs {
		s.Add(r)
	}
	return s
}

// Add inserts r, replacing any existing record with the same Hash.
func (s *Set) Add(r Record) { s.byHash[r.Hash()] = r }

// Remove deletes the record with r's Hash, if present.
func (s *Set) Remove(r Record) { delete(s.byHash, r.Hash()) }

// Has reports whether a record with r's Hash is present.
func (s *Set) Has(r Record) bool {
	_, ok := s.byHash[r.Hash()]
	return ok
}

// Len returns the number of distinct records in the set.
func (s *Set) Len() int { return len(s.byHash) }

// Slice returns the set's members in unspecified order.
func (s *Set) Slice() []Record {
	out := make([]Record, 0, len(s.byHash))
	for _, r := range s.byHash {
		out = append(out, r)
	}
	return out
}

// Union returns a new Set containing every record in s or other.
func (s *Set) Union(other *Set) *Set {
	out := NewSet(s.Slice()...)
	for _, r := range other.Slice() {
		out.Add(r)
	}
	return out
}

// Intersect returns a new Set containing only records present in both s and
// other.
func (s *Set) Intersect(other *Set) *Set {
	out := &Set{byHash: make(map[uint64]Record)}
	for h, r := range s.byHash {
		if _, ok := other.byHash[h]; ok {
			out.byHash[h] = r
		}
	}
	return out
}

// Difference returns a new Set containing records in s that are not in
// other — used to compute "records we have that the known-answer list
// doesn't", i.e. what still needs answering (spec §4.6).
func (s *Set) Difference(other *Set) *Set {
	out := &Set{byHash: make(map[uint64]Record)}
	for h, r := range s.byHash {
		if _, ok := other.byHash[h]; !ok {
			out.byHash[h] = r
		}
	}
	return out
}

// HasEach reports whether every record in other is also present in s — the
// known-answer-suppression predicate: "do we already hold every record the
// querier claims to know?"
func (s *Set) HasEach(other *Set) bool {
	for h := range other.byHash {
		if _, ok := s.byHash[h]; !ok {
			return false
		}
	}
	return true
}

// ConflictsWith reports whether any unique record in s conflicts (same
// NameHash, different RDataHash) with any unique record in other, and
// returns one such conflicting pair for diagnostics.
func (s *Set) ConflictsWith(other *Set) (mine, theirs Record, ok bool) {
	for _, a := range s.byHash {
		if !a.IsUnique() {
			continue
		}
		for _, b := range other.byHash {
			if a.ConflictsWith(b) {
				return a, b, true
			}
		}
	}
	return Record{}, Record{}, false
}

// GroupByNameHash partitions s by NameHash, i.e. by owner name, the same
// key the cache's "related" index groups on.
func (s *Set) GroupByNameHash() map[uint64][]Record {
	groups := make(map[uint64][]Record)
	for _, r := range s.byHash {
		groups[r.NameHash()] = append(groups[r.NameHash()], r)
	}
	return groups
}
