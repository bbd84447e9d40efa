package cegqi

import (
	"sort"

	"github.com/benbjohnson/immutable"
)

// TermMap is a map keyed by structural term identity. It is backed by a
// persistent hash map so Clone is constant time and clones never observe
// each other's updates.
type TermMap[V any] struct {
	m *immutable.Map
}

// NewTermMap returns an empty map.
func NewTermMap[V any]() *TermMap[V] {
	return &TermMap[V]{m: immutable.NewMap(&termHasher{})}
}

// Len returns the number of entries.
func (m *TermMap[V]) Len() int { return m.m.Len() }

// Get returns the value stored for t.
func (m *TermMap[V]) Get(t Term) (V, bool) {
	v, ok := m.m.Get(t)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Has returns true if t is a key of the map.
func (m *TermMap[V]) Has(t Term) bool {
	_, ok := m.m.Get(t)
	return ok
}

// Set stores v for t.
func (m *TermMap[V]) Set(t Term, v V) {
	m.m = m.m.Set(t, v)
}

// Delete removes t from the map.
func (m *TermMap[V]) Delete(t Term) {
	m.m = m.m.Delete(t)
}

// Without returns a copy of the map without t.
func (m *TermMap[V]) Without(t Term) *TermMap[V] {
	return &TermMap[V]{m: m.m.Delete(t)}
}

// Clone returns an independent copy of the map.
func (m *TermMap[V]) Clone() *TermMap[V] {
	return &TermMap[V]{m: m.m}
}

// Keys returns all keys in term order.
func (m *TermMap[V]) Keys() []Term {
	a := make([]Term, 0, m.m.Len())
	itr := m.m.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		a = append(a, k.(Term))
	}
	sort.Slice(a, func(i, j int) bool { return CompareTerm(a[i], a[j]) < 0 })
	return a
}

// TermSet is a set of terms keyed by structural identity.
type TermSet struct {
	m *TermMap[struct{}]
}

// NewTermSet returns a set containing terms.
func NewTermSet(terms ...Term) *TermSet {
	s := &TermSet{m: NewTermMap[struct{}]()}
	for _, t := range terms {
		s.Add(t)
	}
	return s
}

// Add inserts t and returns true if it was not already present.
func (s *TermSet) Add(t Term) bool {
	if s.m.Has(t) {
		return false
	}
	s.m.Set(t, struct{}{})
	return true
}

// Has returns true if t is in the set.
func (s *TermSet) Has(t Term) bool { return s.m.Has(t) }

// Len returns the number of terms in the set.
func (s *TermSet) Len() int { return s.m.Len() }

// Terms returns the members in term order.
func (s *TermSet) Terms() []Term { return s.m.Keys() }

// termHasher hashes and compares terms for immutable.Map.
type termHasher struct{}

// Hash folds the 64-bit structural hash of a term into 32 bits.
func (h *termHasher) Hash(key interface{}) uint32 {
	v := key.(Term).Hash()
	return uint32(v ^ (v >> 32))
}

// Equal returns true if a and b are structurally equal terms.
func (h *termHasher) Equal(a, b interface{}) bool {
	return TermEqual(a.(Term), b.(Term))
}
