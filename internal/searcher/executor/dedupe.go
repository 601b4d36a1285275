package executor

import (
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
)

type deduper interface {
	// add reports whether h was not seen before.
	add(h hit) bool
}

type keySet map[string]struct{}

func (s keySet) add(h hit) bool {
	if _, ok := s[h.key]; ok {
		return false
	}
	s[h.key] = struct{}{}
	return true
}

// projectionSet remembers projections by the hash of their canonical JSON,
// comparing structurally on collision.
type projectionSet struct {
	buckets map[uint64][]*document.Object
}

func newProjectionSet() *projectionSet {
	return &projectionSet{buckets: make(map[uint64][]*document.Object)}
}

func (s *projectionSet) add(h hit) bool {
	sum := projectionHash(h.projection)
	for _, seen := range s.buckets[sum] {
		if seen.Equal(h.projection) {
			return false
		}
	}
	s.buckets[sum] = append(s.buckets[sum], h.projection)
	return true
}

// projectionHash is independent of property order.
func projectionHash(o *document.Object) uint64 {
	props := slices.Clone(o.Properties())
	slices.SortFunc(props, func(a, b document.Property) int {
		return strings.Compare(a.Name, b.Name)
	})
	return xxhash.Sum64String(document.CompactJSON(document.ObjectValue(document.NewObject(props...))))
}
