package index

import (
	"fmt"
	"math"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

const earthRadiusKm = 6371.0088

type SpatialRelation uint8

const (
	SpatialWithin SpatialRelation = iota
	SpatialContains
	SpatialIntersects
	SpatialDisjoint
	SpatialNearby
)

func (r SpatialRelation) String() string {
	switch r {
	case SpatialWithin:
		return "Within"
	case SpatialContains:
		return "Contains"
	case SpatialIntersects:
		return "Intersects"
	case SpatialDisjoint:
		return "Disjoint"
	case SpatialNearby:
		return "Nearby"
	}
	return fmt.Sprintf("SpatialRelation(%d)", r)
}

// ParseSpatialRelation accepts relation names case-insensitively.
func ParseSpatialRelation(s string) (SpatialRelation, error) {
	for r := SpatialWithin; r <= SpatialNearby; r++ {
		if strings.EqualFold(r.String(), s) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown spatial relation %q", s)
}

// SpatialQuery filters documents by the distance of their points in Field
// to a circle centre. Nearby matches every document that has a point.
type SpatialQuery struct {
	Field    string
	Lat      float64
	Lng      float64
	RadiusKm float64
	Relation SpatialRelation
}

func (q *SpatialQuery) match(_ *Reader, seg *Segment) *hits {
	fi, ok := seg.fields[q.Field]
	if !ok {
		return nil
	}
	docs := roaring.New()
	for d, points := range fi.points {
		if q.accept(points) {
			docs.Add(d)
		}
	}
	return constantHits(docs, 1)
}

func (q *SpatialQuery) accept(points []GeoPoint) bool {
	if q.Relation == SpatialNearby {
		return len(points) > 0
	}
	inside := false
	for _, p := range points {
		if Haversine(q.Lat, q.Lng, p.Lat, p.Lng) <= q.RadiusKm {
			inside = true
			break
		}
	}
	if q.Relation == SpatialDisjoint {
		return !inside
	}
	return inside
}

func (q *SpatialQuery) String() string {
	return fmt.Sprintf("%s:%s(Circle(%g %g d=%g))", q.Field, q.Relation, q.Lng, q.Lat, q.RadiusKm)
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}
