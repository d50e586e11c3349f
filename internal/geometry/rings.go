// Package geometry normalizes the flat polygon coordinate lists returned by
// the BMKG feed into closed rings suitable for map rendering.
package geometry

import "math"

// Ring is a closed polygon boundary as (lon, lat) points. The first and
// last points are equal.
type Ring [][2]float64

const (
	earthRadiusKm = 6371.0
	// Consecutive points further apart than this belong to different rings.
	splitGapKm = 10.0
	// Rings containing a single edge longer than this are encoding
	// artifacts, not administrative boundaries.
	maxEdgeKm = 20.0
	// A point this close to the ring start closes the ring.
	closeEpsilonDeg = 1e-4
)

// SplitRings converts a flat list of [lat, lon] pairs with no explicit ring
// breaks into zero or more closed rings in (lon, lat) order. Disjoint
// polygons are separated wherever the gap between consecutive points
// exceeds the split threshold, or where a point returns to the start of the
// ring in progress. Rings with fewer than four points or with an edge
// longer than the artifact threshold are dropped. Pairs with fewer than two
// values are ignored.
func SplitRings(coords [][]float64) []Ring {
	var rings []Ring
	var current [][2]float64

	flush := func() {
		if ring, ok := finalizeRing(current); ok {
			rings = append(rings, ring)
		}
		current = nil
	}

	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		p := [2]float64{c[0], c[1]}
		if len(current) > 0 {
			if distanceKm(current[len(current)-1], p) > splitGapKm {
				flush()
			} else if len(current) >= 4 && nearStart(current[0], p) {
				current = append(current, current[0])
				flush()
				continue
			}
		}
		current = append(current, p)
	}
	flush()

	return rings
}

// finalizeRing closes the candidate ring and applies the artifact filters.
func finalizeRing(points [][2]float64) (Ring, bool) {
	if len(points) == 0 {
		return nil, false
	}
	if points[0] != points[len(points)-1] {
		points = append(points, points[0])
	}
	if len(points) < 4 {
		return nil, false
	}
	for i := 1; i < len(points); i++ {
		if distanceKm(points[i-1], points[i]) > maxEdgeKm {
			return nil, false
		}
	}

	ring := make(Ring, len(points))
	for i, p := range points {
		ring[i] = [2]float64{p[1], p[0]}
	}
	return ring, true
}

func nearStart(start, p [2]float64) bool {
	return math.Abs(p[0]-start[0]) <= closeEpsilonDeg && math.Abs(p[1]-start[1]) <= closeEpsilonDeg
}

// distanceKm is the great-circle distance between two [lat, lon] points.
func distanceKm(a, b [2]float64) float64 {
	toRad := func(d float64) float64 { return d * (math.Pi / 180) }
	dLat := toRad(b[0] - a[0])
	dLon := toRad(b[1] - a[1])
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a[0]))*math.Cos(toRad(b[0]))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
