package geometry

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Validate returns nil when g is a valid polygon or multipolygon and a
// *ValidityError describing the first problem otherwise. A nil geometry is
// valid. Interior connectivity (rings touching in several points so that the
// interior splits) is not checked.
func Validate(g orb.Geometry) error {
	polys, err := polygonsOf(g)
	if err != nil || polys == nil {
		return err
	}
	if len(polys) == 0 {
		return invalid(ReasonEmpty, orb.Point{})
	}

	v := &validator{}
	if err := v.prepare(polys); err != nil {
		return err
	}
	if err := v.intersections(); err != nil {
		return err
	}
	return v.containment()
}

// polygonsOf returns nil, nil for a nil geometry.
func polygonsOf(g orb.Geometry) ([]orb.Polygon, error) {
	switch g := g.(type) {
	case nil:
		return nil, nil
	case orb.Polygon:
		return []orb.Polygon{g}, nil
	case orb.MultiPolygon:
		if g == nil {
			return []orb.Polygon{}, nil
		}
		return g, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, g.GeoJSONType())
}

type validator struct {
	rings   [][]orb.Ring // deduplicated rings per polygon
	first   [][]int      // index of each ring's first segment
	segs    []segment
	touches map[int][]orb.Point
}

func (v *validator) prepare(polys []orb.Polygon) error {
	v.rings = make([][]orb.Ring, len(polys))
	v.first = make([][]int, len(polys))
	for pi, p := range polys {
		if len(p) == 0 {
			return invalid(ReasonEmpty, orb.Point{})
		}
		for ri, r := range p {
			d, err := checkRing(r)
			if err != nil {
				return err
			}
			v.rings[pi] = append(v.rings[pi], d)
			v.first[pi] = append(v.first[pi], len(v.segs))
			n := len(d) - 1
			for k := 0; k < n; k++ {
				v.segs = append(v.segs, segment{a: d[k], b: d[k+1], poly: pi, ring: ri, idx: k, n: n})
			}
		}
	}
	return nil
}

// checkRing validates a single ring and returns it without consecutive
// duplicate points.
func checkRing(r orb.Ring) (orb.Ring, error) {
	if len(r) == 0 {
		return nil, invalid(ReasonTooFewPoints, orb.Point{})
	}
	for _, p := range r {
		if !finite(p) {
			return nil, invalid(ReasonInvalidCoord, p)
		}
	}
	if len(r) < 4 {
		return nil, invalid(ReasonTooFewPoints, r[0])
	}
	if r[0] != r[len(r)-1] {
		return nil, invalid(ReasonNotClosed, r[0])
	}
	d := dedupe(r)
	if len(d) < 4 {
		return nil, invalid(ReasonTooFewPoints, r[0])
	}
	if flat(d) {
		return nil, invalid(ReasonZeroArea, r[0])
	}
	return d, nil
}

// flat reports whether all points of r lie on one line. A self-intersecting
// ring whose lobes cancel has a zero signed area but is not flat.
func flat(r orb.Ring) bool {
	for k := 1; k < len(r); k++ {
		if r[k] == r[0] {
			continue
		}
		for _, p := range r {
			if cross(r[0], r[k], p) != 0 {
				return false
			}
		}
		return true
	}
	return true
}

func dedupe(r orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(r))
	for _, p := range r {
		if len(out) == 0 || out[len(out)-1] != p {
			out = append(out, p)
		}
	}
	return out
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

func (v *validator) intersections() error {
	var err error
	v.touches = make(map[int][]orb.Point)
	sweep(v.segs, func(i, j int) bool {
		s, t := v.segs[i], v.segs[j]
		h := intersect(s.a, s.b, t.a, t.b)
		if h.kind == hitNone {
			return true
		}

		sameRing := s.poly == t.poly && s.ring == t.ring
		switch {
		case sameRing && s.adjacent(t):
			if h.kind == hitOverlap {
				err = invalid(ReasonSelfIntersection, h.p)
			}
		case sameRing:
			err = invalid(ReasonSelfIntersection, h.p)
		case h.kind == hitCross, h.kind == hitOverlap:
			err = invalid(ReasonRingIntersection, h.p)
		default:
			v.touches[i] = append(v.touches[i], h.p)
			v.touches[j] = append(v.touches[j], h.p)
		}
		return err == nil
	})
	return err
}

// probes returns points on a ring that, between them, sample every piece of
// the ring delimited by its vertices and by touch points with other rings.
func (v *validator) probes(pi, ri int) []orb.Point {
	r := v.rings[pi][ri]
	base := v.first[pi][ri]
	out := make([]orb.Point, 0, 2*len(r))
	for k := 0; k+1 < len(r); k++ {
		a, b := r[k], r[k+1]
		out = append(out, a)

		pts := append([]orb.Point{a}, v.touches[base+k]...)
		pts = append(pts, b)
		sort.Slice(pts, func(x, y int) bool { return param(a, b, pts[x]) < param(a, b, pts[y]) })
		for i := 0; i+1 < len(pts); i++ {
			if pts[i] != pts[i+1] {
				out = append(out, midpoint(pts[i], pts[i+1]))
			}
		}
	}
	return out
}

func (v *validator) containment() error {
	for pi, rings := range v.rings {
		shell := rings[0]
		for hi := 1; hi < len(rings); hi++ {
			for _, q := range v.probes(pi, hi) {
				if locate(shell, q) == outside {
					return invalid(ReasonHoleOutside, q)
				}
			}
		}

		for hi := 1; hi < len(rings); hi++ {
			for hj := 1; hj < len(rings); hj++ {
				if hi == hj || !rings[hi].Bound().Intersects(rings[hj].Bound()) {
					continue
				}
				for _, q := range v.probes(pi, hi) {
					if locate(rings[hj], q) == inside {
						return invalid(ReasonNestedHoles, q)
					}
				}
			}
		}
	}

	for pi := range v.rings {
		for pj := range v.rings {
			if pi == pj || !v.rings[pi][0].Bound().Intersects(v.rings[pj][0].Bound()) {
				continue
			}
			for _, q := range v.probes(pi, 0) {
				if interior(v.rings[pj], q) {
					return invalid(ReasonNestedShells, q)
				}
			}
		}
	}
	return nil
}

// interior reports whether q lies strictly inside the polygon given by rings.
func interior(rings []orb.Ring, q orb.Point) bool {
	if locate(rings[0], q) != inside {
		return false
	}
	for _, h := range rings[1:] {
		if locate(h, q) != outside {
			return false
		}
	}
	return true
}
