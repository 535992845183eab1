package geometry

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// cross returns the z component of (b-a) x (c-a): positive when c lies left of
// the directed line a->b.
func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// between reports whether p, known to be collinear with a-b, lies within the
// closed segment.
func between(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

type hitKind int

const (
	hitNone    hitKind = iota
	hitTouch           // single shared point, at least one endpoint involved
	hitCross           // proper crossing of both interiors
	hitOverlap         // collinear overlap of positive length
)

type hit struct {
	kind hitKind
	p, q orb.Point // q is set for overlaps only
}

// intersect classifies how segments a-b and c-d meet.
func intersect(a, b, c, d orb.Point) hit {
	d1 := sign(cross(c, d, a))
	d2 := sign(cross(c, d, b))
	d3 := sign(cross(a, b, c))
	d4 := sign(cross(a, b, d))

	if d1 == 0 && d2 == 0 && d3 == 0 && d4 == 0 {
		return collinear(a, b, c, d)
	}

	if d1*d2 < 0 && d3*d4 < 0 {
		return hit{kind: hitCross, p: crossingPoint(a, b, c, d)}
	}

	switch {
	case d1 == 0 && between(c, d, a):
		return hit{kind: hitTouch, p: a}
	case d2 == 0 && between(c, d, b):
		return hit{kind: hitTouch, p: b}
	case d3 == 0 && between(a, b, c):
		return hit{kind: hitTouch, p: c}
	case d4 == 0 && between(a, b, d):
		return hit{kind: hitTouch, p: d}
	}
	return hit{}
}

func collinear(a, b, c, d orb.Point) hit {
	axis := 0
	if math.Abs(b[0]-a[0]) < math.Abs(b[1]-a[1]) {
		axis = 1
	}
	if a[axis] > b[axis] {
		a, b = b, a
	}
	if c[axis] > d[axis] {
		c, d = d, c
	}

	lo, hi := a, b
	if c[axis] > lo[axis] {
		lo = c
	}
	if d[axis] < hi[axis] {
		hi = d
	}
	switch {
	case lo[axis] > hi[axis]:
		return hit{}
	case lo == hi || lo[axis] == hi[axis]:
		return hit{kind: hitTouch, p: lo}
	}
	return hit{kind: hitOverlap, p: lo, q: hi}
}

func crossingPoint(a, b, c, d orb.Point) orb.Point {
	r := orb.Point{b[0] - a[0], b[1] - a[1]}
	s := orb.Point{d[0] - c[0], d[1] - c[1]}
	den := r[0]*s[1] - r[1]*s[0]
	t := ((c[0]-a[0])*s[1] - (c[1]-a[1])*s[0]) / den
	t = math.Max(0, math.Min(1, t))
	return orb.Point{a[0] + t*r[0], a[1] + t*r[1]}
}

// param returns the position of p along a-b as a fraction of its length.
func param(a, b, p orb.Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := dx*dx + dy*dy
	if l == 0 {
		return 0
	}
	return ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / l
}

type segment struct {
	a, b       orb.Point
	poly, ring int
	idx, n     int // position in the ring and ring segment count
}

func (s segment) minX() float64 { return math.Min(s.a[0], s.b[0]) }
func (s segment) maxX() float64 { return math.Max(s.a[0], s.b[0]) }

func (s segment) overlapsY(o segment) bool {
	return math.Min(s.a[1], s.b[1]) <= math.Max(o.a[1], o.b[1]) &&
		math.Min(o.a[1], o.b[1]) <= math.Max(s.a[1], s.b[1])
}

// adjacent reports whether both segments are consecutive in the same ring.
func (s segment) adjacent(o segment) bool {
	if s.poly != o.poly || s.ring != o.ring {
		return false
	}
	d := s.idx - o.idx
	return d == 1 || d == -1 || d == s.n-1 || d == 1-s.n
}

// sweep calls fn for every pair of segments whose bounding boxes overlap,
// visiting candidates in x order.
func sweep(segs []segment, fn func(i, j int) bool) {
	order := make([]int, len(segs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(x, y int) bool {
		return segs[order[x]].minX() < segs[order[y]].minX()
	})

	var active []int
	for _, i := range order {
		s := segs[i]
		kept := active[:0]
		for _, j := range active {
			if segs[j].maxX() >= s.minX() {
				kept = append(kept, j)
			}
		}
		active = kept

		for _, j := range active {
			if !s.overlapsY(segs[j]) {
				continue
			}
			if !fn(j, i) {
				return
			}
		}
		active = append(active, i)
	}
}

// location of a point relative to a ring.
const (
	outside = -1
	onRing  = 0
	inside  = 1
)

func locate(r orb.Ring, p orb.Point) int {
	for i := 0; i+1 < len(r); i++ {
		if cross(r[i], r[i+1], p) == 0 && between(r[i], r[i+1], p) {
			return onRing
		}
	}
	if planar.RingContains(r, p) {
		return inside
	}
	return outside
}

func midpoint(a, b orb.Point) orb.Point {
	return orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
}
