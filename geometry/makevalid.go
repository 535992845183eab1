package geometry

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

const (
	gridScale   = 1e-12
	gridGrowth  = 1000
	maxAttempts = 3
)

// MakeValid rewrites an invalid polygon or multipolygon into a valid one.
//
// Each polygon's rings are read with the even-odd rule and the members of a
// multipolygon are united. All ring segments are noded against each other,
// vertices are snapped to a grid scaled to the geometry, and the boundary of
// the resulting region is traced back into shells and holes. Valid input is
// returned as an unchanged copy, so the function is idempotent. When nothing
// with an area survives it returns ErrCollapsed.
func MakeValid(g orb.Geometry) (orb.Geometry, error) {
	polys, err := polygonsOf(g)
	if err != nil {
		return nil, err
	}
	if polys == nil {
		return nil, ErrCollapsed
	}
	if Validate(g) == nil {
		return orb.Clone(g), nil
	}

	clean := sanitize(polys)
	if len(clean) == 0 {
		return nil, ErrCollapsed
	}

	grid := gridSize(clean)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out := rebuild(clean, grid)
		if out == nil {
			return nil, ErrCollapsed
		}
		if lastErr = Validate(out); lastErr == nil {
			return out, nil
		}
		grid *= gridGrowth
	}
	return nil, lastErr
}

// sanitize drops non-finite points, consecutive duplicates and rings whose
// points are all on one line, and closes open rings. A polygon whose shell goes is dropped whole.
func sanitize(polys []orb.Polygon) [][]orb.Ring {
	var out [][]orb.Ring
	for _, p := range polys {
		var rings []orb.Ring
		for ri, r := range p {
			c := make(orb.Ring, 0, len(r)+1)
			for _, pt := range r {
				if finite(pt) && (len(c) == 0 || c[len(c)-1] != pt) {
					c = append(c, pt)
				}
			}
			if len(c) > 0 && c[0] != c[len(c)-1] {
				c = append(c, c[0])
			}
			if len(c) < 4 || flat(c) {
				if ri == 0 {
					break
				}
				continue
			}
			rings = append(rings, c)
		}
		if len(rings) > 0 {
			out = append(out, rings)
		}
	}
	return out
}

// gridSize is the snap distance: a fraction of the larger of the extent and
// the coordinate magnitude, so that it stays above floating point resolution.
func gridSize(polys [][]orb.Ring) float64 {
	b := polys[0][0].Bound()
	for _, rings := range polys {
		for _, r := range rings {
			b = b.Union(r.Bound())
		}
	}
	scale := math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		scale = math.Max(scale, math.Abs(v))
	}
	if scale == 0 {
		scale = 1
	}
	return scale * gridScale
}

// vertexIndex merges points closer than the grid size into one vertex. The
// first point registered for a cell keeps its exact coordinates.
type vertexIndex struct {
	grid float64
	ids  map[[2]int64]int
	pts  []orb.Point
	orig []bool
}

func newVertexIndex(grid float64) *vertexIndex {
	return &vertexIndex{grid: grid, ids: make(map[[2]int64]int)}
}

func (vx *vertexIndex) add(p orb.Point, original bool) int {
	cx := int64(math.Round(p[0] / vx.grid))
	cy := int64(math.Round(p[1] / vx.grid))

	best, bestDist := -1, vx.grid
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			id, ok := vx.ids[[2]int64{cx + dx, cy + dy}]
			if !ok {
				continue
			}
			if d := math.Hypot(vx.pts[id][0]-p[0], vx.pts[id][1]-p[1]); d <= bestDist {
				best, bestDist = id, d
			}
		}
	}
	if best >= 0 {
		if original {
			vx.orig[best] = true
		}
		return best
	}

	key := [2]int64{cx, cy}
	if id, ok := vx.ids[key]; ok {
		// occupied by a vertex further away than the grid size
		if original {
			vx.orig[id] = true
		}
		return id
	}
	id := len(vx.pts)
	vx.ids[key] = id
	vx.pts = append(vx.pts, p)
	vx.orig = append(vx.orig, original)
	return id
}

type edge struct {
	from, to int
}

func rebuild(polys [][]orb.Ring, grid float64) orb.Geometry {
	vx := newVertexIndex(grid)

	var segs []segment
	for pi, rings := range polys {
		for ri, r := range rings {
			n := len(r) - 1
			for k := 0; k < n; k++ {
				segs = append(segs, segment{a: r[k], b: r[k+1], poly: pi, ring: ri, idx: k, n: n})
				vx.add(r[k], true)
			}
		}
	}

	edges := node(segs, vx)
	directed := boundary(edges, vx, polys, 4*grid)
	rings := trace(directed, vx, grid)
	return assemble(rings)
}

// node splits every segment at its intersections with all other segments and
// returns the distinct undirected edges between snapped vertices.
func node(segs []segment, vx *vertexIndex) []edge {
	splits := make([][]orb.Point, len(segs))
	sweep(segs, func(i, j int) bool {
		s, t := segs[i], segs[j]
		h := intersect(s.a, s.b, t.a, t.b)
		switch h.kind {
		case hitCross, hitTouch:
			splits[i] = append(splits[i], h.p)
			splits[j] = append(splits[j], h.p)
		case hitOverlap:
			splits[i] = append(splits[i], h.p, h.q)
			splits[j] = append(splits[j], h.p, h.q)
		}
		return true
	})

	seen := make(map[edge]bool)
	var edges []edge
	for i, s := range segs {
		pts := append([]orb.Point{s.a, s.b}, splits[i]...)
		sort.SliceStable(pts, func(x, y int) bool { return param(s.a, s.b, pts[x]) < param(s.a, s.b, pts[y]) })

		prev := -1
		for _, p := range pts {
			id := vx.add(p, false)
			if prev >= 0 && id != prev {
				key := edge{prev, id}
				if key.from > key.to {
					key = edge{key.to, key.from}
				}
				if !seen[key] {
					seen[key] = true
					edges = append(edges, edge{prev, id})
				}
			}
			prev = id
		}
	}
	return edges
}

// boundary keeps the edges with the region on exactly one side, directed so
// that the region lies on their left.
func boundary(edges []edge, vx *vertexIndex, polys [][]orb.Ring, skip float64) []edge {
	var out []edge
	for _, e := range edges {
		a, b := vx.pts[e.from], vx.pts[e.to]
		l := math.Hypot(b[0]-a[0], b[1]-a[1])
		if l == 0 {
			continue
		}
		m := midpoint(a, b)
		n := orb.Point{-(b[1] - a[1]) / l, (b[0] - a[0]) / l}

		left := covered(polys, m, n, skip)
		right := covered(polys, m, orb.Point{-n[0], -n[1]}, skip)
		switch {
		case left && !right:
			out = append(out, e)
		case right && !left:
			out = append(out, edge{e.to, e.from})
		}
	}
	return out
}

// covered reports whether the point just off o in direction dir lies inside
// any polygon, by casting a ray from o and ignoring hits closer than skip.
func covered(polys [][]orb.Ring, o, dir orb.Point, skip float64) bool {
	for _, rings := range polys {
		if rayParity(rings, o, dir, skip) {
			return true
		}
	}
	return false
}

func rayParity(rings []orb.Ring, o, dir orb.Point, skip float64) bool {
	odd := false
	for _, r := range rings {
		for k := 0; k+1 < len(r); k++ {
			a, b := r[k], r[k+1]
			sa := dir[0]*(a[1]-o[1])-dir[1]*(a[0]-o[0]) > 0
			sb := dir[0]*(b[1]-o[1])-dir[1]*(b[0]-o[0]) > 0
			if sa == sb {
				continue
			}
			ex, ey := b[0]-a[0], b[1]-a[1]
			t := ((a[0]-o[0])*ey - (a[1]-o[1])*ex) / (dir[0]*ey - dir[1]*ex)
			if t > skip {
				odd = !odd
			}
		}
	}
	return odd
}

// trace links directed boundary edges into closed rings. At a vertex with
// several outgoing edges it takes the first one clockwise from the edge it
// arrived on, which keeps faces that only touch in a point apart.
func trace(edges []edge, vx *vertexIndex, grid float64) []orb.Ring {
	outgoing := make(map[int][]int)
	for i, e := range edges {
		outgoing[e.from] = append(outgoing[e.from], i)
	}
	angle := func(from, to int) float64 {
		a, b := vx.pts[from], vx.pts[to]
		return math.Atan2(b[1]-a[1], b[0]-a[0])
	}

	used := make([]bool, len(edges))
	var rings []orb.Ring
	for start := range edges {
		if used[start] {
			continue
		}

		var ids []int
		closed := false
		for e := start; e >= 0; {
			used[e] = true
			ids = append(ids, edges[e].from)
			v := edges[e].to
			if v == edges[start].from {
				closed = true
				break
			}

			back := angle(v, edges[e].from)
			next, best := -1, math.Inf(1)
			for _, c := range outgoing[v] {
				if used[c] {
					continue
				}
				d := math.Mod(back-angle(v, edges[c].to), 2*math.Pi)
				if d <= 0 {
					d += 2 * math.Pi
				}
				if d < best {
					next, best = c, d
				}
			}
			e = next
		}
		if !closed {
			continue
		}

		for _, loop := range splitLoops(ids) {
			if r := ringOf(loop, vx, grid); r != nil {
				rings = append(rings, r)
			}
		}
	}
	return rings
}

// splitLoops cuts a closed vertex walk into simple loops at repeated vertices.
func splitLoops(ids []int) [][]int {
	var out [][]int
	pos := make(map[int]int)
	stack := make([]int, 0, len(ids))
	for _, id := range ids {
		if p, ok := pos[id]; ok {
			out = append(out, append([]int(nil), stack[p:]...))
			for _, x := range stack[p+1:] {
				delete(pos, x)
			}
			stack = stack[:p+1]
			continue
		}
		pos[id] = len(stack)
		stack = append(stack, id)
	}
	return append(out, stack)
}

// ringOf builds a closed ring from a loop of vertex ids, dropping vertices
// introduced by noding that lie on the straight line between their
// neighbours. Loops without area yield nil.
func ringOf(loop []int, vx *vertexIndex, grid float64) orb.Ring {
	ids := append([]int(nil), loop...)
	for changed := true; changed && len(ids) > 3; {
		changed = false
		for i := 0; i < len(ids) && len(ids) > 3; i++ {
			if vx.orig[ids[i]] {
				continue
			}
			prev := vx.pts[ids[(i+len(ids)-1)%len(ids)]]
			next := vx.pts[ids[(i+1)%len(ids)]]
			cur := vx.pts[ids[i]]
			l := math.Hypot(next[0]-prev[0], next[1]-prev[1])
			if l == 0 {
				continue
			}
			t := param(prev, next, cur)
			if math.Abs(cross(prev, next, cur))/l <= grid && t > 0 && t < 1 {
				ids = append(ids[:i], ids[i+1:]...)
				changed = true
				i--
			}
		}
	}
	if len(ids) < 3 {
		return nil
	}

	r := make(orb.Ring, 0, len(ids)+1)
	for _, id := range ids {
		r = append(r, vx.pts[id])
	}
	r = append(r, r[0])
	if r.Orientation() == 0 {
		return nil
	}
	return r
}

// assemble sorts traced rings into shells (counter-clockwise) and holes
// (clockwise), attaches each hole to the smallest shell containing it and
// orders everything deterministically.
func assemble(rings []orb.Ring) orb.Geometry {
	type shell struct {
		ring  orb.Ring
		area  float64
		holes []orb.Ring
	}
	var shells []*shell
	var holes []orb.Ring
	for _, r := range rings {
		r = startAtMin(r)
		if r.Orientation() == orb.CCW {
			shells = append(shells, &shell{ring: r, area: math.Abs(Area(r))})
		} else {
			holes = append(holes, r)
		}
	}
	if len(shells) == 0 {
		return nil
	}

	for _, h := range holes {
		var owner *shell
		for k := 0; k+1 < len(h); k++ {
			q := midpoint(h[k], h[k+1])
			var best *shell
			onBoundary := false
			for _, s := range shells {
				switch locate(s.ring, q) {
				case inside:
					if best == nil || s.area < best.area {
						best = s
					}
				case onRing:
					onBoundary = true
				}
			}
			if !onBoundary {
				owner = best
				break
			}
		}
		if owner != nil {
			owner.holes = append(owner.holes, h)
		}
	}

	sort.Slice(shells, func(i, j int) bool { return lessPoint(shells[i].ring[0], shells[j].ring[0]) })
	mp := make(orb.MultiPolygon, len(shells))
	for i, s := range shells {
		sort.Slice(s.holes, func(a, b int) bool { return lessPoint(s.holes[a][0], s.holes[b][0]) })
		p := orb.Polygon{s.ring}
		mp[i] = append(p, s.holes...)
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

// startAtMin rotates a closed ring to start at its lowest vertex.
func startAtMin(r orb.Ring) orb.Ring {
	n := len(r) - 1
	m := 0
	for i := 1; i < n; i++ {
		if lessPoint(r[i], r[m]) {
			m = i
		}
	}
	out := make(orb.Ring, 0, len(r))
	out = append(out, r[m:n]...)
	out = append(out, r[:m]...)
	return append(out, out[0])
}

func lessPoint(a, b orb.Point) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}
