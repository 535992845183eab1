package reproject

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
)

// seamInset keeps clipped vertices off the seam itself, where the target
// projection is undefined.
const seamInset = 1e-9

// splitAtSeam cuts a geographic polygon or multipolygon at the antimeridian
// of lon0. Rings are first unwrapped so that they do not jump across the
// ±180° line, then clipped into every 360° window bounded by the seam. It
// reports false when the geometry lies inside a single window and was left
// alone.
func splitAtSeam(g orb.Geometry, lon0 float64) (orb.Geometry, bool) {
	var polys []orb.Polygon
	switch g := g.(type) {
	case orb.Polygon:
		polys = []orb.Polygon{g}
	case orb.MultiPolygon:
		polys = g
	default:
		return g, false
	}

	west := lon0 - 180
	var (
		out   orb.MultiPolygon
		split bool
	)
	for _, p := range polys {
		u := unwrap(p)
		if len(u) == 0 || len(u[0]) == 0 {
			continue
		}
		b := u.Bound()
		lo := int(math.Floor((b.Min[0] - west) / 360))
		hi := int(math.Floor((b.Max[0] - west) / 360))
		if lo == hi && b.Min[0]-west-360*float64(lo) > seamInset && west+360*float64(lo+1)-b.Max[0] > seamInset {
			out = append(out, u)
			continue
		}

		split = true
		for k := lo; k <= hi; k++ {
			window := orb.Bound{
				Min: orb.Point{west + 360*float64(k) + seamInset, -90},
				Max: orb.Point{west + 360*float64(k+1) - seamInset, 90},
			}
			piece := clip.Polygon(window, u.Clone())
			if len(piece) == 0 || planar.Area(piece[0]) == 0 {
				continue
			}
			out = append(out, piece)
		}
	}

	if !split {
		return g, false
	}
	switch len(out) {
	case 0:
		return nil, true
	case 1:
		return out[0], true
	}
	return out, true
}

// unwrap returns a copy of p whose rings have no longitude jumps larger than
// 180°. Holes are shifted by whole turns to sit next to the shell.
func unwrap(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		u := make(orb.Ring, len(r))
		shift := 0.0
		for k, pt := range r {
			if k > 0 {
				d := pt[0] + shift - u[k-1][0]
				if d > 180 {
					shift -= 360
				} else if d < -180 {
					shift += 360
				}
			}
			u[k] = orb.Point{pt[0] + shift, pt[1]}
		}
		if i > 0 && len(u) > 0 && len(out[0]) > 0 {
			turns := math.Round((out[0][0][0] - u[0][0]) / 360)
			for k := range u {
				u[k][0] += 360 * turns
			}
		}
		out[i] = u
	}
	return out
}
