package transform

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	inverseMaxIter = 50
	jacobianStep   = 1e-7

	// inverseTol bounds the absolute residual of the inverse on the unit
	// sphere, about 0.06 mm on the ground.
	inverseTol = 1e-11
)

// pseudoAzimuthal is the Aitoff projection, or the Winkel Tripel projection
// which averages Aitoff with an equirectangular projection on the standard
// parallel lat_1.
type pseudoAzimuthal struct {
	params
	tripel  bool
	cosPhi1 float64
}

func newPseudoAzimuthal(p params, tripel bool, cosPhi1 float64) pseudoAzimuthal {
	return pseudoAzimuthal{params: p, tripel: tripel, cosPhi1: cosPhi1}
}

// forward works on the unit sphere in radians.
func (w pseudoAzimuthal) forward(lam, phi float64) (float64, float64) {
	c := 0.5 * lam
	d := math.Acos(math.Cos(phi) * math.Cos(c))

	var x, y float64
	if d != 0 {
		y = 1 / math.Sin(d)
		x = 2 * d * math.Cos(phi) * math.Sin(c) * y
		y *= d * math.Sin(phi)
	}
	if w.tripel {
		x = (x + lam*w.cosPhi1) * 0.5
		y = (y + phi) * 0.5
	}
	return x, y
}

func (w pseudoAzimuthal) FromWGS84(pt orb.Point) (orb.Point, error) {
	lon, lat, err := w.lonLat(pt)
	if err != nil {
		return orb.Point{}, err
	}
	x, y := w.forward(lon*rad, lat*rad)
	return orb.Point{w.a*x + w.x0, w.a*y + w.y0}, nil
}

// ToWGS84 has no closed form. It solves forward(lam, phi) = (x, y) with a
// damped Newton iteration over a numeric Jacobian.
func (w pseudoAzimuthal) ToWGS84(pt orb.Point) (orb.Point, error) {
	x, y, err := w.local(pt)
	if err != nil {
		return orb.Point{}, err
	}
	x /= w.a
	y /= w.a

	lam, phi := x, y
	if w.tripel {
		lam = 2 * x / (1 + w.cosPhi1)
	}
	lam, phi = clampLamPhi(lam, phi)

	residual := func(l, p float64) (float64, float64) {
		fx, fy := w.forward(l, p)
		return fx - x, fy - y
	}

	rx, ry := residual(lam, phi)
	norm := math.Hypot(rx, ry)
	for i := 0; i < inverseMaxIter && norm > inverseTol; i++ {
		h := jacobianStep
		xl1, yl1 := w.forward(lam+h, phi)
		xl0, yl0 := w.forward(lam-h, phi)
		xp1, yp1 := w.forward(lam, phi+h)
		xp0, yp0 := w.forward(lam, phi-h)
		a := (xl1 - xl0) / (2 * h)
		b := (xp1 - xp0) / (2 * h)
		c := (yl1 - yl0) / (2 * h)
		d := (yp1 - yp0) / (2 * h)

		det := a*d - b*c
		if det == 0 || math.IsNaN(det) {
			break
		}
		dl := (d*rx - b*ry) / det
		dp := (a*ry - c*rx) / det

		t := 1.0
		for {
			nl, np := clampLamPhi(lam-t*dl, phi-t*dp)
			nx, ny := residual(nl, np)
			if n := math.Hypot(nx, ny); n < norm || t < 1e-4 {
				lam, phi, rx, ry, norm = nl, np, nx, ny, n
				break
			}
			t *= 0.5
		}
	}

	if norm > inverseTol {
		return orb.Point{}, domainErr(pt, "no inverse within the projected region")
	}
	return w.geo(lam*deg, phi*deg), nil
}

func clampLamPhi(lam, phi float64) (float64, float64) {
	return math.Max(-math.Pi, math.Min(math.Pi, lam)),
		math.Max(-math.Pi/2, math.Min(math.Pi/2, phi))
}
