// Package geometry implements the planar validity predicate and the
// make-valid repair for polygonal geometries.
//
// A polygon is valid when every ring is closed, has at least three distinct
// vertices and non-zero area, no ring touches or crosses itself, rings of the
// same geometry meet in isolated points at most, every hole lies inside its
// shell, holes do not nest and multipolygon members do not overlap. Winding
// order is not part of validity; use Orient to normalise it.
package geometry

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Common errors returned by this package.
var (
	ErrInvalid     = errors.New("geometry: invalid geometry")
	ErrCollapsed   = errors.New("geometry: geometry collapsed during repair")
	ErrUnsupported = errors.New("geometry: unsupported geometry type")
)

// Reasons reported by ValidityError.
const (
	ReasonEmpty            = "empty geometry"
	ReasonInvalidCoord     = "invalid coordinate"
	ReasonTooFewPoints     = "too few points"
	ReasonNotClosed        = "ring not closed"
	ReasonZeroArea         = "zero-area ring"
	ReasonSelfIntersection = "self-intersection"
	ReasonRingIntersection = "ring intersection"
	ReasonHoleOutside      = "hole outside shell"
	ReasonNestedHoles      = "nested holes"
	ReasonNestedShells     = "nested shells"
)

// ValidityError describes the first problem found in a geometry.
type ValidityError struct {
	Reason string
	Point  orb.Point
}

func (e *ValidityError) Error() string {
	return fmt.Sprintf("geometry: %s at (%g %g)", e.Reason, e.Point[0], e.Point[1])
}

// Unwrap allows errors.Is(err, ErrInvalid).
func (e *ValidityError) Unwrap() error {
	return ErrInvalid
}

func invalid(reason string, p orb.Point) *ValidityError {
	return &ValidityError{Reason: reason, Point: p}
}

// Engine validates and repairs geometries.
type Engine interface {
	Validate(g orb.Geometry) error
	Repair(g orb.Geometry) (orb.Geometry, error)
}

// Planar is the pure Go engine backed by Validate and MakeValid.
type Planar struct{}

var _ Engine = Planar{}

// Validate implements Engine.
func (Planar) Validate(g orb.Geometry) error { return Validate(g) }

// Repair implements Engine.
func (Planar) Repair(g orb.Geometry) (orb.Geometry, error) { return MakeValid(g) }

// Area returns the planar area of a polygonal geometry, 0 for nil.
func Area(g orb.Geometry) float64 {
	switch g := g.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Ring:
		return planar.Area(g)
	}
	return 0
}

// Orient returns a copy of g whose shells have the given orientation and
// whose holes have the opposite one. RFC 7946 GeoJSON uses orb.CCW, ESRI
// shapefiles use orb.CW.
func Orient(g orb.Geometry, shell orb.Orientation) orb.Geometry {
	switch g := g.(type) {
	case orb.Polygon:
		return orientPolygon(g, shell)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(g))
		for i, p := range g {
			out[i] = orientPolygon(p, shell)
		}
		return out
	}
	if g == nil {
		return nil
	}
	return orb.Clone(g)
}

func orientPolygon(p orb.Polygon, shell orb.Orientation) orb.Polygon {
	out := p.Clone()
	for i, r := range out {
		want := shell
		if i > 0 {
			want = -shell
		}
		if len(r) == 0 {
			continue
		}
		if o := r.Orientation(); o != 0 && o != want {
			r.Reverse()
		}
	}
	return out
}
