// Package transform maps coordinates between the coordinate reference systems
// understood by package crs. Every transform is a chain of projection legs
// through geographic WGS84.
package transform

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mqsol/MeridianShift/crs"
)

// Common errors returned by this package.
var (
	ErrDomain      = errors.New("transform: point outside projection domain")
	ErrUnsupported = errors.New("transform: unsupported transform")
)

// DomainError reports a single point that cannot be transformed.
type DomainError struct {
	Point  orb.Point
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("transform: point (%g %g) outside projection domain: %s", e.Point[0], e.Point[1], e.Reason)
}

// Unwrap allows errors.Is(err, ErrDomain).
func (e *DomainError) Unwrap() error {
	return ErrDomain
}

func domainErr(p orb.Point, format string, args ...interface{}) error {
	return &DomainError{Point: p, Reason: fmt.Sprintf(format, args...)}
}

// Transformer maps points and geometries from one system to another.
type Transformer interface {
	Source() *crs.Descriptor
	Target() *crs.Descriptor
	IsIdentity() bool
	Apply(p orb.Point) (orb.Point, error)
	ApplyGeometry(g orb.Geometry) (orb.Geometry, error)
}

type step func(orb.Point) (orb.Point, error)

// Transform is an immutable point mapping between two descriptors. It is safe
// for concurrent use.
type Transform struct {
	source   *crs.Descriptor
	target   *crs.Descriptor
	steps    []step
	identity bool
}

var _ Transformer = (*Transform)(nil)

// Build returns the transform from source to target. Descriptors with the same
// canonical form yield the identity transform, which returns vertices unchanged.
func Build(source, target *crs.Descriptor) (*Transform, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("%w: missing coordinate reference system", ErrUnsupported)
	}
	if source.Equal(target) {
		return &Transform{source: source, target: target, identity: true}, nil
	}

	from, err := ForDescriptor(source)
	if err != nil {
		return nil, err
	}
	to, err := ForDescriptor(target)
	if err != nil {
		return nil, err
	}

	return &Transform{
		source: source,
		target: target,
		steps:  []step{from.ToWGS84, to.FromWGS84},
	}, nil
}

// Compose chains a then b. The target of a must equal the source of b.
func Compose(a, b *Transform) (*Transform, error) {
	if !a.target.Equal(b.source) {
		return nil, fmt.Errorf("%w: cannot compose %s -> %s with %s -> %s",
			ErrUnsupported, a.source, a.target, b.source, b.target)
	}
	steps := make([]step, 0, len(a.steps)+len(b.steps))
	steps = append(steps, a.steps...)
	steps = append(steps, b.steps...)
	return &Transform{
		source:   a.source,
		target:   b.target,
		steps:    steps,
		identity: a.identity && b.identity,
	}, nil
}

// Source returns the source descriptor.
func (t *Transform) Source() *crs.Descriptor { return t.source }

// Target returns the target descriptor.
func (t *Transform) Target() *crs.Descriptor { return t.target }

// IsIdentity reports whether the transform leaves coordinates untouched.
func (t *Transform) IsIdentity() bool { return t.identity }

// Apply transforms a single point.
func (t *Transform) Apply(p orb.Point) (orb.Point, error) {
	var err error
	for _, s := range t.steps {
		p, err = s(p)
		if err != nil {
			return orb.Point{}, err
		}
	}
	return p, nil
}

// ApplyGeometry transforms every vertex of g, preserving ring structure and
// winding. The input is never modified. The first failing vertex aborts the
// whole geometry with its DomainError.
func (t *Transform) ApplyGeometry(g orb.Geometry) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	if t.identity {
		return orb.Clone(g), nil
	}

	switch g := g.(type) {
	case orb.Point:
		return t.Apply(g)
	case orb.MultiPoint:
		out, err := t.points(g)
		return orb.MultiPoint(out), err
	case orb.LineString:
		out, err := t.points(g)
		return orb.LineString(out), err
	case orb.Ring:
		return t.ring(g)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(g))
		for i, ls := range g {
			pts, err := t.points(ls)
			if err != nil {
				return nil, err
			}
			out[i] = orb.LineString(pts)
		}
		return out, nil
	case orb.Polygon:
		return t.polygon(g)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(g))
		for i, p := range g {
			tp, err := t.polygon(p)
			if err != nil {
				return nil, err
			}
			out[i] = tp
		}
		return out, nil
	case orb.Collection:
		out := make(orb.Collection, len(g))
		for i, c := range g {
			tc, err := t.ApplyGeometry(c)
			if err != nil {
				return nil, err
			}
			out[i] = tc
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: geometry type %s", ErrUnsupported, g.GeoJSONType())
}

func (t *Transform) points(in []orb.Point) ([]orb.Point, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]orb.Point, len(in))
	for i, p := range in {
		tp, err := t.Apply(p)
		if err != nil {
			return nil, err
		}
		out[i] = tp
	}
	return out, nil
}

func (t *Transform) ring(r orb.Ring) (orb.Ring, error) {
	out, err := t.points(r)
	return orb.Ring(out), err
}

func (t *Transform) polygon(p orb.Polygon) (orb.Polygon, error) {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		tr, err := t.ring(r)
		if err != nil {
			return nil, err
		}
		out[i] = tr
	}
	return out, nil
}

func (t *Transform) String() string {
	return fmt.Sprintf("%s -> %s", t.source, t.target)
}
