// Package feature defines the request-scoped data model shared by every
// pipeline stage: an attribute schema, features and feature collections.
// Stages derive new collections and never mutate their input.
package feature

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mqsol/MeridianShift/crs"
)

// Common errors returned by this package.
var (
	ErrSchemaMismatch = errors.New("feature: value does not match schema")
	ErrDuplicateField = errors.New("feature: duplicate field name")
)

// Flag marks what happened to a feature on its way through the pipeline.
type Flag uint8

const (
	FlagTransformFailed Flag = 1 << iota // geometry could not be projected
	FlagRepaired                         // geometry was rewritten to be valid
	FlagUnrepairable                     // geometry was invalid and dropped to null
	FlagSplit                            // geometry was split at the target antimeridian
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagTransformFailed, "transform-failed"},
	{FlagRepaired, "repaired"},
	{FlagUnrepairable, "unrepairable"},
	{FlagSplit, "split"},
}

// Has reports whether all bits of o are set.
func (f Flag) Has(o Flag) bool {
	return f&o == o
}

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, n := range flagNames {
		if f.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// Feature is a geometry with one attribute value per schema field. Values are
// positional; a nil value is null.
type Feature struct {
	ID       interface{}
	Geometry orb.Geometry
	Values   []interface{}
	Flags    Flag
}

// Clone returns a deep copy of the feature.
func (f *Feature) Clone() *Feature {
	c := f.WithGeometry(nil)
	if f.Geometry != nil {
		c.Geometry = orb.Clone(f.Geometry)
	}
	return c
}

// WithGeometry returns a copy of the feature carrying g. The attribute slice
// is copied; the values themselves are shared.
func (f *Feature) WithGeometry(g orb.Geometry) *Feature {
	values := make([]interface{}, len(f.Values))
	copy(values, f.Values)
	return &Feature{
		ID:       f.ID,
		Geometry: g,
		Values:   values,
		Flags:    f.Flags,
	}
}

// Label returns a printable identifier: the ID when set, otherwise "#index".
func (f *Feature) Label(index int) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	return fmt.Sprintf("#%d", index)
}

// Collection is a set of features sharing one schema and one CRS.
type Collection struct {
	Name     string
	Schema   *Schema
	CRS      *crs.Descriptor
	Features []*Feature
}

// New returns an empty collection.
func New(name string, schema *Schema, d *crs.Descriptor) *Collection {
	if schema == nil {
		schema = &Schema{}
	}
	return &Collection{
		Name:   name,
		Schema: schema,
		CRS:    d,
	}
}

// Add appends a feature after coercing its values to the schema.
func (c *Collection) Add(f *Feature) error {
	if len(f.Values) != c.Schema.Len() {
		return fmt.Errorf("%w: feature %v has %d values, schema has %d fields",
			ErrSchemaMismatch, f.ID, len(f.Values), c.Schema.Len())
	}
	for i, v := range f.Values {
		field := c.Schema.Field(i)
		cv, err := Coerce(field.Type, v)
		if err != nil {
			return fmt.Errorf("feature %v field %q: %w", f.ID, field.Name, err)
		}
		f.Values[i] = cv
	}
	c.Features = append(c.Features, f)
	return nil
}

// Len returns the number of features.
func (c *Collection) Len() int {
	return len(c.Features)
}

// Derive returns an empty collection with the same name and schema, tagged
// with d.
func (c *Collection) Derive(d *crs.Descriptor) *Collection {
	out := New(c.Name, c.Schema, d)
	out.Features = make([]*Feature, 0, len(c.Features))
	return out
}

// Value returns the value of the named field of f.
func (c *Collection) Value(f *Feature, name string) (interface{}, bool) {
	i, ok := c.Schema.Index(name)
	if !ok || i >= len(f.Values) {
		return nil, false
	}
	return f.Values[i], true
}

// Bound returns the bounding box of all non-null geometries.
func (c *Collection) Bound() orb.Bound {
	var (
		b     orb.Bound
		first = true
	)
	for _, f := range c.Features {
		if f.Geometry == nil || isEmpty(f.Geometry) {
			continue
		}
		if first {
			b = f.Geometry.Bound()
			first = false
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b
}

func isEmpty(g orb.Geometry) bool {
	switch g := g.(type) {
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case orb.MultiPolygon:
		for _, p := range g {
			if len(p) > 0 && len(p[0]) > 0 {
				return false
			}
		}
		return true
	}
	return false
}
