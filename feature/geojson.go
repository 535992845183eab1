package feature

import (
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mqsol/MeridianShift/crs"
)

// Foreign members of a GeoJSON feature collection carrying what GeoJSON
// itself cannot: the layer name and the ordered, typed schema.
const (
	MemberName   = "name"
	MemberSchema = "schema"
)

// FromGeoJSON converts a GeoJSON feature collection into a collection tagged
// with d. The schema comes from the "schema" foreign member when present and
// is inferred from the properties otherwise.
func FromGeoJSON(fc *geojson.FeatureCollection, d *crs.Descriptor) (*Collection, error) {
	props := make([]map[string]interface{}, len(fc.Features))
	for i, f := range fc.Features {
		props[i] = f.Properties
	}

	schema, err := SchemaFromMember(fc.ExtraMembers[MemberSchema])
	if err != nil {
		return nil, err
	}
	if schema == nil {
		schema = InferSchema(props)
	}

	name, _ := fc.ExtraMembers[MemberName].(string)
	c := New(name, schema, d)
	c.Features = make([]*Feature, 0, len(fc.Features))

	for i, f := range fc.Features {
		values := make([]interface{}, schema.Len())
		for j, field := range schema.fields {
			values[j] = f.Properties[field.Name]
		}
		id := f.ID
		if n, ok := id.(float64); ok {
			if v, ok := integral(n); ok {
				id = v
			}
		}
		if err := c.Add(&Feature{ID: id, Geometry: f.Geometry, Values: values}); err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
	}
	return c, nil
}

// ToGeoJSON converts a collection into a GeoJSON feature collection. Dates
// are written as YYYY-MM-DD strings and the schema as a foreign member.
func ToGeoJSON(c *Collection) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		MemberSchema: SchemaMember(c.Schema),
	}
	if c.Name != "" {
		fc.ExtraMembers[MemberName] = c.Name
	}

	for _, f := range c.Features {
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID
		for i, field := range c.Schema.fields {
			var v interface{}
			if i < len(f.Values) {
				v = f.Values[i]
			}
			if t, ok := v.(time.Time); ok {
				v = t.Format(DateLayout)
			}
			gf.Properties[field.Name] = v
		}
		fc.Append(gf)
	}
	return fc
}

// SchemaMember renders a schema as a JSON-compatible list of field objects.
func SchemaMember(s *Schema) []interface{} {
	out := make([]interface{}, s.Len())
	for i, f := range s.fields {
		m := map[string]interface{}{
			"name": f.Name,
			"type": f.Type.String(),
		}
		if f.Width > 0 {
			m["width"] = f.Width
		}
		if f.Precision > 0 {
			m["precision"] = f.Precision
		}
		out[i] = m
	}
	return out
}

// SchemaFromMember parses the output of SchemaMember after a JSON round trip.
// A nil member yields a nil schema.
func SchemaFromMember(member interface{}) (*Schema, error) {
	if member == nil {
		return nil, nil
	}
	list, ok := member.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: schema member is %T, not a list", ErrSchemaMismatch, member)
	}

	fields := make([]Field, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%w: schema entry %d is %T", ErrSchemaMismatch, i, item)
		}
		name, _ := m["name"].(string)
		typeName, _ := m["type"].(string)
		t, err := ParseFieldType(typeName)
		if err != nil {
			return nil, err
		}
		fields[i] = Field{Name: name, Type: t}
		if w, ok := toInt64(m["width"]); ok {
			fields[i].Width = int(w)
		}
		if p, ok := toInt64(m["precision"]); ok {
			fields[i].Precision = int(p)
		}
	}
	return NewSchema(fields...)
}
