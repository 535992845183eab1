package vector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mqsol/MeridianShift/crs"
	"github.com/mqsol/MeridianShift/feature"
	"github.com/mqsol/MeridianShift/geometry"
)

// DBF limits.
const (
	dbfNameLength   = 10
	dbfStringLength = 254
	dbfIntegerSize  = 18
	dbfRealSize     = 24
	dbfRealDecimals = 15
	dbfDateLayout   = "20060102"
)

func writeShapefile(s *staging, c *feature.Collection, _ WriteOptions) error {
	fields, err := dbfFields(c)
	if err != nil {
		return err
	}
	shapes := make([]*shp.Polygon, len(c.Features))
	for i, f := range c.Features {
		p, err := shpPolygon(f.Geometry)
		if err != nil {
			return fmt.Errorf("feature %s: %w", f.Label(i), err)
		}
		shapes[i] = p
	}

	w, err := shp.Create(s.main(), shp.POLYGON)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			w.Close()
		}
	}()
	if err := w.SetFields(fields); err != nil {
		return err
	}

	for i, f := range c.Features {
		row := int(w.Write(shapes[i]))
		for j, v := range f.Values {
			if v == nil {
				continue
			}
			if err := w.WriteAttribute(row, j, dbfValue(c.Schema.Field(j).Type, v)); err != nil {
				return fmt.Errorf("%w: feature %s: %v", ErrSchema, f.Label(i), err)
			}
		}
	}
	w.Close()
	closed = true

	// go-shp names the table "<base>dbf"; the sidecar wants "<base>.dbf".
	staged := strings.TrimSuffix(s.main(), filepath.Ext(s.main()))
	if _, err := os.Stat(staged + "dbf"); err == nil {
		if err := os.Rename(staged+"dbf", s.sidecar(".dbf")); err != nil {
			return err
		}
	} else {
		s.sidecar(".dbf")
	}
	s.sidecar(".shx")

	if err := os.WriteFile(s.sidecar(".cpg"), []byte("UTF-8"), 0o644); err != nil {
		return err
	}
	if c.CRS == nil {
		s.drop(".prj")
		return nil
	}
	return os.WriteFile(s.sidecar(".prj"), []byte(c.CRS.WKT()), 0o644)
}

// dbfFields maps the schema onto DBF columns. Names are cut to ten bytes;
// two names that become equal, ignoring case, cannot be represented.
func dbfFields(c *feature.Collection) ([]shp.Field, error) {
	fields := make([]shp.Field, c.Schema.Len())
	seen := make(map[string]string, c.Schema.Len())
	for i, f := range c.Schema.Fields() {
		name := truncate(f.Name, dbfNameLength)
		key := strings.ToUpper(name)
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: fields %q and %q both become %q", ErrSchema, prev, f.Name, name)
		}
		seen[key] = f.Name

		switch f.Type {
		case feature.FieldInteger:
			fields[i] = shp.NumberField(name, dbfIntegerSize)
		case feature.FieldReal:
			fields[i] = shp.FloatField(name, dbfRealSize, dbfRealDecimals)
		case feature.FieldBool:
			fields[i] = shp.Field{Fieldtype: 'L', Size: 1}
			copy(fields[i].Name[:], name)
		case feature.FieldDate:
			fields[i] = shp.DateField(name)
		default:
			width, err := stringWidth(c, i, f)
			if err != nil {
				return nil, err
			}
			fields[i] = shp.StringField(name, uint8(width))
		}
	}
	return fields, nil
}

// stringWidth sizes a character column to its longest value.
func stringWidth(c *feature.Collection, i int, f feature.Field) (int, error) {
	width := max(f.Width, 1)
	for _, ft := range c.Features {
		if n := len(feature.Format(ft.Values[i])); n > width {
			width = n
		}
	}
	if width > dbfStringLength {
		return 0, fmt.Errorf("%w: field %q needs %d bytes, the limit is %d", ErrSchema, f.Name, width, dbfStringLength)
	}
	return width, nil
}

func dbfValue(t feature.FieldType, v interface{}) string {
	switch t {
	case feature.FieldBool:
		if b, _ := v.(bool); b {
			return "T"
		}
		return "F"
	case feature.FieldDate:
		if d, ok := v.(time.Time); ok {
			return d.Format(dbfDateLayout)
		}
	case feature.FieldReal:
		if f, ok := v.(float64); ok {
			s := strconv.FormatFloat(f, 'f', -1, 64)
			if len(s) > dbfRealSize {
				s = strconv.FormatFloat(f, 'g', -1, 64)
			}
			return s
		}
	}
	return feature.Format(v)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// shpPolygon flattens a polygonal geometry into shapefile parts, shells
// clockwise and holes counter-clockwise. nil becomes a polygon without parts.
func shpPolygon(g orb.Geometry) (*shp.Polygon, error) {
	var polys []orb.Polygon
	switch g := geometry.Orient(g, orb.CW).(type) {
	case nil:
	case orb.Polygon:
		polys = []orb.Polygon{g}
	case orb.MultiPolygon:
		polys = g
	default:
		return nil, fmt.Errorf("%w: %T", ErrGeometryType, g)
	}

	var parts [][]shp.Point
	for _, p := range polys {
		for _, r := range p {
			if len(r) == 0 {
				continue
			}
			part := make([]shp.Point, len(r))
			for k, pt := range r {
				part[k] = shp.Point{X: pt[0], Y: pt[1]}
			}
			parts = append(parts, part)
		}
	}
	p := shp.Polygon(*shp.NewPolyLine(parts))
	return &p, nil
}

func readShapefile(path string, reg *crs.Registry) (*feature.Collection, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if r.GeometryType != shp.POLYGON && r.GeometryType != shp.NULL {
		return nil, fmt.Errorf("%w: shape type %d", ErrGeometryType, r.GeometryType)
	}

	var d *crs.Descriptor
	base := strings.TrimSuffix(path, filepath.Ext(path))
	if prj, err := os.ReadFile(base + ".prj"); err == nil {
		if d, err = reg.ResolveWKT(string(prj)); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	dbf := r.Fields()
	fields := make([]feature.Field, len(dbf))
	for i, f := range dbf {
		fields[i] = feature.Field{Name: f.String(), Type: dbfFieldType(f), Width: int(f.Size)}
		if f.Fieldtype == 'F' || f.Fieldtype == 'N' {
			fields[i].Precision = int(f.Precision)
		}
	}
	schema, err := feature.NewSchema(fields...)
	if err != nil {
		return nil, err
	}

	c := feature.New(layerName(path), schema, d)
	for r.Next() {
		row, shape := r.Shape()
		values := make([]interface{}, len(fields))
		if row < r.AttributeCount() {
			for j := range fields {
				s := strings.Trim(r.ReadAttribute(row, j), " \x00")
				if s == "" || (fields[j].Type == feature.FieldBool && s == "?") {
					continue
				}
				values[j] = s
			}
		}
		g, err := fromShape(shape)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", row, err)
		}
		if err := c.Add(&feature.Feature{Geometry: g, Values: values}); err != nil {
			return nil, fmt.Errorf("record %d: %w", row, err)
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

func dbfFieldType(f shp.Field) feature.FieldType {
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			return feature.FieldInteger
		}
		return feature.FieldReal
	case 'F':
		return feature.FieldReal
	case 'L':
		return feature.FieldBool
	case 'D':
		return feature.FieldDate
	}
	return feature.FieldString
}

// fromShape rebuilds polygons from shapefile parts. Clockwise parts are
// shells; every other part is a hole of the first shell containing it.
func fromShape(s shp.Shape) (orb.Geometry, error) {
	var p *shp.Polygon
	switch s := s.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.Polygon:
		p = s
	default:
		return nil, fmt.Errorf("%w: %T", ErrGeometryType, s)
	}
	if len(p.Parts) == 0 || len(p.Points) == 0 {
		return nil, nil
	}

	var (
		shells orb.MultiPolygon
		holes  []orb.Ring
	)
	for i, start := range p.Parts {
		end := int32(len(p.Points))
		if i+1 < len(p.Parts) {
			end = p.Parts[i+1]
		}
		if start < 0 || start > end || end > int32(len(p.Points)) {
			return nil, fmt.Errorf("%w: part %d out of range", ErrInvalidData, i)
		}
		ring := make(orb.Ring, 0, end-start)
		for _, pt := range p.Points[start:end] {
			ring = append(ring, orb.Point{pt.X, pt.Y})
		}
		if ring.Orientation() == orb.CW {
			shells = append(shells, orb.Polygon{ring})
		} else {
			holes = append(holes, ring)
		}
	}

	for _, h := range holes {
		owner := -1
		for k := range shells {
			if planar.RingContains(shells[k][0], h[0]) {
				owner = k
				break
			}
		}
		if owner < 0 {
			// A lone counter-clockwise ring is a shell written with the
			// wrong winding.
			shells = append(shells, orb.Polygon{h})
			continue
		}
		shells[owner] = append(shells[owner], h)
	}

	var g orb.Geometry = shells
	if len(shells) == 1 {
		g = shells[0]
	}
	return geometry.Orient(g, orb.CCW), nil
}
