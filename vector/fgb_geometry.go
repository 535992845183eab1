package vector

import (
	"fmt"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"

	"github.com/mqsol/MeridianShift/feature"
)

// checkGeometry accepts the geometries a polygon layer can hold.
func checkGeometry(g orb.Geometry) error {
	switch g.(type) {
	case nil, orb.Polygon, orb.MultiPolygon:
		return nil
	}
	return fmt.Errorf("%w: %T", ErrGeometryType, g)
}

// fgbGeometryType converts an orb.Geometry to its FlatGeobuf GeometryType.
func fgbGeometryType(g orb.Geometry) flattypes.GeometryType {
	switch g.(type) {
	case orb.Polygon:
		return flattypes.GeometryTypePolygon
	case orb.MultiPolygon:
		return flattypes.GeometryTypeMultiPolygon
	}
	return flattypes.GeometryTypeUnknown
}

// collectionGeometryType is the type shared by every non-null geometry, or
// Unknown for mixed and empty collections.
func collectionGeometryType(c *feature.Collection) flattypes.GeometryType {
	t := flattypes.GeometryTypeUnknown
	for _, f := range c.Features {
		if f.Geometry == nil {
			continue
		}
		ft := fgbGeometryType(f.Geometry)
		if t == flattypes.GeometryTypeUnknown {
			t = ft
		} else if t != ft {
			return flattypes.GeometryTypeUnknown
		}
	}
	return t
}

// geometryToFGB converts a polygonal geometry to a FlatGeobuf geometry. It
// returns nil for nil and unsupported geometries.
func geometryToFGB(g orb.Geometry, builder *flatbuffers.Builder) *writer.Geometry {
	switch v := g.(type) {
	case orb.Polygon:
		fg := writer.NewGeometry(builder)
		fg.SetType(flattypes.GeometryTypePolygon)
		xy, ends := polygonToXYEnds(v)
		fg.SetXY(xy)
		fg.SetEnds(ends)
		return fg

	case orb.MultiPolygon:
		fg := writer.NewGeometry(builder)
		fg.SetType(flattypes.GeometryTypeMultiPolygon)
		parts := make([]writer.Geometry, 0, len(v))
		for _, poly := range v {
			pg := writer.NewGeometry(builder)
			pg.SetType(flattypes.GeometryTypePolygon)
			xy, ends := polygonToXYEnds(poly)
			pg.SetXY(xy)
			pg.SetEnds(ends)
			parts = append(parts, *pg)
		}
		fg.SetParts(parts)
		return fg
	}
	return nil
}

// geometryFromFGB converts a FlatGeobuf geometry to an orb.Geometry. Files
// with a typed header may leave the per-feature type unset. An empty
// geometry reads as nil.
func geometryFromFGB(fg *flattypes.Geometry, headerType flattypes.GeometryType) orb.Geometry {
	if fg.XyLength() == 0 && fg.PartsLength() == 0 {
		return nil
	}
	t := fg.Type()
	if t == flattypes.GeometryTypeUnknown {
		t = headerType
	}

	switch t {
	case flattypes.GeometryTypePolygon:
		if p := polygonFromXYEnds(fg); len(p) > 0 {
			return p
		}
	case flattypes.GeometryTypeMultiPolygon:
		if mp := multiPolygonFromParts(fg); len(mp) > 0 {
			return mp
		}
	}
	return nil
}

func polygonToXYEnds(poly orb.Polygon) ([]float64, []uint32) {
	totalPoints := 0
	for _, ring := range poly {
		totalPoints += len(ring)
	}

	xy := make([]float64, 0, totalPoints*2)
	ends := make([]uint32, 0, len(poly))

	cumulative := uint32(0)
	for _, ring := range poly {
		for _, p := range ring {
			xy = append(xy, p[0], p[1])
		}
		cumulative += uint32(len(ring))
		ends = append(ends, cumulative)
	}

	return xy, ends
}

func polygonFromXYEnds(fg *flattypes.Geometry) orb.Polygon {
	xyLen := fg.XyLength()
	endsLen := fg.EndsLength()
	if xyLen < 2 {
		return nil
	}

	// Without ends every point belongs to the shell.
	if endsLen == 0 {
		ring := make(orb.Ring, 0, xyLen/2)
		for i := 0; i+1 < xyLen; i += 2 {
			ring = append(ring, orb.Point{fg.Xy(i), fg.Xy(i + 1)})
		}
		return orb.Polygon{ring}
	}

	poly := make(orb.Polygon, 0, endsLen)
	start := uint32(0)
	for i := 0; i < endsLen; i++ {
		end := fg.Ends(i)
		if end < start {
			break
		}
		ring := make(orb.Ring, 0, end-start)
		for j := start; j < end; j++ {
			idx := int(j) * 2
			if idx+1 < xyLen {
				ring = append(ring, orb.Point{fg.Xy(idx), fg.Xy(idx + 1)})
			}
		}
		poly = append(poly, ring)
		start = end
	}
	return poly
}

func multiPolygonFromParts(fg *flattypes.Geometry) orb.MultiPolygon {
	partsLen := fg.PartsLength()
	if partsLen == 0 {
		if poly := polygonFromXYEnds(fg); len(poly) > 0 {
			return orb.MultiPolygon{poly}
		}
		return nil
	}

	mp := make(orb.MultiPolygon, 0, partsLen)
	for i := 0; i < partsLen; i++ {
		var part flattypes.Geometry
		if fg.Parts(&part, i) {
			if poly := polygonFromXYEnds(&part); len(poly) > 0 {
				mp = append(mp, poly)
			}
		}
	}
	return mp
}
