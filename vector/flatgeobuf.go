package vector

import (
	"bufio"
	"fmt"
	"os"

	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/index"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"

	"github.com/mqsol/MeridianShift/crs"
	"github.com/mqsol/MeridianShift/feature"
)

// fgbMagicSize is the length of the FlatGeobuf signature.
const fgbMagicSize = 8

func writeFlatGeobuf(s *staging, c *feature.Collection, opts WriteOptions) error {
	builder := flatbuffers.NewBuilder(4096)

	header := writer.NewHeader(builder)
	header.SetName(opts.Layer)
	header.SetGeometryType(collectionGeometryType(c))
	header.SetFeaturesCount(uint64(c.Len()))
	if hasGeometry(c) {
		b := c.Bound()
		header.SetEnvelope([]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]})
	}

	columns := make([]*writer.Column, c.Schema.Len())
	for i, f := range c.Schema.Fields() {
		col := writer.NewColumn(builder)
		col.SetName(f.Name)
		col.SetTitle(f.Name)
		col.SetType(columnType(f.Type))
		col.SetNullable(true)
		if f.Width > 0 {
			col.SetWidth(f.Width)
		}
		if f.Precision > 0 {
			col.SetPrecision(f.Precision)
		}
		columns[i] = col
	}
	if len(columns) > 0 {
		header.SetColumns(columns)
	}

	if c.CRS != nil {
		ref := writer.NewCrs(builder)
		if code := c.CRS.EPSG(); code > 0 {
			ref.SetOrg("EPSG")
			ref.SetCode(int32(code))
		} else if auth := c.CRS.Authority(); auth != "" {
			ref.SetCodeString(auth)
		}
		ref.SetName(c.CRS.Name())
		ref.SetDescription(c.CRS.WKT())
		header.SetCrs(ref)
	}

	gen := &collectionGenerator{collection: c}
	for i, f := range c.Features {
		if err := checkGeometry(f.Geometry); err != nil {
			return fmt.Errorf("feature %s: %w", f.Label(i), err)
		}
	}

	// The index needs a box per feature; null geometries have none.
	includeIndex := !opts.NoIndex && c.Len() > 0 && allGeometries(c)

	file, err := os.Create(s.main())
	if err != nil {
		return err
	}
	buf := bufio.NewWriter(file)
	fgbWriter := writer.NewWriter(header, includeIndex, gen, nil, writer.WithMemory())
	if _, err := fgbWriter.Write(buf); err != nil {
		file.Close()
		return err
	}
	if gen.err != nil {
		file.Close()
		return gen.err
	}
	if err := buf.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// collectionGenerator feeds the features of a collection, in order, to the
// FlatGeobuf writer. Null geometries are written as empty geometries so that
// every feature keeps its place.
type collectionGenerator struct {
	collection *feature.Collection
	index      int
	err        error
}

func (g *collectionGenerator) Generate() *writer.Feature {
	if g.err != nil || g.index >= len(g.collection.Features) {
		return nil
	}
	f := g.collection.Features[g.index]
	g.index++

	builder := flatbuffers.NewBuilder(1024)
	geom := geometryToFGB(f.Geometry, builder)
	if geom == nil {
		geom = writer.NewGeometry(builder)
	}

	out := writer.NewFeature(builder)
	out.SetGeometry(geom)

	props, err := encodeProperties(f.Values, g.collection.Schema)
	if err != nil {
		g.err = fmt.Errorf("feature %s: %w", f.Label(g.index-1), err)
		return nil
	}
	if len(props) > 0 {
		out.SetProperties(props)
	}
	return out
}

func hasGeometry(c *feature.Collection) bool {
	for _, f := range c.Features {
		if f.Geometry != nil {
			return true
		}
	}
	return false
}

func allGeometries(c *feature.Collection) bool {
	for _, f := range c.Features {
		if f.Geometry == nil {
			return false
		}
	}
	return true
}

// FlatGeobufHeader contains metadata about a FlatGeobuf file.
type FlatGeobufHeader struct {
	Name          string
	GeometryType  string
	FeaturesCount uint64
	Envelope      [4]float64
	HasIndex      bool
	Columns       []feature.Field

	// CRS is the stored reference: AUTH:CODE when present, else WKT.
	CRS string
}

// FlatGeobufReader provides read access to a FlatGeobuf file.
type FlatGeobufReader struct {
	path           string
	data           []byte
	fgb            *flatgeobuf.FlatGeoBuf
	featuresOffset int
}

// OpenFlatGeobuf loads a FlatGeobuf file into memory.
func OpenFlatGeobuf(path string) (*FlatGeobufReader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := newFlatGeobufReader(data)
	if err != nil {
		return nil, err
	}
	r.path = path
	return r, nil
}

func newFlatGeobufReader(data []byte) (*FlatGeobufReader, error) {
	if len(data) < fgbMagicSize+flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("%w: file too short", ErrInvalidData)
	}
	fgb, err := flatgeobuf.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	h := fgb.Header()
	offset := fgbMagicSize + flatbuffers.SizeUOffsetT + int(flatbuffers.GetUOffsetT(data[fgbMagicSize:]))
	if size := h.IndexNodeSize(); size > 0 && h.FeaturesCount() > 0 {
		if offset > len(data) {
			return nil, fmt.Errorf("%w: truncated header", ErrInvalidData)
		}
		tree := index.NewPackedRTreeFromData(data[offset:], h.FeaturesCount(), size, false)
		offset += int(tree.Size())
	}
	if offset > len(data) {
		return nil, fmt.Errorf("%w: truncated index", ErrInvalidData)
	}
	return &FlatGeobufReader{data: data, fgb: fgb, featuresOffset: offset}, nil
}

// Header returns metadata about the file.
func (r *FlatGeobufReader) Header() *FlatGeobufHeader {
	h := r.fgb.Header()
	header := &FlatGeobufHeader{
		Name:          string(h.Name()),
		GeometryType:  flattypes.EnumNamesGeometryType[h.GeometryType()],
		FeaturesCount: h.FeaturesCount(),
		HasIndex:      h.IndexNodeSize() > 0,
		Columns:       columnsFromHeader(h),
	}
	if h.EnvelopeLength() >= 4 {
		header.Envelope = [4]float64{h.Envelope(0), h.Envelope(1), h.Envelope(2), h.Envelope(3)}
	}

	var ref flattypes.Crs
	if h.Crs(&ref) != nil {
		switch {
		case ref.Code() > 0:
			org := string(ref.Org())
			if org == "" {
				org = "EPSG"
			}
			header.CRS = fmt.Sprintf("%s:%d", org, ref.Code())
		case len(ref.CodeString()) > 0:
			header.CRS = string(ref.CodeString())
		case len(ref.Wkt()) > 0:
			header.CRS = string(ref.Wkt())
		case looksLikeWKT(ref.Description()):
			header.CRS = string(ref.Description())
		}
	}
	return header
}

// ReadAll returns every feature in file order.
func (r *FlatGeobufReader) ReadAll(reg *crs.Registry) (*feature.Collection, error) {
	c, err := r.collection(reg)
	if err != nil {
		return nil, err
	}

	h := r.fgb.Header()
	offset := r.featuresOffset
	for i := uint64(0); i < h.FeaturesCount(); i++ {
		if offset+flatbuffers.SizeUOffsetT > len(r.data) {
			return nil, fmt.Errorf("%w: feature %d is truncated", ErrInvalidData, i)
		}
		size := int(flatbuffers.GetUOffsetT(r.data[offset:]))
		if offset+flatbuffers.SizeUOffsetT+size > len(r.data) {
			return nil, fmt.Errorf("%w: feature %d is truncated", ErrInvalidData, i)
		}
		f := flattypes.GetSizePrefixedRootAsFeature(r.data, flatbuffers.UOffsetT(offset))
		if err := r.add(c, f); err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		offset += flatbuffers.SizeUOffsetT + size
	}
	return c, nil
}

// Search returns the features whose boxes intersect b, using the spatial
// index of the file.
func (r *FlatGeobufReader) Search(b orb.Bound, reg *crs.Registry) (*feature.Collection, error) {
	h := r.fgb.Header()
	if h.IndexNodeSize() == 0 {
		return nil, ErrNoIndex
	}
	c, err := r.collection(reg)
	if err != nil {
		return nil, err
	}
	if h.FeaturesCount() == 0 {
		return c, nil
	}
	hits, err := r.fgb.Search(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	if err != nil {
		return nil, err
	}
	for i, f := range hits {
		if err := r.add(c, f); err != nil {
			return nil, fmt.Errorf("hit %d: %w", i, err)
		}
	}
	return c, nil
}

// collection returns an empty collection with the schema and CRS of the file.
func (r *FlatGeobufReader) collection(reg *crs.Registry) (*feature.Collection, error) {
	if reg == nil {
		reg = crs.NewRegistry()
	}
	header := r.Header()
	schema, err := feature.NewSchema(header.Columns...)
	if err != nil {
		return nil, err
	}

	var d *crs.Descriptor
	if header.CRS != "" {
		if d, err = reg.Resolve(header.CRS); err != nil {
			return nil, err
		}
	}

	name := header.Name
	if name == "" && r.path != "" {
		name = layerName(r.path)
	}
	return feature.New(name, schema, d), nil
}

func (r *FlatGeobufReader) add(c *feature.Collection, f *flattypes.Feature) error {
	h := r.fgb.Header()
	var geomObj flattypes.Geometry
	var g orb.Geometry
	if geom := f.Geometry(&geomObj); geom != nil {
		g = geometryFromFGB(geom, h.GeometryType())
	}
	values, err := decodeProperties(f.PropertiesBytes(), h)
	if err != nil {
		return err
	}
	return c.Add(&feature.Feature{Geometry: g, Values: values})
}

func looksLikeWKT(b []byte) bool {
	for _, kw := range []string{"GEOGCS[", "PROJCS[", "GEOGCRS[", "PROJCRS["} {
		if len(b) >= len(kw) && string(b[:len(kw)]) == kw {
			return true
		}
	}
	return false
}
