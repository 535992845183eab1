package vector

import (
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mqsol/MeridianShift/crs"
	"github.com/mqsol/MeridianShift/feature"
	"github.com/mqsol/MeridianShift/geometry"
)

const memberCRS = "crs"

func writeGeoJSON(s *staging, c *feature.Collection, opts WriteOptions) error {
	out := c.Derive(c.CRS)
	out.Name = opts.Layer
	for _, f := range c.Features {
		out.Features = append(out.Features, f.WithGeometry(geometry.Orient(f.Geometry, orb.CCW)))
	}

	fc := feature.ToGeoJSON(out)
	if c.CRS != nil {
		fc.ExtraMembers[memberCRS] = crsMember(c.CRS)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(s.main(), data, 0o644)
}

// crsMember renders the pre-RFC 7946 "crs" member. Authority codes become
// OGC URNs; anything else is named by its definition string.
func crsMember(d *crs.Descriptor) map[string]interface{} {
	name := d.Definition()
	if auth, code, ok := strings.Cut(d.Authority(), ":"); ok {
		name = fmt.Sprintf("urn:ogc:def:crs:%s::%s", auth, code)
	}
	return map[string]interface{}{
		"type":       "name",
		"properties": map[string]interface{}{"name": name},
	}
}

func readGeoJSON(path string, reg *crs.Registry) (*feature.Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	id := crs.WGS84
	if m, ok := fc.ExtraMembers[memberCRS].(map[string]interface{}); ok {
		if props, ok := m["properties"].(map[string]interface{}); ok {
			if name, ok := props["name"].(string); ok && name != "" {
				id = name
			}
		}
	}
	d, err := reg.Resolve(id)
	if err != nil {
		return nil, err
	}

	c, err := feature.FromGeoJSON(fc, d)
	if err != nil {
		return nil, err
	}
	if c.Name == "" {
		c.Name = layerName(path)
	}
	return c, nil
}
