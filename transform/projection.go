package transform

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mqsol/MeridianShift/crs"
)

// Projection converts between a coordinate system and geographic WGS84
// longitude/latitude in degrees.
type Projection interface {
	ToWGS84(p orb.Point) (orb.Point, error)
	FromWGS84(p orb.Point) (orb.Point, error)
}

// WebMercatorMaxLat is the latitude where the pseudo-Mercator square ends.
const WebMercatorMaxLat = 85.0511287798

const (
	deg = 180 / math.Pi
	rad = math.Pi / 180
)

// ForDescriptor returns the projection for a descriptor's family.
func ForDescriptor(d *crs.Descriptor) (Projection, error) {
	base := params{
		a:    d.SemiMajor(),
		lon0: d.CentralMeridian(),
		x0:   d.Float("x_0", 0),
		y0:   d.Float("y_0", 0),
	}

	switch d.Family() {
	case crs.FamilyLongLat:
		return geographic{}, nil
	case crs.FamilyWebMerc:
		return webMercator{base}, nil
	case crs.FamilyMerc:
		e := math.Sqrt(d.Flattening() * (2 - d.Flattening()))
		ts := d.Float("lat_ts", 0) * rad
		sin := math.Sin(ts)
		return mercator{
			params: base,
			e:      e,
			k0:     math.Cos(ts) / math.Sqrt(1-e*e*sin*sin),
		}, nil
	case crs.FamilyEqc:
		return equirectangular{
			params: base,
			cosTs:  math.Cos(d.Float("lat_ts", 0) * rad),
			lat0:   d.Float("lat_0", 0) * rad,
		}, nil
	case crs.FamilyWintri:
		lat1 := d.Float("lat_1", crs.WintriDefaultLat1)
		return newPseudoAzimuthal(base, true, math.Cos(lat1*rad)), nil
	case crs.FamilyAitoff:
		return newPseudoAzimuthal(base, false, 0), nil
	}
	return nil, fmt.Errorf("%w: projection family %q", ErrUnsupported, d.Family())
}

type params struct {
	a      float64
	lon0   float64
	x0, y0 float64
}

// lonLat validates a geographic point and returns its longitude relative to
// the central meridian in [-180, 180). Points on the antimeridian of the
// central meridian have no unambiguous image.
func (p params) lonLat(pt orb.Point) (float64, float64, error) {
	if err := checkGeographic(pt); err != nil {
		return 0, 0, err
	}
	lon := crs.NormalizeLongitude(pt[0] - p.lon0)
	if lon == -180 {
		return 0, 0, domainErr(pt, "on the antimeridian of central meridian %g", p.lon0)
	}
	return lon, pt[1], nil
}

// geo converts a longitude relative to the central meridian back to an
// absolute one.
func (p params) geo(lon, lat float64) orb.Point {
	return orb.Point{crs.NormalizeLongitude(lon + p.lon0), lat}
}

func (p params) local(pt orb.Point) (float64, float64, error) {
	if !finite(pt) {
		return 0, 0, domainErr(pt, "non-finite coordinate")
	}
	return pt[0] - p.x0, pt[1] - p.y0, nil
}

func checkGeographic(p orb.Point) error {
	if !finite(p) {
		return domainErr(p, "non-finite coordinate")
	}
	if math.Abs(p[1]) > 90 {
		return domainErr(p, "latitude beyond the poles")
	}
	return nil
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

// geographic is longitude/latitude on WGS84 (or a sphere treated as WGS84).
type geographic struct{}

func (geographic) ToWGS84(p orb.Point) (orb.Point, error) {
	if err := checkGeographic(p); err != nil {
		return orb.Point{}, err
	}
	return p, nil
}

func (geographic) FromWGS84(p orb.Point) (orb.Point, error) {
	if err := checkGeographic(p); err != nil {
		return orb.Point{}, err
	}
	return p, nil
}

// webMercator is EPSG:3857, delegated to orb/project.
type webMercator struct {
	params
}

func (m webMercator) FromWGS84(pt orb.Point) (orb.Point, error) {
	lon, lat, err := m.lonLat(pt)
	if err != nil {
		return orb.Point{}, err
	}
	if math.Abs(lat) > WebMercatorMaxLat {
		return orb.Point{}, domainErr(pt, "latitude beyond %g", WebMercatorMaxLat)
	}
	xy := project.WGS84.ToMercator(orb.Point{lon, lat})
	return orb.Point{xy[0] + m.x0, xy[1] + m.y0}, nil
}

func (m webMercator) ToWGS84(pt orb.Point) (orb.Point, error) {
	x, y, err := m.local(pt)
	if err != nil {
		return orb.Point{}, err
	}
	ll := project.Mercator.ToWGS84(orb.Point{x, y})
	return m.geo(ll[0], ll[1]), nil
}

// mercator is the ellipsoidal Mercator (EPSG:3395 family).
type mercator struct {
	params
	e  float64
	k0 float64
}

func (m mercator) FromWGS84(pt orb.Point) (orb.Point, error) {
	lon, lat, err := m.lonLat(pt)
	if err != nil {
		return orb.Point{}, err
	}
	if math.Abs(math.Abs(lat)-90) < 1e-10 {
		return orb.Point{}, domainErr(pt, "pole has no Mercator image")
	}
	phi := lat * rad
	es := m.e * math.Sin(phi)
	y := math.Log(math.Tan(math.Pi/4+phi/2) * math.Pow((1-es)/(1+es), m.e/2))
	return orb.Point{
		m.a*m.k0*lon*rad + m.x0,
		m.a*m.k0*y + m.y0,
	}, nil
}

func (m mercator) ToWGS84(pt orb.Point) (orb.Point, error) {
	x, y, err := m.local(pt)
	if err != nil {
		return orb.Point{}, err
	}
	t := math.Exp(-y / (m.a * m.k0))
	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < 15; i++ {
		es := m.e * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-es)/(1+es), m.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}
	return m.geo(x/(m.a*m.k0)*deg, phi*deg), nil
}

// equirectangular is the equidistant cylindrical projection.
type equirectangular struct {
	params
	cosTs float64
	lat0  float64
}

func (q equirectangular) FromWGS84(pt orb.Point) (orb.Point, error) {
	lon, lat, err := q.lonLat(pt)
	if err != nil {
		return orb.Point{}, err
	}
	return orb.Point{
		q.a*lon*rad*q.cosTs + q.x0,
		q.a*(lat*rad-q.lat0) + q.y0,
	}, nil
}

func (q equirectangular) ToWGS84(pt orb.Point) (orb.Point, error) {
	x, y, err := q.local(pt)
	if err != nil {
		return orb.Point{}, err
	}
	lat := (y/q.a + q.lat0) * deg
	if math.Abs(lat) > 90 {
		return orb.Point{}, domainErr(pt, "latitude beyond the poles")
	}
	return q.geo(x/(q.a*q.cosTs)*deg, lat), nil
}
