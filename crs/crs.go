// Package crs resolves coordinate reference system identifiers and proj-style
// definition strings into immutable descriptors with a canonical form.
// Two descriptors describe the same system iff their canonical forms match.
package crs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Common errors returned by this package.
var (
	ErrUnknownCRS = errors.New("crs: unknown coordinate reference system")
)

// UnknownCRSError reports an identifier or definition that could not be resolved.
type UnknownCRSError struct {
	Identifier string
	Reason     string
}

func (e *UnknownCRSError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("crs: unknown coordinate reference system %q", e.Identifier)
	}
	return fmt.Sprintf("crs: unknown coordinate reference system %q: %s", e.Identifier, e.Reason)
}

// Unwrap allows errors.Is(err, ErrUnknownCRS).
func (e *UnknownCRSError) Unwrap() error {
	return ErrUnknownCRS
}

func unknown(id, format string, args ...interface{}) error {
	return &UnknownCRSError{Identifier: id, Reason: fmt.Sprintf(format, args...)}
}

// Projection families understood by the transform engine.
const (
	FamilyLongLat = "longlat"
	FamilyWebMerc = "webmerc"
	FamilyMerc    = "merc"
	FamilyEqc     = "eqc"
	FamilyWintri  = "wintri"
	FamilyAitoff  = "aitoff"
)

// WGS84 ellipsoid.
const (
	WGS84SemiMajor  = 6378137.0
	WGS84InvFlatten = 298.257223563
)

// WintriDefaultLat1 is the standard parallel of Winkel Tripel when lat_1 is
// not given: acos(2/pi) in degrees.
var WintriDefaultLat1 = math.Acos(2/math.Pi) * 180 / math.Pi

// Descriptor is an immutable coordinate reference system description.
type Descriptor struct {
	authority  string
	definition string
	name       string
	canonical  string
	family     string
	params     map[string]float64
	sphere     float64 // radius when the system is on a sphere, 0 for WGS84
}

// Authority returns the authority code the descriptor was resolved from,
// e.g. "EPSG:4326", or "" for raw definitions.
func (d *Descriptor) Authority() string { return d.authority }

// Definition returns the proj-style definition string.
func (d *Descriptor) Definition() string { return d.definition }

// Canonical returns the canonical form used for equality and caching.
func (d *Descriptor) Canonical() string { return d.canonical }

// Family returns the projection family, e.g. "wintri".
func (d *Descriptor) Family() string { return d.family }

// Name returns a human readable name.
func (d *Descriptor) Name() string {
	if d.name != "" {
		return d.name
	}
	if d.authority != "" {
		return d.authority
	}
	return d.canonical
}

// String implements fmt.Stringer.
func (d *Descriptor) String() string {
	if d.authority != "" {
		return d.authority
	}
	return d.canonical
}

// Equal reports whether both descriptors have the same canonical form.
func (d *Descriptor) Equal(o *Descriptor) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.canonical == o.canonical
}

// IsGeographic reports whether coordinates are longitude/latitude degrees.
func (d *Descriptor) IsGeographic() bool {
	return d.family == FamilyLongLat
}

// IsSphere reports whether the system is defined on a sphere instead of the
// WGS84 ellipsoid.
func (d *Descriptor) IsSphere() bool {
	return d.sphere > 0
}

// SemiMajor returns the semi-major axis (or sphere radius) in meters.
func (d *Descriptor) SemiMajor() float64 {
	if d.sphere > 0 {
		return d.sphere
	}
	return WGS84SemiMajor
}

// Flattening returns the ellipsoid flattening, 0 on a sphere.
func (d *Descriptor) Flattening() float64 {
	if d.sphere > 0 {
		return 0
	}
	return 1 / WGS84InvFlatten
}

// Param returns a numeric projection parameter and whether it was set.
func (d *Descriptor) Param(key string) (float64, bool) {
	v, ok := d.params[key]
	return v, ok
}

// Float returns a numeric projection parameter or def when unset.
func (d *Descriptor) Float(key string, def float64) float64 {
	if v, ok := d.params[key]; ok {
		return v
	}
	return def
}

// CentralMeridian returns lon_0 in degrees.
func (d *Descriptor) CentralMeridian() float64 {
	return d.Float("lon_0", 0)
}

// EPSG returns the numeric EPSG code, or 0 when the descriptor was not
// resolved from an EPSG identifier.
func (d *Descriptor) EPSG() int {
	code, ok := strings.CutPrefix(d.authority, "EPSG:")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}

// withAuthority returns a copy tagged with an authority code and name.
func (d *Descriptor) withAuthority(authority, name string) *Descriptor {
	c := *d
	c.authority = authority
	if name != "" {
		c.name = name
	}
	return &c
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
