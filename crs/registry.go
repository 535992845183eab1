package crs

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// WGS84 is the authority code of geographic WGS84.
const WGS84 = "EPSG:4326"

type definition struct {
	proj string
	name string
}

// builtin holds the authority codes resolvable without configuration.
var builtin = map[string]definition{
	"EPSG:4326":   {"+proj=longlat +datum=WGS84 +no_defs", "WGS 84"},
	"CRS:84":      {"+proj=longlat +datum=WGS84 +no_defs", "WGS 84 (CRS84)"},
	"OGC:CRS84":   {"+proj=longlat +datum=WGS84 +no_defs", "WGS 84 (CRS84)"},
	"EPSG:3857":   {"+proj=webmerc +datum=WGS84 +units=m +no_defs", "WGS 84 / Pseudo-Mercator"},
	"EPSG:900913": {"+proj=webmerc +datum=WGS84 +units=m +no_defs", "WGS 84 / Pseudo-Mercator"},
	"EPSG:3785":   {"+proj=webmerc +datum=WGS84 +units=m +no_defs", "WGS 84 / Pseudo-Mercator"},
	"EPSG:102100": {"+proj=webmerc +datum=WGS84 +units=m +no_defs", "WGS 84 / Pseudo-Mercator"},
	"ESRI:102100": {"+proj=webmerc +datum=WGS84 +units=m +no_defs", "WGS 84 / Pseudo-Mercator"},
	"EPSG:3395":   {"+proj=merc +datum=WGS84 +units=m +no_defs", "WGS 84 / World Mercator"},
	"EPSG:4087":   {"+proj=eqc +datum=WGS84 +units=m +no_defs", "WGS 84 / World Equidistant Cylindrical"},
	"ESRI:54042":  {"+proj=wintri +datum=WGS84 +units=m +no_defs", "World_Winkel_Tripel_NGS"},
	"ESRI:54043":  {"+proj=aitoff +datum=WGS84 +units=m +no_defs", "World_Aitoff"},
	"ESRI:53042":  {"+proj=wintri +R=6371000 +units=m +no_defs", "Sphere_Winkel_Tripel_NGS"},
	"ESRI:53043":  {"+proj=aitoff +R=6371000 +units=m +no_defs", "Sphere_Aitoff"},
	"EPSG:32662":  {"+proj=eqc +datum=WGS84 +units=m +no_defs", "WGS 84 / Plate Carree"},
	"ESRI:54001":  {"+proj=eqc +datum=WGS84 +units=m +no_defs", "World_Plate_Carree"},
	"ESRI:54004":  {"+proj=merc +datum=WGS84 +units=m +no_defs", "World_Mercator"},
}

// Registry resolves identifiers to descriptors. A registry is meant to live
// for one run; resolved descriptors are cached per instance.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]definition
	cache map[string]*Descriptor
}

// NewRegistry returns a registry seeded with the built-in authority codes.
func NewRegistry() *Registry {
	defs := make(map[string]definition, len(builtin))
	for k, v := range builtin {
		defs[k] = v
	}
	return &Registry{
		defs:  defs,
		cache: make(map[string]*Descriptor),
	}
}

// Define registers an authority code with a proj-style definition,
// replacing any previous definition of the same code.
func (r *Registry) Define(code, proj string) error {
	key, ok := normalizeCode(code)
	if !ok {
		return unknown(code, "authority code must look like AUTH:CODE")
	}
	if _, err := Parse(proj); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[key] = definition{proj: proj}
	delete(r.cache, key)
	return nil
}

// Resolve resolves an authority code ("EPSG:4326", "urn:ogc:def:crs:EPSG::4326",
// "http://www.opengis.net/def/crs/EPSG/0/4326"), a proj string or a WKT string.
func (r *Registry) Resolve(id string) (*Descriptor, error) {
	s := strings.TrimSpace(id)
	switch {
	case s == "":
		return nil, unknown(id, "empty identifier")
	case strings.HasPrefix(s, "+"):
		return Parse(s)
	case looksLikeWKT(s):
		return r.ResolveWKT(s)
	}

	key, ok := normalizeCode(s)
	if !ok {
		return nil, unknown(id, "not an authority code or definition")
	}

	r.mu.RLock()
	if d, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return d, nil
	}
	def, ok := r.defs[key]
	r.mu.RUnlock()
	if !ok {
		return nil, unknown(id, "unrecognized authority code")
	}

	parsed, err := Parse(def.proj)
	if err != nil {
		return nil, err
	}
	d := parsed.withAuthority(key, def.name)

	r.mu.Lock()
	r.cache[key] = d
	r.mu.Unlock()
	return d, nil
}

// MustResolve is like Resolve but panics on error. It is intended for
// built-in codes.
func (r *Registry) MustResolve(id string) *Descriptor {
	d, err := r.Resolve(id)
	if err != nil {
		panic(err)
	}
	return d
}

// normalizeCode turns the accepted identifier spellings into AUTH:CODE.
func normalizeCode(s string) (string, bool) {
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "urn:ogc:def:crs:"):
		parts := strings.Split(s, ":")
		if len(parts) < 6 {
			return "", false
		}
		auth, code := parts[4], parts[len(parts)-1]
		if auth == "" || code == "" {
			return "", false
		}
		return strings.ToUpper(auth + ":" + code), true
	case strings.HasPrefix(lower, "http://www.opengis.net/def/crs/"),
		strings.HasPrefix(lower, "https://www.opengis.net/def/crs/"):
		rest := s[strings.Index(lower, "/def/crs/")+len("/def/crs/"):]
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return "", false
		}
		return strings.ToUpper(parts[0] + ":" + parts[2]), true
	}

	auth, code, ok := strings.Cut(s, ":")
	if !ok || auth == "" || code == "" || strings.ContainsAny(s, " \t") {
		return "", false
	}
	return strings.ToUpper(auth) + ":" + strings.ToUpper(code), true
}

// Target describes the output coordinate system: either an authority code, or
// a projection family with a central meridian on a datum.
type Target struct {
	Authority       string
	Family          string
	CentralMeridian float64
	Datum           string
}

// DefaultTarget is Winkel Tripel centred on 135 degrees east on WGS84.
func DefaultTarget() Target {
	return Target{
		Family:          FamilyWintri,
		CentralMeridian: 135,
		Datum:           "WGS84",
	}
}

// Definition renders the proj string of a family based target.
func (t Target) Definition() string {
	return fmt.Sprintf("+proj=%s +lon_0=%s +datum=%s +units=m +no_defs",
		t.Family, formatFloat(t.CentralMeridian), t.Datum)
}

func (t Target) String() string {
	if t.Authority != "" {
		return t.Authority
	}
	return t.Definition()
}

// targetFamilies are the families usable as a central-meridian target.
var targetFamilies = map[string]string{
	FamilyWintri: "Winkel Tripel",
	FamilyAitoff: "Aitoff",
	FamilyEqc:    "Equidistant Cylindrical",
	FamilyMerc:   "Mercator",
}

// ResolveTarget resolves the output coordinate system.
func (r *Registry) ResolveTarget(t Target) (*Descriptor, error) {
	if t.Authority != "" {
		return r.Resolve(t.Authority)
	}

	label, ok := targetFamilies[strings.ToLower(t.Family)]
	if !ok {
		return nil, unknown(t.String(), "unsupported projection family %q", t.Family)
	}
	if math.IsNaN(t.CentralMeridian) || math.Abs(t.CentralMeridian) > 180 {
		return nil, unknown(t.String(), "central meridian must be within [-180, 180]")
	}
	datum := t.Datum
	if datum == "" {
		datum = "WGS84"
	}
	if !strings.EqualFold(datum, "WGS84") {
		return nil, unknown(t.String(), "unsupported datum %q", t.Datum)
	}

	t.Family = strings.ToLower(t.Family)
	t.Datum = "WGS84"
	d, err := Parse(t.Definition())
	if err != nil {
		return nil, err
	}
	c := *d
	c.name = fmt.Sprintf("%s (central meridian %s)", label, formatFloat(t.CentralMeridian))
	return &c, nil
}
