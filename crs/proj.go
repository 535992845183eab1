package crs

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// familyParams lists the numeric parameters each family accepts.
var familyParams = map[string][]string{
	FamilyLongLat: nil,
	FamilyWebMerc: {"lon_0", "x_0", "y_0"},
	FamilyMerc:    {"lon_0", "lat_ts", "x_0", "y_0"},
	FamilyEqc:     {"lon_0", "lat_ts", "lat_0", "x_0", "y_0"},
	FamilyWintri:  {"lon_0", "lat_1", "x_0", "y_0"},
	FamilyAitoff:  {"lon_0", "x_0", "y_0"},
}

var familyAliases = map[string]string{
	"latlong": FamilyLongLat,
	"lonlat":  FamilyLongLat,
}

// ignored keys carry no information for the supported families.
var ignoredKeys = map[string]bool{
	"no_defs": true,
	"wktext":  true,
	"type":    true,
	"over":    true,
}

// Parse parses a proj-style definition such as
// "+proj=wintri +lon_0=135 +datum=WGS84 +no_defs" into a descriptor.
func Parse(definition string) (*Descriptor, error) {
	def := strings.Join(strings.Fields(definition), " ")
	if def == "" {
		return nil, unknown(definition, "empty definition")
	}

	raw := make(map[string]string)
	var order []string
	for _, tok := range strings.Fields(def) {
		if !strings.HasPrefix(tok, "+") || len(tok) == 1 {
			return nil, unknown(definition, "malformed token %q", tok)
		}
		key, value, _ := strings.Cut(tok[1:], "=")
		if key == "" {
			return nil, unknown(definition, "malformed token %q", tok)
		}
		if _, dup := raw[key]; dup {
			return nil, unknown(definition, "duplicate parameter %q", key)
		}
		raw[key] = value
		order = append(order, key)
	}

	family, ok := raw["proj"]
	if !ok || family == "" {
		return nil, unknown(definition, "missing +proj")
	}
	if alias, ok := familyAliases[family]; ok {
		family = alias
	}

	d := &Descriptor{
		definition: def,
		params:     make(map[string]float64),
	}

	// legacy spelling of web mercator
	if family == FamilyMerc && raw["nadgrids"] == "@null" {
		family = FamilyWebMerc
		delete(raw, "nadgrids")
		for _, k := range []string{"a", "b"} {
			if v, ok := raw[k]; ok {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil || f != WGS84SemiMajor {
					return nil, unknown(definition, "web mercator requires a=b=%v", WGS84SemiMajor)
				}
				delete(raw, k)
			}
		}
		for k, want := range map[string]float64{"lat_ts": 0, "k": 1} {
			if v, ok := raw[k]; ok {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil || f != want {
					return nil, unknown(definition, "web mercator does not support %s=%s", k, v)
				}
				delete(raw, k)
			}
		}
	}

	allowed, ok := familyParams[family]
	if !ok {
		return nil, unknown(definition, "unsupported projection %q", family)
	}
	d.family = family

	for _, key := range order {
		value, present := raw[key]
		if !present || key == "proj" || ignoredKeys[key] {
			continue
		}
		switch key {
		case "datum", "ellps", "R", "a", "b", "rf", "towgs84":
			// handled by parseDatum
		case "units":
			if value != "m" || family == FamilyLongLat {
				return nil, unknown(definition, "unsupported units %q", value)
			}
		default:
			if !contains(allowed, key) {
				return nil, unknown(definition, "unsupported parameter %q for %s", key, family)
			}
			v, err := strconv.ParseFloat(value, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, unknown(definition, "invalid value %q for %s", value, key)
			}
			d.params[key] = v
		}
	}

	sphere, err := parseDatum(definition, raw)
	if err != nil {
		return nil, err
	}
	if family == FamilyWebMerc && sphere > 0 {
		return nil, unknown(definition, "web mercator is defined on WGS84")
	}
	d.sphere = sphere

	if err := normalizeParams(definition, d); err != nil {
		return nil, err
	}
	d.canonical = canonicalize(d)

	return d, nil
}

func parseDatum(definition string, raw map[string]string) (float64, error) {
	num := func(key string) (float64, bool, error) {
		v, ok := raw[key]
		if !ok {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || math.IsInf(f, 0) {
			return 0, true, unknown(definition, "invalid value %q for %s", v, key)
		}
		return f, true, nil
	}

	if v, ok := raw["towgs84"]; ok {
		for _, part := range strings.Split(v, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil || f != 0 {
				return 0, unknown(definition, "datum shifts are not supported")
			}
		}
	}

	if v, ok := raw["datum"]; ok && !strings.EqualFold(v, "WGS84") {
		return 0, unknown(definition, "unsupported datum %q", v)
	}
	if v, ok := raw["ellps"]; ok && !strings.EqualFold(v, "WGS84") && !strings.EqualFold(v, "GRS80") {
		return 0, unknown(definition, "unsupported ellipsoid %q", v)
	}

	r, hasR, err := num("R")
	if err != nil {
		return 0, err
	}
	if hasR {
		return r, nil
	}

	a, hasA, err := num("a")
	if err != nil {
		return 0, err
	}
	b, hasB, err := num("b")
	if err != nil {
		return 0, err
	}
	rf, hasRf, err := num("rf")
	if err != nil {
		return 0, err
	}

	switch {
	case !hasA:
		if hasB || hasRf {
			return 0, unknown(definition, "ellipsoid requires +a")
		}
		return 0, nil
	case hasB && b == a, !hasB && !hasRf:
		return a, nil
	case a == WGS84SemiMajor && hasRf && math.Abs(rf-WGS84InvFlatten) < 1e-6:
		return 0, nil
	case a == WGS84SemiMajor && hasB && math.Abs(b-WGS84SemiMajor*(1-1/WGS84InvFlatten)) < 1e-3:
		return 0, nil
	}
	return 0, unknown(definition, "unsupported ellipsoid a=%v", a)
}

func normalizeParams(definition string, d *Descriptor) error {
	if lon0, ok := d.params["lon_0"]; ok {
		if math.Abs(lon0) > 360 {
			return unknown(definition, "lon_0 out of range")
		}
		d.params["lon_0"] = NormalizeLongitude(lon0)
	}
	for _, key := range []string{"lat_0", "lat_ts", "lat_1"} {
		if v, ok := d.params[key]; ok && math.Abs(v) > 90 {
			return unknown(definition, "%s out of range", key)
		}
	}
	if v, ok := d.params["lat_ts"]; ok && math.Abs(v) == 90 {
		return unknown(definition, "lat_ts must not be a pole")
	}
	if v, ok := d.params["lat_1"]; ok && math.Abs(v) == 90 {
		return unknown(definition, "lat_1 must not be a pole")
	}

	for _, key := range []string{"lon_0", "lat_0", "lat_ts", "x_0", "y_0"} {
		if v, ok := d.params[key]; ok && v == 0 {
			delete(d.params, key)
		}
	}
	if v, ok := d.params["lat_1"]; ok && math.Abs(v-WintriDefaultLat1) < 1e-9 {
		delete(d.params, "lat_1")
	}
	return nil
}

func canonicalize(d *Descriptor) string {
	tokens := make(map[string]string, len(d.params)+1)
	for k, v := range d.params {
		tokens[k] = formatFloat(v)
	}
	if d.sphere > 0 {
		tokens["R"] = formatFloat(d.sphere)
	} else {
		tokens["datum"] = "WGS84"
	}

	keys := make([]string, 0, len(tokens))
	for k := range tokens {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("+proj=")
	sb.WriteString(d.family)
	for _, k := range keys {
		sb.WriteString(" +")
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(tokens[k])
	}
	return sb.String()
}

// NormalizeLongitude maps a longitude into [-180, 180).
func NormalizeLongitude(lon float64) float64 {
	l := math.Mod(lon+180, 360)
	if l < 0 {
		l += 360
	}
	return l - 180
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
