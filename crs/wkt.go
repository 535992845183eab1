package crs

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// esriProjections maps families to ESRI projection names.
var esriProjections = map[string]string{
	FamilyWintri:  "Winkel_Tripel",
	FamilyAitoff:  "Aitoff",
	FamilyEqc:     "Equidistant_Cylindrical",
	FamilyMerc:    "Mercator",
	FamilyWebMerc: "Mercator_Auxiliary_Sphere",
}

// wktProjections maps ESRI and OGC projection names back to families.
var wktProjections = map[string]string{
	"winkel_tripel":                         FamilyWintri,
	"aitoff":                                FamilyAitoff,
	"equidistant_cylindrical":               FamilyEqc,
	"equirectangular":                       FamilyEqc,
	"plate_carree":                          FamilyEqc,
	"mercator":                              FamilyMerc,
	"mercator_1sp":                          FamilyMerc,
	"mercator_2sp":                          FamilyMerc,
	"mercator_auxiliary_sphere":             FamilyWebMerc,
	"popular_visualisation_pseudo_mercator": FamilyWebMerc,
}

// WKT renders the descriptor as ESRI flavoured WKT, the dialect expected in
// shapefile .prj sidecars.
func (d *Descriptor) WKT() string {
	geog := d.geogcsWKT()
	if d.IsGeographic() {
		return geog
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "PROJCS[%q,%s,PROJECTION[%q]", d.wktName(), geog, esriProjections[d.family])
	param := func(name string, v float64) {
		fmt.Fprintf(&sb, ",PARAMETER[%q,%s]", name, wktFloat(v))
	}
	param("False_Easting", d.Float("x_0", 0))
	param("False_Northing", d.Float("y_0", 0))
	param("Central_Meridian", d.CentralMeridian())
	switch d.family {
	case FamilyWintri:
		param("Standard_Parallel_1", d.Float("lat_1", WintriDefaultLat1))
	case FamilyMerc:
		param("Standard_Parallel_1", d.Float("lat_ts", 0))
	case FamilyEqc:
		param("Standard_Parallel_1", d.Float("lat_ts", 0))
		param("Latitude_Of_Origin", d.Float("lat_0", 0))
	case FamilyWebMerc:
		param("Standard_Parallel_1", 0)
		param("Auxiliary_Sphere_Type", 0)
	}
	sb.WriteString(`,UNIT["Meter",1.0]]`)
	return sb.String()
}

func (d *Descriptor) geogcsWKT() string {
	if d.sphere > 0 {
		return fmt.Sprintf(`GEOGCS["GCS_Sphere",DATUM["D_Sphere",SPHEROID["Sphere",%s,0.0]],`+
			`PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`, wktFloat(d.sphere))
	}
	return `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],` +
		`PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`
}

func (d *Descriptor) wktName() string {
	if d.name != "" {
		return strings.Join(strings.FieldsFunc(d.name, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-'
		}), "_")
	}
	return fmt.Sprintf("Custom_%s_%s", esriProjections[d.family], wktFloat(d.CentralMeridian()))
}

func wktFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".IN") {
		s += ".0"
	}
	return s
}

// looksLikeWKT reports whether s starts with a WKT keyword.
func looksLikeWKT(s string) bool {
	i := strings.IndexAny(s, "[(")
	if i <= 0 {
		return false
	}
	switch strings.ToUpper(strings.TrimSpace(s[:i])) {
	case "GEOGCS", "PROJCS", "GEOGCRS", "PROJCRS", "GEODCRS":
		return true
	}
	return false
}

// ResolveWKT resolves a WKT1 (OGC or ESRI dialect) definition. An EPSG
// AUTHORITY on the root node takes precedence over the parameters.
func (r *Registry) ResolveWKT(text string) (*Descriptor, error) {
	root, err := parseWKT(text)
	if err != nil {
		return nil, unknown(abbreviate(text), "%v", err)
	}

	if auth := root.child("AUTHORITY"); auth != nil && len(auth.args) == 2 {
		code := fmt.Sprintf("%v:%v", auth.str(0), auth.str(1))
		if d, err := r.Resolve(code); err == nil {
			return d, nil
		}
	}

	proj, err := wktToProj(root)
	if err != nil {
		return nil, unknown(abbreviate(text), "%v", err)
	}
	d, err := Parse(proj)
	if err != nil {
		return nil, err
	}
	c := *d
	c.name = root.str(0)
	return &c, nil
}

func wktToProj(root *wktNode) (string, error) {
	var geog *wktNode
	switch root.keyword {
	case "GEOGCS":
		geog = root
	case "PROJCS":
		geog = root.child("GEOGCS")
	default:
		return "", fmt.Errorf("unsupported WKT root %s", root.keyword)
	}
	if geog == nil {
		return "", fmt.Errorf("missing GEOGCS")
	}

	datum, err := wktDatum(geog)
	if err != nil {
		return "", err
	}
	if root == geog {
		return "+proj=longlat " + datum, nil
	}

	pn := root.child("PROJECTION")
	if pn == nil {
		return "", fmt.Errorf("missing PROJECTION")
	}
	family, ok := wktProjections[strings.ToLower(pn.str(0))]
	if !ok {
		return "", fmt.Errorf("unsupported projection %q", pn.str(0))
	}
	if unit := root.child("UNIT"); unit != nil && unit.num(1) != 1 {
		return "", fmt.Errorf("unsupported linear unit %q", unit.str(0))
	}

	var sb strings.Builder
	sb.WriteString("+proj=")
	sb.WriteString(family)
	sb.WriteByte(' ')
	sb.WriteString(datum)
	for _, p := range root.children("PARAMETER") {
		v := p.num(1)
		var key string
		switch strings.ToLower(p.str(0)) {
		case "false_easting":
			key = "x_0"
		case "false_northing":
			key = "y_0"
		case "central_meridian", "longitude_of_center", "longitude_of_origin":
			key = "lon_0"
		case "standard_parallel_1":
			switch family {
			case FamilyWintri:
				key = "lat_1"
			case FamilyMerc, FamilyEqc:
				key = "lat_ts"
			}
		case "latitude_of_origin", "latitude_of_center":
			if family == FamilyEqc {
				key = "lat_0"
			} else if v != 0 {
				return "", fmt.Errorf("unsupported %s=%v", p.str(0), v)
			}
		case "scale_factor":
			if v != 1 {
				return "", fmt.Errorf("unsupported scale factor %v", v)
			}
		case "auxiliary_sphere_type":
			if v != 0 {
				return "", fmt.Errorf("unsupported auxiliary sphere type %v", v)
			}
		default:
			return "", fmt.Errorf("unsupported parameter %q", p.str(0))
		}
		if key == "" || (family == FamilyWebMerc && key != "lon_0" && key != "x_0" && key != "y_0") {
			continue
		}
		fmt.Fprintf(&sb, " +%s=%s", key, formatFloat(v))
	}
	return sb.String(), nil
}

func wktDatum(geog *wktNode) (string, error) {
	if pm := geog.child("PRIMEM"); pm != nil && pm.num(1) != 0 {
		return "", fmt.Errorf("unsupported prime meridian %q", pm.str(0))
	}
	datum := geog.child("DATUM")
	if datum == nil {
		return "", fmt.Errorf("missing DATUM")
	}
	sph := datum.child("SPHEROID")
	if sph == nil {
		return "", fmt.Errorf("missing SPHEROID")
	}
	a, invf := sph.num(1), sph.num(2)
	switch {
	case a > 0 && invf == 0:
		return "+R=" + formatFloat(a), nil
	case a == WGS84SemiMajor && (math.Abs(invf-WGS84InvFlatten) < 1e-6 || math.Abs(invf-298.257222101) < 1e-6):
		return "+datum=WGS84", nil
	}
	return "", fmt.Errorf("unsupported spheroid %q", sph.str(0))
}

func abbreviate(s string) string {
	if len(s) > 48 {
		return s[:45] + "..."
	}
	return s
}

// wktNode is KEYWORD[arg, arg, ...] where an arg is a string, a number or a
// nested node.
type wktNode struct {
	keyword string
	args    []interface{}
}

func (n *wktNode) child(keyword string) *wktNode {
	for _, a := range n.args {
		if c, ok := a.(*wktNode); ok && c.keyword == keyword {
			return c
		}
	}
	return nil
}

func (n *wktNode) children(keyword string) []*wktNode {
	var out []*wktNode
	for _, a := range n.args {
		if c, ok := a.(*wktNode); ok && c.keyword == keyword {
			out = append(out, c)
		}
	}
	return out
}

func (n *wktNode) str(i int) string {
	if i >= len(n.args) {
		return ""
	}
	switch v := n.args[i].(type) {
	case string:
		return v
	case float64:
		return formatFloat(v)
	}
	return ""
}

func (n *wktNode) num(i int) float64 {
	if i >= len(n.args) {
		return math.NaN()
	}
	if v, ok := n.args[i].(float64); ok {
		return v
	}
	return math.NaN()
}

type wktParser struct {
	s   string
	pos int
}

func parseWKT(s string) (*wktNode, error) {
	p := &wktParser{s: s}
	n, err := p.node()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("unexpected trailing data at offset %d", p.pos)
	}
	return n, nil
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.s) && unicode.IsSpace(rune(p.s[p.pos])) {
		p.pos++
	}
}

func (p *wktParser) node() (*wktNode, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && (isIdent(p.s[p.pos])) {
		p.pos++
	}
	if start == p.pos {
		return nil, fmt.Errorf("expected keyword at offset %d", p.pos)
	}
	n := &wktNode{keyword: strings.ToUpper(p.s[start:p.pos])}

	p.skipSpace()
	if p.pos >= len(p.s) || (p.s[p.pos] != '[' && p.s[p.pos] != '(') {
		return nil, fmt.Errorf("expected '[' after %s", n.keyword)
	}
	p.pos++

	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("unterminated %s", n.keyword)
		}
		switch c := p.s[p.pos]; {
		case c == ']' || c == ')':
			p.pos++
			return n, nil
		case c == ',':
			p.pos++
			continue
		case c == '"':
			s, err := p.quoted()
			if err != nil {
				return nil, err
			}
			n.args = append(n.args, s)
		case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
			v, err := p.number()
			if err != nil {
				return nil, err
			}
			n.args = append(n.args, v)
		case isIdent(c):
			save := p.pos
			for p.pos < len(p.s) && isIdent(p.s[p.pos]) {
				p.pos++
			}
			p.skipSpace()
			if p.pos < len(p.s) && (p.s[p.pos] == '[' || p.s[p.pos] == '(') {
				p.pos = save
				child, err := p.node()
				if err != nil {
					return nil, err
				}
				n.args = append(n.args, child)
			} else {
				// bare enumeration such as AXIS["X",EAST]
				n.args = append(n.args, strings.TrimSpace(p.s[save:p.pos]))
			}
		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
		}
	}
}

func (p *wktParser) quoted() (string, error) {
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		p.pos++
		if c == '"' {
			if p.pos < len(p.s) && p.s[p.pos] == '"' {
				sb.WriteByte('"')
				p.pos++
				continue
			}
			return sb.String(), nil
		}
		sb.WriteByte(c)
	}
	return "", fmt.Errorf("unterminated string")
}

func (p *wktParser) number() (float64, error) {
	start := p.pos
	for p.pos < len(p.s) && strings.IndexByte("+-.0123456789eE", p.s[p.pos]) >= 0 {
		p.pos++
	}
	v, err := strconv.ParseFloat(p.s[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.s[start:p.pos])
	}
	return v, nil
}

func isIdent(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
