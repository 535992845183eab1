package transform

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mqsol/MeridianShift/crs"
)

func mustParse(t testing.TB, def string) *crs.Descriptor {
	t.Helper()
	d, err := crs.Parse(def)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", def, err)
	}
	return d
}

func wgs84(t testing.TB) *crs.Descriptor {
	return crs.NewRegistry().MustResolve(crs.WGS84)
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestForward_KnownValues(t *testing.T) {
	tests := []struct {
		name   string
		target string
		in     orb.Point
		want   orb.Point
	}{
		{"wintri sphere", "+proj=wintri +R=6400000", orb.Point{2, 1}, orb.Point{182800.840516959, 111703.907505745}},
		{"wintri origin cm135", "+proj=wintri +lon_0=135", orb.Point{0, 0}, orb.Point{-12297668.378546, 0}},
		{"wintri 10,0 cm135", "+proj=wintri +lon_0=135", orb.Point{10, 0}, orb.Point{-11386729.980135, 0}},
		{"wintri 10,10 cm135", "+proj=wintri +lon_0=135", orb.Point{10, 10}, orb.Point{-11302579.771188, 1239763.520826}},
		{"wintri 0,10 cm135", "+proj=wintri +lon_0=135", orb.Point{0, 10}, orb.Point{-12203818.826607, 1264689.932991}},
		{"wintri pole", "+proj=wintri +lon_0=135", orb.Point{0, 90}, orb.Point{-4783602.75, 10018754.171394622}},
		{"aitoff", "+proj=aitoff", orb.Point{2, 1}, orb.Point{222616.373638571, 111325.142177655}},
		{"web mercator", "+proj=webmerc", orb.Point{10, 10}, orb.Point{1113194.907932736, 1118889.974857960}},
		{"mercator", "+proj=merc", orb.Point{10, 10}, orb.Point{1113194.907932736, 1111475.102852224}},
		{"eqc", "+proj=eqc +x_0=100", orb.Point{10, 10}, orb.Point{1113194.907932736 + 100, 1113194.907932736}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := Build(wgs84(t), mustParse(t, tt.target))
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			got, err := tr.Apply(tt.in)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if !near(got[0], tt.want[0], 1e-6) || !near(got[1], tt.want[1], 1e-6) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestInverse_RoundTrip(t *testing.T) {
	targets := []string{
		"+proj=wintri +lon_0=135",
		"+proj=wintri +lon_0=-45 +lat_1=40 +x_0=500 +y_0=-20",
		"+proj=aitoff +R=6371000",
		"+proj=webmerc +lon_0=20",
		"+proj=merc +lat_ts=30",
		"+proj=eqc +lat_ts=45 +lat_0=10",
	}
	points := []orb.Point{
		{0, 0}, {10, 10}, {-135, 45}, {134.5, -60}, {-44.9, 0}, {179.9, 80}, {-90, -30}, {100, 84},
	}

	for _, def := range targets {
		t.Run(def, func(t *testing.T) {
			fwd, err := Build(wgs84(t), mustParse(t, def))
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			inv, err := Build(mustParse(t, def), wgs84(t))
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			for _, p := range points {
				xy, err := fwd.Apply(p)
				if err != nil {
					t.Fatalf("Apply(%v) failed: %v", p, err)
				}
				back, err := inv.Apply(xy)
				if err != nil {
					t.Fatalf("inverse Apply(%v) failed: %v", xy, err)
				}
				if !near(back[0], p[0], 1e-6) || !near(back[1], p[1], 1e-6) {
					t.Errorf("round trip of %v: got %v", p, back)
				}
			}
		})
	}
}

func TestInverse_Residual(t *testing.T) {
	d := mustParse(t, "+proj=wintri +lon_0=135")
	fwd, err := Build(wgs84(t), d)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	inv, err := Build(d, wgs84(t))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	tol := inverseTol * d.SemiMajor()
	for _, p := range []orb.Point{{135, 0}, {136, 1}, {-44.5, 70}, {20, -85}, {-100, 33.3}} {
		xy, err := fwd.Apply(p)
		if err != nil {
			t.Fatalf("Apply(%v) failed: %v", p, err)
		}
		back, err := inv.Apply(xy)
		if err != nil {
			t.Fatalf("inverse Apply(%v) failed: %v", xy, err)
		}
		again, err := fwd.Apply(back)
		if err != nil {
			t.Fatalf("Apply(%v) failed: %v", back, err)
		}
		if !near(again[0], xy[0], tol) || !near(again[1], xy[1], tol) {
			t.Errorf("residual of %v above %v m: %v vs %v", p, tol, again, xy)
		}
	}
}

func TestDomainErrors(t *testing.T) {
	target := mustParse(t, "+proj=wintri +lon_0=135")
	tr, err := Build(wgs84(t), target)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	bad := []orb.Point{
		{-45, 0},
		{315, 10},
		{math.NaN(), 0},
		{0, math.Inf(1)},
		{10, 90.5},
	}
	for _, p := range bad {
		_, err := tr.Apply(p)
		if !errors.Is(err, ErrDomain) {
			t.Errorf("Apply(%v): expected ErrDomain, got %v", p, err)
		}
		var de *DomainError
		if !errors.As(err, &de) {
			t.Errorf("Apply(%v): expected *DomainError, got %T", p, err)
		}
	}

	if _, err := tr.Apply(orb.Point{-45.000001, 0}); err != nil {
		t.Errorf("expected point next to the antimeridian to project, got %v", err)
	}

	merc, err := Build(wgs84(t), mustParse(t, "+proj=webmerc"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := merc.Apply(orb.Point{0, 86}); !errors.Is(err, ErrDomain) {
		t.Errorf("expected ErrDomain beyond web mercator latitude, got %v", err)
	}

	inv, err := Build(target, wgs84(t))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := inv.Apply(orb.Point{3e7, 0}); !errors.Is(err, ErrDomain) {
		t.Errorf("expected ErrDomain outside the projected region, got %v", err)
	}
}

func TestIdentity(t *testing.T) {
	r := crs.NewRegistry()
	a := r.MustResolve("EPSG:4326")
	b := mustParse(t, "+proj=longlat +ellps=WGS84 +no_defs")

	tr, err := Build(a, b)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !tr.IsIdentity() {
		t.Fatal("expected identity transform for equal canonical forms")
	}

	poly := orb.Polygon{{{1.123456789, 2}, {3, 2}, {3, 4}, {1.123456789, 2}}}
	out, err := tr.ApplyGeometry(poly)
	if err != nil {
		t.Fatalf("ApplyGeometry failed: %v", err)
	}
	if !orb.Equal(out, poly) {
		t.Errorf("identity changed vertices: %v", out)
	}
	out.(orb.Polygon)[0][0][0] = 99
	if poly[0][0][0] != 1.123456789 {
		t.Error("identity must not alias the input")
	}
}

func TestApplyGeometry_Structure(t *testing.T) {
	tr, err := Build(wgs84(t), mustParse(t, "+proj=wintri +lon_0=135"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	mp := orb.MultiPolygon{
		{
			{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
			{{2, 2}, {2, 4}, {4, 4}, {2, 2}},
		},
		{{{100, 0}, {110, 0}, {110, 10}, {100, 0}}},
	}
	out, err := tr.ApplyGeometry(mp)
	if err != nil {
		t.Fatalf("ApplyGeometry failed: %v", err)
	}
	got := out.(orb.MultiPolygon)
	if len(got) != 2 || len(got[0]) != 2 || len(got[0][0]) != 5 || len(got[0][1]) != 4 || len(got[1][0]) != 4 {
		t.Fatalf("ring structure not preserved: %v", got)
	}
	if got[0][0][0] != got[0][0][4] {
		t.Error("closed ring must stay closed")
	}
	if !near(got[0][0][1][0], -11386729.980135, 1e-6) {
		t.Errorf("unexpected vertex %v", got[0][0][1])
	}
	if mp[0][0][1][0] != 10 {
		t.Error("input must not be modified")
	}

	bad := orb.Polygon{{{0, 0}, {-45, 0}, {0, 10}, {0, 0}}}
	if _, err := tr.ApplyGeometry(bad); !errors.Is(err, ErrDomain) {
		t.Errorf("expected ErrDomain, got %v", err)
	}
}

func TestCompose(t *testing.T) {
	merc := mustParse(t, "+proj=webmerc")
	wintri := mustParse(t, "+proj=wintri +lon_0=135")

	a, err := Build(merc, wgs84(t))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	b, err := Build(wgs84(t), wintri)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	ab, err := Compose(a, b)
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	direct, err := Build(merc, wintri)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	p := orb.Point{1113194.907932736, 1118889.974857960}
	got, err := ab.Apply(p)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	want, err := direct.Apply(p)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !near(got[0], want[0], 1e-6) || !near(got[1], want[1], 1e-6) {
		t.Errorf("composed %v differs from direct %v", got, want)
	}
	if !near(got[0], -11302579.771188, 1e-3) {
		t.Errorf("unexpected composed result %v", got)
	}

	if _, err := Compose(b, b); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for mismatched chain, got %v", err)
	}
}

func TestCache(t *testing.T) {
	c := NewCache()
	src := wgs84(t)
	dst := mustParse(t, "+proj=wintri +lon_0=135")

	var wg sync.WaitGroup
	results := make([]*Transform, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.Get(src, dst)
		}(i)
	}
	wg.Wait()

	for i, tr := range results {
		if tr == nil || tr != results[0] {
			t.Fatalf("result %d is not the cached transform", i)
		}
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 cached transform, got %d", c.Len())
	}

	if _, err := c.Get(dst, src); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 cached transforms, got %d", c.Len())
	}
	if NewCache().Len() != 0 {
		t.Error("caches must not share state")
	}
}
