package reproject

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mqsol/MeridianShift/crs"
	"github.com/mqsol/MeridianShift/feature"
	"github.com/mqsol/MeridianShift/transform"
)

var testSchema = feature.MustSchema(
	feature.Field{Name: "id", Type: feature.FieldInteger},
	feature.Field{Name: "name", Type: feature.FieldString},
)

func target(t testing.TB) *crs.Descriptor {
	t.Helper()
	d, err := crs.NewRegistry().ResolveTarget(crs.DefaultTarget())
	if err != nil {
		t.Fatalf("ResolveTarget failed: %v", err)
	}
	return d
}

func collection(t testing.TB, geoms ...orb.Geometry) *feature.Collection {
	t.Helper()
	c := feature.New("test", testSchema, crs.NewRegistry().MustResolve(crs.WGS84))
	for i, g := range geoms {
		f := &feature.Feature{ID: i + 1, Geometry: g, Values: []interface{}{i + 1, "f"}}
		if err := c.Add(f); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	return c
}

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want Policy
	}{
		{"", NullGeometry},
		{"null-geometry", NullGeometry},
		{"NULL", NullGeometry},
		{"drop", Drop},
		{"abort", Abort},
		{" strict ", Abort},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if err != nil {
			t.Fatalf("ParsePolicy(%q) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}

	if _, err := ParsePolicy("ignore"); !errors.Is(err, ErrPolicy) {
		t.Errorf("expected ErrPolicy, got %v", err)
	}
}

func TestReproject_Identity(t *testing.T) {
	in := collection(t, square(1.5, 2.25, 3.125, 4))
	same := crs.NewRegistry().MustResolve("CRS:84")

	out, report, err := Reproject(context.Background(), in, same, nil, Options{})
	if err != nil {
		t.Fatalf("Reproject failed: %v", err)
	}
	if !report.Identity {
		t.Error("expected identity path")
	}
	if !orb.Equal(out.Features[0].Geometry, in.Features[0].Geometry) {
		t.Errorf("expected identical vertices, got %v", out.Features[0].Geometry)
	}

	out.Features[0].Geometry.(orb.Polygon)[0][0][0] = 99
	if in.Features[0].Geometry.(orb.Polygon)[0][0][0] != 1.5 {
		t.Error("identity path must not alias input geometries")
	}
}

func TestReproject_ToTarget(t *testing.T) {
	in := collection(t, square(0, 0, 10, 10), nil, square(20, 20, 21, 21))
	dst := target(t)

	out, report, err := Reproject(context.Background(), in, dst, transform.NewCache(), Options{Workers: 2})
	if err != nil {
		t.Fatalf("Reproject failed: %v", err)
	}
	if report.Identity || len(report.Failures) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if out.Len() != in.Len() {
		t.Fatalf("expected %d features, got %d", in.Len(), out.Len())
	}
	if !out.CRS.Equal(dst) {
		t.Errorf("expected CRS %v, got %v", dst, out.CRS)
	}
	if out.Schema != in.Schema {
		t.Error("expected the schema to be shared unchanged")
	}

	for i, f := range out.Features {
		if f.ID != in.Features[i].ID {
			t.Errorf("feature %d: expected ID %v, got %v", i, in.Features[i].ID, f.ID)
		}
		if f.Values[0] != in.Features[i].Values[0] || f.Values[1] != in.Features[i].Values[1] {
			t.Errorf("feature %d: values changed: %v", i, f.Values)
		}
	}
	if out.Features[1].Geometry != nil {
		t.Errorf("expected null geometry to stay null, got %v", out.Features[1].Geometry)
	}

	want := orb.Ring{
		{-12297668.378546, 0},
		{-11386729.980135, 0},
		{-11302579.771188, 1239763.520826},
		{-12203818.826607, 1264689.932991},
		{-12297668.378546, 0},
	}
	got := out.Features[0].Geometry.(orb.Polygon)[0]
	for i := range want {
		if math.Abs(got[i][0]-want[i][0]) > 1e-6 || math.Abs(got[i][1]-want[i][1]) > 1e-6 {
			t.Errorf("vertex %d: expected %v, got %v", i, want[i], got[i])
		}
	}

	if in.Features[0].Geometry.(orb.Polygon)[0][1][0] != 10 {
		t.Error("input collection was modified")
	}
}

func TestReproject_Policies(t *testing.T) {
	bad := orb.Polygon{{{0, 0}, {10, 0}, {10, 95}, {0, 0}}}

	t.Run("null geometry", func(t *testing.T) {
		in := collection(t, square(0, 0, 1, 1), bad, square(2, 2, 3, 3))
		out, report, err := Reproject(context.Background(), in, target(t), nil, Options{Policy: NullGeometry})
		if err != nil {
			t.Fatalf("Reproject failed: %v", err)
		}
		if out.Len() != 3 {
			t.Fatalf("expected 3 features, got %d", out.Len())
		}
		f := out.Features[1]
		if f.Geometry != nil || !f.Flags.Has(feature.FlagTransformFailed) {
			t.Errorf("expected flagged null geometry, got %v %v", f.Geometry, f.Flags)
		}
		if len(report.Failures) != 1 || report.Failures[0].Index != 1 || report.Failures[0].ID != 2 {
			t.Errorf("unexpected failures %+v", report.Failures)
		}
		if !errors.Is(report.Failures[0].Err, transform.ErrDomain) {
			t.Errorf("expected ErrDomain, got %v", report.Failures[0].Err)
		}
		if got := report.Failed(); len(got) != 1 || got[0] != "2" {
			t.Errorf("expected [2], got %v", got)
		}
	})

	t.Run("drop", func(t *testing.T) {
		in := collection(t, square(0, 0, 1, 1), bad, square(2, 2, 3, 3))
		out, report, err := Reproject(context.Background(), in, target(t), nil, Options{Policy: Drop})
		if err != nil {
			t.Fatalf("Reproject failed: %v", err)
		}
		if out.Len() != 2 || report.Dropped != 1 {
			t.Fatalf("expected 2 features and 1 dropped, got %d and %d", out.Len(), report.Dropped)
		}
		if out.Features[0].ID != 1 || out.Features[1].ID != 3 {
			t.Errorf("expected order 1, 3, got %v, %v", out.Features[0].ID, out.Features[1].ID)
		}
	})

	t.Run("abort", func(t *testing.T) {
		in := collection(t, square(0, 0, 1, 1), bad, square(2, 2, 3, 3), bad)
		out, _, err := Reproject(context.Background(), in, target(t), nil, Options{Policy: Abort, Workers: 1})
		if out != nil {
			t.Error("expected no output collection")
		}
		var fail *Failure
		if !errors.As(err, &fail) {
			t.Fatalf("expected *Failure, got %v", err)
		}
		if fail.ID != 2 {
			t.Errorf("expected feature 2, got %v", fail.ID)
		}
		if !errors.Is(err, transform.ErrDomain) {
			t.Errorf("expected ErrDomain, got %v", err)
		}
	})
}

func TestReproject_AbortFirstInOrder(t *testing.T) {
	bad := orb.Polygon{{{0, 0}, {10, 0}, {10, 95}, {0, 0}}}
	geoms := make([]orb.Geometry, 64)
	for i := range geoms {
		geoms[i] = square(float64(i), 0, float64(i)+1, 1)
	}
	geoms[3], geoms[60] = bad, bad
	in := collection(t, geoms...)

	for run := 0; run < 20; run++ {
		_, report, err := Reproject(context.Background(), in, target(t), nil, Options{Policy: Abort, Workers: 16})
		var fail *Failure
		if !errors.As(err, &fail) {
			t.Fatalf("expected *Failure, got %v", err)
		}
		if fail.Index != 3 || fail.ID != 4 {
			t.Fatalf("run %d: expected feature 4 at index 3, got %v at %d", run, fail.ID, fail.Index)
		}
		if report.Failures[0].Index != 3 {
			t.Errorf("run %d: expected index 3 first in the report, got %+v", run, report.Failures)
		}
	}
}

func TestReproject_SeamCollapse(t *testing.T) {
	// narrower than the seam inset around 45°W
	sliver := square(-45-1e-10, 0, -45+1e-10, 10)

	t.Run("null geometry", func(t *testing.T) {
		in := collection(t, sliver, square(10, 10, 20, 20))
		out, report, err := Reproject(context.Background(), in, target(t), nil, Options{SplitAtSeam: true})
		if err != nil {
			t.Fatalf("Reproject failed: %v", err)
		}
		if out.Len() != 2 {
			t.Fatalf("expected 2 features, got %d", out.Len())
		}
		f := out.Features[0]
		if f.Geometry != nil || !f.Flags.Has(feature.FlagTransformFailed) {
			t.Errorf("expected flagged null geometry, got %v %v", f.Geometry, f.Flags)
		}
		if len(report.Failures) != 1 || !errors.Is(report.Failures[0].Err, ErrSeamCollapsed) {
			t.Errorf("expected one ErrSeamCollapsed failure, got %+v", report.Failures)
		}
	})

	t.Run("drop", func(t *testing.T) {
		in := collection(t, sliver, square(10, 10, 20, 20))
		out, report, err := Reproject(context.Background(), in, target(t), nil, Options{SplitAtSeam: true, Policy: Drop})
		if err != nil {
			t.Fatalf("Reproject failed: %v", err)
		}
		if out.Len() != 1 || report.Dropped != 1 || len(report.Failures) != 1 {
			t.Errorf("expected 1 feature, 1 dropped and 1 failure, got %d, %d and %d",
				out.Len(), report.Dropped, len(report.Failures))
		}
	})
}

func TestReproject_SeamSplit(t *testing.T) {
	// straddles 45°W, the antimeridian of 135°E
	in := collection(t, square(-46, 0, -44, 10), square(10, 10, 20, 20))

	out, report, err := Reproject(context.Background(), in, target(t), nil, Options{SplitAtSeam: true})
	if err != nil {
		t.Fatalf("Reproject failed: %v", err)
	}
	if report.Split != 1 {
		t.Errorf("expected 1 split feature, got %d", report.Split)
	}

	f := out.Features[0]
	if !f.Flags.Has(feature.FlagSplit) {
		t.Errorf("expected split flag, got %v", f.Flags)
	}
	mp, ok := f.Geometry.(orb.MultiPolygon)
	if !ok || len(mp) != 2 {
		t.Fatalf("expected a multipolygon of 2 parts, got %v", f.Geometry)
	}
	left, right := mp[0].Bound(), mp[1].Bound()
	if left.Min[0] > right.Min[0] {
		left, right = right, left
	}
	if left.Max[0] >= 0 || right.Min[0] <= 0 {
		t.Errorf("expected parts on both map edges, got %v and %v", left, right)
	}

	if out.Features[1].Flags.Has(feature.FlagSplit) {
		t.Error("feature away from the seam must not be split")
	}
	if _, ok := out.Features[1].Geometry.(orb.Polygon); !ok {
		t.Errorf("expected a polygon, got %T", out.Features[1].Geometry)
	}
}

func TestReproject_Errors(t *testing.T) {
	if _, _, err := Reproject(context.Background(), nil, target(t), nil, Options{}); !errors.Is(err, ErrNoInput) {
		t.Errorf("expected ErrNoInput, got %v", err)
	}

	in := collection(t, square(0, 0, 1, 1))
	in.CRS = nil
	if _, _, err := Reproject(context.Background(), in, target(t), nil, Options{}); !errors.Is(err, transform.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in = collection(t, square(0, 0, 1, 1), square(1, 1, 2, 2))
	if _, _, err := Reproject(ctx, in, target(t), nil, Options{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSplitAtSeam(t *testing.T) {
	tests := []struct {
		name  string
		geom  orb.Geometry
		lon0  float64
		split bool
		parts int
		area  float64
	}{
		{"inside window", square(0, 0, 10, 10), 0, false, 1, 100},
		{"dateline", orb.Polygon{{{178, 0}, {-178, 0}, {-178, 2}, {178, 2}, {178, 0}}}, 0, true, 2, 8},
		{"shifted seam", square(-50, 0, -40, 10), 135, true, 2, 100},
		{"multipolygon", orb.MultiPolygon{square(-50, 0, -40, 10), square(0, 0, 1, 1)}, 135, true, 3, 101},
		{"hole across seam", orb.Polygon{
			{{-60, -10}, {-30, -10}, {-30, 10}, {-60, 10}, {-60, -10}},
			{{-50, -5}, {-50, 5}, {-40, 5}, {-40, -5}, {-50, -5}},
		}, 135, true, 2, 600 - 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, split := splitAtSeam(tt.geom, tt.lon0)
			if split != tt.split {
				t.Fatalf("expected split %v, got %v", tt.split, split)
			}

			parts := 1
			area := 0.0
			switch g := out.(type) {
			case orb.MultiPolygon:
				parts = len(g)
				for _, p := range g {
					area += polygonArea(p)
				}
			case orb.Polygon:
				area = polygonArea(g)
			}
			if parts != tt.parts {
				t.Errorf("expected %d parts, got %d: %v", tt.parts, parts, out)
			}
			if math.Abs(area-tt.area) > 1e-6 {
				t.Errorf("expected area %v, got %v", tt.area, area)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	p := orb.Polygon{
		{{178, 0}, {-178, 0}, {-178, 2}, {178, 2}, {178, 0}},
		{{-179, 0.5}, {-179, 1.5}, {179, 1.5}, {179, 0.5}, {-179, 0.5}},
	}
	u := unwrap(p)
	want := orb.Polygon{
		{{178, 0}, {182, 0}, {182, 2}, {178, 2}, {178, 0}},
		{{181, 0.5}, {181, 1.5}, {179, 1.5}, {179, 0.5}, {181, 0.5}},
	}
	if !orb.Equal(u, want) {
		t.Errorf("expected %v, got %v", want, u)
	}
	if p[0][1][0] != -178 {
		t.Error("unwrap must not modify its input")
	}
}

func polygonArea(p orb.Polygon) float64 {
	a := 0.0
	for i, r := range p {
		ra := 0.0
		for k := 0; k+1 < len(r); k++ {
			ra += r[k][0]*r[k+1][1] - r[k+1][0]*r[k][1]
		}
		ra = math.Abs(ra / 2)
		if i == 0 {
			a += ra
		} else {
			a -= ra
		}
	}
	return a
}
