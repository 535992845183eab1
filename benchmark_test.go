package meridianshift

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mqsol/MeridianShift/crs"
	"github.com/mqsol/MeridianShift/feature"
	"github.com/mqsol/MeridianShift/vector"
)

// =============================================================================
// Test Data Generators
// =============================================================================

// generatePolygons creates n random squares within the given bounds.
func generatePolygons(r *rand.Rand, n int, minX, maxX, minY, maxY float64) []orb.Polygon {
	polys := make([]orb.Polygon, n)
	for i := 0; i < n; i++ {
		x := minX + r.Float64()*(maxX-minX-0.1)
		y := minY + r.Float64()*(maxY-minY-0.1)
		size := 0.01 + r.Float64()*0.09
		polys[i] = orb.Polygon{{
			{x, y},
			{x + size, y},
			{x + size, y + size},
			{x, y + size},
			{x, y},
		}}
	}
	return polys
}

// generateComplexPolygons creates polygons with more vertices (approximating
// circles). Every tenth one is pinched into a self-intersecting figure eight.
func generateComplexPolygons(r *rand.Rand, n, verticesPerPolygon int, minX, maxX, minY, maxY float64) []orb.Polygon {
	polys := make([]orb.Polygon, n)
	for i := 0; i < n; i++ {
		centerX := minX + r.Float64()*(maxX-minX)
		centerY := minY + r.Float64()*(maxY-minY)
		radius := 0.01 + r.Float64()*0.05

		ring := make(orb.Ring, verticesPerPolygon+1)
		for j := 0; j < verticesPerPolygon; j++ {
			angle := 2 * math.Pi * float64(j) / float64(verticesPerPolygon)
			x, y := math.Cos(angle), math.Sin(angle)
			if i%10 == 0 {
				y = math.Sin(2 * angle)
			}
			ring[j] = orb.Point{centerX + radius*x, centerY + radius*y}
		}
		ring[verticesPerPolygon] = ring[0]

		polys[i] = orb.Polygon{ring}
	}
	return polys
}

// generateCollection creates a WGS84 collection of random polygons.
func generateCollection(r *rand.Rand, n int, geomType string, withProperties bool) *feature.Collection {
	var polys []orb.Polygon
	switch geomType {
	case "polygon":
		polys = generatePolygons(r, n, -180, 180, -80, 80)
	case "complexpolygon":
		polys = generateComplexPolygons(r, n, 32, -180, 180, -80, 80)
	}

	schema := &feature.Schema{}
	if withProperties {
		schema = feature.MustSchema(
			feature.Field{Name: "id", Type: feature.FieldInteger},
			feature.Field{Name: "name", Type: feature.FieldString},
			feature.Field{Name: "value", Type: feature.FieldReal},
			feature.Field{Name: "active", Type: feature.FieldBool},
			feature.Field{Name: "category", Type: feature.FieldString},
			feature.Field{Name: "desc", Type: feature.FieldString},
		)
	}

	c := feature.New("bench", schema, crs.NewRegistry().MustResolve(crs.WGS84))
	for i, p := range polys {
		var values []interface{}
		if withProperties {
			values = []interface{}{
				i,
				fmt.Sprintf("Feature %d", i),
				r.Float64() * 1000,
				r.Intn(2) == 1,
				fmt.Sprintf("cat_%d", r.Intn(10)),
				"This is a test feature with some descriptive text that adds to the payload size",
			}
		}
		if err := c.Add(&feature.Feature{ID: i, Geometry: p, Values: values}); err != nil {
			panic(err)
		}
	}
	return c
}

// =============================================================================
// Size Comparison Tests
// =============================================================================

func TestSizeComparison_Polygons(t *testing.T) {
	testSizeComparison(t, "polygon", []int{10, 100, 1000})
}

func TestSizeComparison_ComplexPolygons(t *testing.T) {
	testSizeComparison(t, "complexpolygon", []int{10, 100, 1000})
}

func testSizeComparison(t *testing.T, geomType string, sizes []int) {
	r := rand.New(rand.NewSource(42)) // Reproducible results
	dir := t.TempDir()

	t.Logf("\n=== Output size: %s ===", geomType)
	t.Logf("%-12s | %-15s | %-15s | %-15s", "Features", "Shapefile", "GeoJSON", "FlatGeobuf")
	t.Logf("%s", "-------------|-----------------|-----------------|----------------")

	for _, n := range sizes {
		c := generateCollection(r, n, geomType, true)

		var sizes [3]int64
		for k, ext := range []string{".shp", ".geojson", ".fgb"} {
			out := filepath.Join(dir, fmt.Sprintf("%s_%d%s", geomType, n, ext))
			res, err := New(NewEnv()).Run(context.Background(), Request{
				Collection:  c,
				Output:      out,
				SplitAtSeam: true,
			})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if res.Counts.Written != n {
				t.Fatalf("expected %d features written, got %d", n, res.Counts.Written)
			}
			matches, _ := filepath.Glob(out[:len(out)-len(ext)] + ".*")
			for _, m := range matches {
				if fi, err := os.Stat(m); err == nil {
					sizes[k] += fi.Size()
				}
			}
		}

		t.Logf("%-12d | %-15d | %-15d | %-15d", n, sizes[0], sizes[1], sizes[2])
	}
}

// =============================================================================
// Pipeline Benchmarks
// =============================================================================

func BenchmarkRun_Shapefile_Polygons_1000(b *testing.B) {
	benchmarkRun(b, "polygon", 1000, ".shp", true)
}

func BenchmarkRun_GeoJSON_Polygons_1000(b *testing.B) {
	benchmarkRun(b, "polygon", 1000, ".geojson", true)
}

func BenchmarkRun_FlatGeobuf_Polygons_1000(b *testing.B) {
	benchmarkRun(b, "polygon", 1000, ".fgb", true)
}

func BenchmarkRun_FlatGeobuf_ComplexPolygons_1000(b *testing.B) {
	benchmarkRun(b, "complexpolygon", 1000, ".fgb", false)
}

func BenchmarkRun_FlatGeobuf_ComplexPolygons_10000(b *testing.B) {
	benchmarkRun(b, "complexpolygon", 10000, ".fgb", false)
}

func benchmarkRun(b *testing.B, geomType string, n int, ext string, withProps bool) {
	r := rand.New(rand.NewSource(42))
	c := generateCollection(r, n, geomType, withProps)
	out := filepath.Join(b.TempDir(), "bench"+ext)
	p := New(NewEnv())

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, err := p.Run(context.Background(), Request{
			Collection:  c,
			Output:      out,
			SplitAtSeam: true,
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

// =============================================================================
// Read Benchmarks
// =============================================================================

func BenchmarkRead_Shapefile_Polygons_1000(b *testing.B) {
	benchmarkRead(b, "polygon", 1000, ".shp")
}

func BenchmarkRead_GeoJSON_Polygons_1000(b *testing.B) {
	benchmarkRead(b, "polygon", 1000, ".geojson")
}

func BenchmarkRead_FlatGeobuf_Polygons_1000(b *testing.B) {
	benchmarkRead(b, "polygon", 1000, ".fgb")
}

func benchmarkRead(b *testing.B, geomType string, n int, ext string) {
	r := rand.New(rand.NewSource(42))
	c := generateCollection(r, n, geomType, true)
	out := filepath.Join(b.TempDir(), "bench"+ext)
	if err := vector.Write(context.Background(), c, out, vector.FormatAuto, vector.WriteOptions{}); err != nil {
		b.Fatal(err)
	}
	reg := crs.NewRegistry()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := vector.Read(out, reg); err != nil {
			b.Fatal(err)
		}
	}
}
