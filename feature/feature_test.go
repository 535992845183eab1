package feature

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mqsol/MeridianShift/crs"
)

func TestInferFieldType(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected FieldType
	}{
		{"bool", true, FieldBool},
		{"int", 42, FieldInteger},
		{"int64", int64(9999999999), FieldInteger},
		{"integral float64", 1.0, FieldInteger},
		{"float64", 3.14159, FieldReal},
		{"float32", float32(3.5), FieldReal},
		{"string", "hello", FieldString},
		{"date", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), FieldDate},
		{"map", map[string]interface{}{"key": "value"}, FieldJSON},
		{"slice", []interface{}{1, 2, 3}, FieldJSON},
		{"json int", json.Number("42"), FieldInteger},
		{"json float", json.Number("3.14"), FieldReal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := inferFieldType(tt.value)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestPromoteFieldType(t *testing.T) {
	tests := []struct {
		name     string
		a, b     FieldType
		expected FieldType
	}{
		{"same type", FieldInteger, FieldInteger, FieldInteger},
		{"int to real", FieldInteger, FieldReal, FieldReal},
		{"real to real", FieldReal, FieldInteger, FieldReal},
		{"any to json", FieldInteger, FieldJSON, FieldJSON},
		{"any to string", FieldBool, FieldInteger, FieldString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := promoteFieldType(tt.a, tt.b)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestInferSchema(t *testing.T) {
	props := []map[string]interface{}{
		{"name": "a", "count": 1.0, "ratio": 1.0},
		{"name": "b", "count": 2.0, "ratio": 2.5, "note": nil},
	}

	s := InferSchema(props)
	want := []Field{
		{Name: "count", Type: FieldInteger},
		{Name: "name", Type: FieldString},
		{Name: "note", Type: FieldString},
		{Name: "ratio", Type: FieldReal},
	}
	if s.Len() != len(want) {
		t.Fatalf("expected %d fields, got %s", len(want), s)
	}
	for i, f := range want {
		if s.Field(i) != f {
			t.Errorf("field %d: expected %+v, got %+v", i, f, s.Field(i))
		}
	}
}

func TestNewSchema_Duplicate(t *testing.T) {
	_, err := NewSchema(Field{Name: "a"}, Field{Name: "a", Type: FieldReal})
	if !errors.Is(err, ErrDuplicateField) {
		t.Errorf("expected ErrDuplicateField, got %v", err)
	}
	if _, err := NewSchema(Field{}); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch for unnamed field, got %v", err)
	}
}

func TestCoerce(t *testing.T) {
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		typ      FieldType
		value    interface{}
		expected interface{}
	}{
		{"nil", FieldInteger, nil, nil},
		{"int from float", FieldInteger, 7.0, int64(7)},
		{"int from string", FieldInteger, " 12 ", int64(12)},
		{"real from int", FieldReal, 3, 3.0},
		{"string from int64", FieldString, int64(5), "5"},
		{"string from float", FieldString, 2.5, "2.5"},
		{"bool from string", FieldBool, "yes", true},
		{"date from string", FieldDate, "2024-03-05", day},
		{"date from rfc3339", FieldDate, "2024-03-05T13:04:05Z", day},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Coerce(tt.typ, tt.value)
			if err != nil {
				t.Fatalf("Coerce failed: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expected, tt.expected, result, result)
			}
		})
	}

	bad := []struct {
		typ   FieldType
		value interface{}
	}{
		{FieldInteger, 1.5},
		{FieldInteger, "abc"},
		{FieldReal, true},
		{FieldBool, 3},
		{FieldDate, "yesterday"},
	}
	for _, b := range bad {
		if _, err := Coerce(b.typ, b.value); !errors.Is(err, ErrSchemaMismatch) {
			t.Errorf("Coerce(%v, %v): expected ErrSchemaMismatch, got %v", b.typ, b.value, err)
		}
	}
}

func TestCollection_AddAndDerive(t *testing.T) {
	schema := MustSchema(Field{Name: "id", Type: FieldInteger}, Field{Name: "name", Type: FieldString})
	d, err := crs.Parse("+proj=longlat +datum=WGS84")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c := New("layer", schema, d)

	if err := c.Add(&Feature{ID: 1, Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, Values: []interface{}{1.0, "a"}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := c.Add(&Feature{ID: 2, Values: []interface{}{nil}}); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch for short value list, got %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 feature, got %d", c.Len())
	}
	if v, _ := c.Value(c.Features[0], "id"); v != int64(1) {
		t.Errorf("expected coerced int64 id, got %v (%T)", v, v)
	}

	out := c.Derive(nil)
	if out.Len() != 0 || out.Schema != c.Schema || out.Name != "layer" || out.CRS != nil {
		t.Errorf("unexpected derived collection %+v", out)
	}

	b := c.Bound()
	if b.Min != (orb.Point{0, 0}) || b.Max != (orb.Point{1, 1}) {
		t.Errorf("unexpected bound %v", b)
	}
}

func TestFeature_CloneAndWithGeometry(t *testing.T) {
	f := &Feature{
		ID:       "x",
		Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		Values:   []interface{}{"a"},
		Flags:    FlagRepaired,
	}

	c := f.Clone()
	c.Geometry.(orb.Polygon)[0][0][0] = 5
	c.Values[0] = "b"
	if f.Geometry.(orb.Polygon)[0][0][0] != 0 || f.Values[0] != "a" {
		t.Error("Clone must not alias the original")
	}

	g := f.WithGeometry(nil)
	if g.Geometry != nil || g.ID != "x" || !g.Flags.Has(FlagRepaired) {
		t.Errorf("unexpected WithGeometry result %+v", g)
	}
}

func TestFlag_String(t *testing.T) {
	if s := (FlagTransformFailed | FlagSplit).String(); s != "transform-failed|split" {
		t.Errorf("unexpected flag string %q", s)
	}
	if s := Flag(0).String(); s != "none" {
		t.Errorf("unexpected flag string %q", s)
	}
}

func TestGeoJSON_RoundTrip(t *testing.T) {
	schema := MustSchema(
		Field{Name: "zeta", Type: FieldString, Width: 20},
		Field{Name: "id", Type: FieldInteger},
		Field{Name: "when", Type: FieldDate},
		Field{Name: "ok", Type: FieldBool},
	)
	c := New("parcels", schema, nil)
	day := time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC)
	if err := c.Add(&Feature{
		ID:       int64(1),
		Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		Values:   []interface{}{"z", 1, day, true},
	}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := c.Add(&Feature{ID: "two", Values: []interface{}{nil, nil, nil, nil}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	data, err := json.Marshal(ToGeoJSON(c))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	back, err := FromGeoJSON(fc, nil)
	if err != nil {
		t.Fatalf("FromGeoJSON failed: %v", err)
	}

	if !back.Schema.Equal(schema) {
		t.Fatalf("schema order not preserved: %s", back.Schema)
	}
	if back.Schema.Field(0).Width != 20 {
		t.Errorf("width hint lost: %+v", back.Schema.Field(0))
	}
	if back.Name != "parcels" || back.Len() != 2 {
		t.Fatalf("unexpected collection %q with %d features", back.Name, back.Len())
	}

	f := back.Features[0]
	if f.ID != int64(1) {
		t.Errorf("expected id 1, got %v (%T)", f.ID, f.ID)
	}
	if f.Values[1] != int64(1) || f.Values[2] != day || f.Values[3] != true {
		t.Errorf("unexpected values %v", f.Values)
	}
	if back.Features[1].Geometry != nil || back.Features[1].ID != "two" {
		t.Errorf("expected null geometry feature, got %+v", back.Features[1])
	}
}
