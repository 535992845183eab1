package feature

import (
	"encoding/json"
	"sort"
	"time"
)

// InferSchema derives a schema from loosely typed property maps. Field names
// are sorted; each type is the most general type seen for that name.
func InferSchema(props []map[string]interface{}) *Schema {
	types := make(map[string]FieldType)
	seen := make(map[string]bool)

	for _, p := range props {
		for name, value := range p {
			seen[name] = true
			if value == nil {
				continue
			}
			inferred := inferFieldType(value)
			if existing, ok := types[name]; ok {
				types[name] = promoteFieldType(existing, inferred)
			} else {
				types[name] = inferred
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]Field, len(names))
	for i, name := range names {
		t, ok := types[name]
		if !ok {
			t = FieldString // only nulls seen
		}
		fields[i] = Field{Name: name, Type: t}
	}
	return MustSchema(fields...)
}

// inferFieldType determines the field type for a Go value. JSON numbers decode
// as float64, so integral floats count as integers.
func inferFieldType(value interface{}) FieldType {
	switch v := value.(type) {
	case bool:
		return FieldBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return FieldInteger
	case float32:
		if _, ok := integral(float64(v)); ok {
			return FieldInteger
		}
		return FieldReal
	case float64:
		if _, ok := integral(v); ok {
			return FieldInteger
		}
		return FieldReal
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return FieldInteger
		}
		return FieldReal
	case string:
		return FieldString
	case time.Time:
		return FieldDate
	default:
		return FieldJSON
	}
}

// promoteFieldType returns the more general type when there's a conflict.
func promoteFieldType(a, b FieldType) FieldType {
	if a == b {
		return a
	}
	if a == FieldJSON || b == FieldJSON {
		return FieldJSON
	}
	if (a == FieldInteger && b == FieldReal) || (a == FieldReal && b == FieldInteger) {
		return FieldReal
	}
	return FieldString
}
