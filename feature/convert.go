package feature

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the textual form of date values.
const DateLayout = "2006-01-02"

// Coerce converts v to the Go representation of t: string, int64, float64,
// bool, time.Time or, for JSON, the value itself. nil stays nil.
func Coerce(t FieldType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case FieldString:
		return toString(v), nil
	case FieldInteger:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case FieldReal:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case FieldBool:
		if b, ok := toBool(v); ok {
			return b, nil
		}
	case FieldDate:
		if d, ok := toDate(v); ok {
			return d, nil
		}
	case FieldJSON:
		return v, nil
	}
	return nil, fmt.Errorf("%w: %v (%T) is not a valid %s", ErrSchemaMismatch, v, v, t)
}

// toInt64 accepts integers and integral floats.
func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val), true
		}
	case float32:
		return integral(float64(val))
	case float64:
		return integral(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil {
			return integral(f)
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func integral(f float64) (int64, bool) {
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toBool(v interface{}) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "t", "true", "y", "yes", "1":
			return true, true
		case "f", "false", "n", "no", "0":
			return false, true
		}
	}
	return false, false
}

func toDate(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		y, m, d := val.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range []string{DateLayout, time.RFC3339, "20060102"} {
			if t, err := time.Parse(layout, s); err == nil {
				return toDate(t)
			}
		}
	}
	return time.Time{}, false
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(DateLayout)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		// For other types, use JSON encoding
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Format renders a value as text for fixed-width formats. nil renders as "".
func Format(v interface{}) string {
	if v == nil {
		return ""
	}
	return toString(v)
}
