package vector

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"

	"github.com/mqsol/MeridianShift/feature"
)

// columnType maps a schema field type to a FlatGeobuf column type.
func columnType(t feature.FieldType) flattypes.ColumnType {
	switch t {
	case feature.FieldInteger:
		return flattypes.ColumnTypeLong
	case feature.FieldReal:
		return flattypes.ColumnTypeDouble
	case feature.FieldBool:
		return flattypes.ColumnTypeBool
	case feature.FieldDate:
		return flattypes.ColumnTypeDateTime
	case feature.FieldJSON:
		return flattypes.ColumnTypeJson
	}
	return flattypes.ColumnTypeString
}

// fieldType maps any FlatGeobuf column type back to a schema field type.
func fieldType(t flattypes.ColumnType) feature.FieldType {
	switch t {
	case flattypes.ColumnTypeBool:
		return feature.FieldBool
	case flattypes.ColumnTypeByte, flattypes.ColumnTypeUByte,
		flattypes.ColumnTypeShort, flattypes.ColumnTypeUShort,
		flattypes.ColumnTypeInt, flattypes.ColumnTypeUInt,
		flattypes.ColumnTypeLong, flattypes.ColumnTypeULong:
		return feature.FieldInteger
	case flattypes.ColumnTypeFloat, flattypes.ColumnTypeDouble:
		return feature.FieldReal
	case flattypes.ColumnTypeJson:
		return feature.FieldJSON
	case flattypes.ColumnTypeDateTime:
		return feature.FieldDate
	}
	return feature.FieldString
}

func columnsFromHeader(h *flattypes.Header) []feature.Field {
	n := h.ColumnsLength()
	if n == 0 {
		return nil
	}
	fields := make([]feature.Field, 0, n)
	for i := 0; i < n; i++ {
		var col flattypes.Column
		if !h.Columns(&col, i) {
			continue
		}
		f := feature.Field{Name: string(col.Name()), Type: fieldType(col.Type())}
		if w := col.Width(); w > 0 {
			f.Width = int(w)
		}
		if p := col.Precision(); p > 0 {
			f.Precision = int(p)
		}
		fields = append(fields, f)
	}
	return fields
}

// encodeProperties encodes the values of a feature in the FlatGeobuf
// property layout: for each non-null value a little-endian uint16 column
// index followed by the value. Variable length values carry a uint32 byte
// length prefix.
func encodeProperties(values []interface{}, schema *feature.Schema) ([]byte, error) {
	var buf bytes.Buffer
	for i, v := range values {
		if v == nil {
			continue
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint16(i)); err != nil {
			return nil, err
		}
		if err := writePropertyValue(&buf, v, schema.Field(i)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// writePropertyValue writes one value, already coerced to its field type.
func writePropertyValue(buf *bytes.Buffer, v interface{}, f feature.Field) error {
	le := binary.LittleEndian
	switch f.Type {
	case feature.FieldBool:
		b, ok := v.(bool)
		if !ok {
			break
		}
		if b {
			return buf.WriteByte(1)
		}
		return buf.WriteByte(0)

	case feature.FieldInteger:
		if n, ok := v.(int64); ok {
			return binary.Write(buf, le, n)
		}

	case feature.FieldReal:
		if x, ok := v.(float64); ok {
			return binary.Write(buf, le, math.Float64bits(x))
		}

	case feature.FieldDate:
		if d, ok := v.(time.Time); ok {
			return writeSized(buf, []byte(d.Format(feature.DateLayout)))
		}

	case feature.FieldJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrSchema, f.Name, err)
		}
		return writeSized(buf, data)

	default:
		return writeSized(buf, []byte(feature.Format(v)))
	}
	return fmt.Errorf("%w: field %q holds %T", ErrSchema, f.Name, v)
}

func writeSized(buf *bytes.Buffer, data []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := buf.Write(data)
	return err
}

// decodeProperties decodes the property buffer of a feature into one value
// per header column. Missing columns are null.
func decodeProperties(data []byte, header *flattypes.Header) ([]interface{}, error) {
	values := make([]interface{}, header.ColumnsLength())
	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated column index", ErrInvalidData)
		}
		colIndex := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		offset += 2

		var col flattypes.Column
		if colIndex >= len(values) || !header.Columns(&col, colIndex) {
			return nil, fmt.Errorf("%w: column %d out of range", ErrInvalidData, colIndex)
		}

		value, n, err := readPropertyValue(data[offset:], col.Type())
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.Name(), err)
		}
		offset += n
		values[colIndex] = value
	}
	return values, nil
}

// readPropertyValue reads a property value from the buffer.
// Returns the value and number of bytes read.
func readPropertyValue(data []byte, colType flattypes.ColumnType) (interface{}, int, error) {
	need := func(n int) error {
		if len(data) < n {
			return fmt.Errorf("%w: truncated %s value", ErrInvalidData, flattypes.EnumNamesColumnType[colType])
		}
		return nil
	}
	le := binary.LittleEndian

	switch colType {
	case flattypes.ColumnTypeBool:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return data[0] != 0, 1, nil

	case flattypes.ColumnTypeByte:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return int64(int8(data[0])), 1, nil

	case flattypes.ColumnTypeUByte:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return int64(data[0]), 1, nil

	case flattypes.ColumnTypeShort:
		if err := need(2); err != nil {
			return nil, 0, err
		}
		return int64(int16(le.Uint16(data))), 2, nil

	case flattypes.ColumnTypeUShort:
		if err := need(2); err != nil {
			return nil, 0, err
		}
		return int64(le.Uint16(data)), 2, nil

	case flattypes.ColumnTypeInt:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return int64(int32(le.Uint32(data))), 4, nil

	case flattypes.ColumnTypeUInt:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return int64(le.Uint32(data)), 4, nil

	case flattypes.ColumnTypeLong:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return int64(le.Uint64(data)), 8, nil

	case flattypes.ColumnTypeULong:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return le.Uint64(data), 8, nil

	case flattypes.ColumnTypeFloat:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return float64(math.Float32frombits(le.Uint32(data))), 4, nil

	case flattypes.ColumnTypeDouble:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return math.Float64frombits(le.Uint64(data)), 8, nil

	case flattypes.ColumnTypeString, flattypes.ColumnTypeDateTime,
		flattypes.ColumnTypeJson, flattypes.ColumnTypeBinary:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		size := int(le.Uint32(data))
		if err := need(4 + size); err != nil {
			return nil, 0, err
		}
		raw := data[4 : 4+size]
		switch colType {
		case flattypes.ColumnTypeJson:
			var v interface{}
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrInvalidData, err)
			}
			return v, 4 + size, nil
		case flattypes.ColumnTypeBinary:
			return append([]byte(nil), raw...), 4 + size, nil
		}
		return string(raw), 4 + size, nil
	}
	return nil, 0, fmt.Errorf("%w: column type %d", ErrInvalidData, colType)
}
