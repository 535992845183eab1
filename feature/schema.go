package feature

import (
	"fmt"
	"strings"
)

// FieldType is the type of an attribute field.
type FieldType int

const (
	FieldString  FieldType = iota // string
	FieldInteger                  // int64
	FieldReal                     // float64
	FieldBool                     // bool
	FieldDate                     // time.Time, date only
	FieldJSON                     // any JSON value
)

var fieldTypeNames = map[FieldType]string{
	FieldString:  "string",
	FieldInteger: "integer",
	FieldReal:    "real",
	FieldBool:    "bool",
	FieldDate:    "date",
	FieldJSON:    "json",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType parses the name of a field type.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "str", "text":
		return FieldString, nil
	case "integer", "int", "long":
		return FieldInteger, nil
	case "real", "double", "float", "number":
		return FieldReal, nil
	case "bool", "boolean":
		return FieldBool, nil
	case "date":
		return FieldDate, nil
	case "json":
		return FieldJSON, nil
	}
	return 0, fmt.Errorf("%w: unknown field type %q", ErrSchemaMismatch, s)
}

// Field is one named, typed attribute. Width and Precision are hints for
// fixed-width formats; zero means unspecified.
type Field struct {
	Name      string
	Type      FieldType
	Width     int
	Precision int
}

// Schema is an ordered, immutable list of fields.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema returns a schema with the given fields in order.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field %d has no name", ErrSchemaMismatch, i)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateField, f.Name)
		}
		s.fields[i] = f
		s.index[f.Name] = i
	}
	return s, nil
}

// MustSchema is like NewSchema but panics on error.
func MustSchema(fields ...Field) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of fields.
func (s *Schema) Len() int {
	return len(s.fields)
}

// Field returns the i-th field.
func (s *Schema) Field(i int) Field {
	return s.fields[i]
}

// Fields returns a copy of the fields.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the field names in order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of the named field.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Equal reports whether both schemas have the same names and types in the
// same order. Width and precision hints are ignored.
func (s *Schema) Equal(o *Schema) bool {
	if s.Len() != o.Len() {
		return false
	}
	for i, f := range s.fields {
		if f.Name != o.fields[i].Name || f.Type != o.fields[i].Type {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.Name + ":" + f.Type.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
