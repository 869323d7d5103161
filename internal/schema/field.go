// Package schema models collection fields and the three schema views the
// engine works with: the full search schema, the facet schema, and the sort
// schema of single-valued numeric fields.
package schema

import "fmt"

// Type enumerates the supported field types.
type Type string

const (
	TypeString      Type = "string"
	TypeInt32       Type = "int32"
	TypeInt64       Type = "int64"
	TypeFloat       Type = "float"
	TypeStringArray Type = "string[]"
	TypeInt32Array  Type = "int32[]"
	TypeInt64Array  Type = "int64[]"
	TypeFloatArray  Type = "float[]"
)

// Field describes one declared collection field.
type Field struct {
	Name  string `json:"name"`
	Type  Type   `json:"type"`
	Facet bool   `json:"facet"`
}

// IsString reports whether the field holds string or string-array values.
func (f Field) IsString() bool {
	return f.Type == TypeString || f.Type == TypeStringArray
}

// IsSingleInteger reports whether the field is a single int32 or int64.
func (f Field) IsSingleInteger() bool {
	return f.Type == TypeInt32 || f.Type == TypeInt64
}

// IsSingleFloat reports whether the field is a single float.
func (f Field) IsSingleFloat() bool {
	return f.Type == TypeFloat
}

// IsSortable reports whether the field belongs in the sort schema.
func (f Field) IsSortable() bool {
	return f.IsSingleInteger() || f.IsSingleFloat()
}

// IsArray reports whether the field holds array values.
func (f Field) IsArray() bool {
	switch f.Type {
	case TypeStringArray, TypeInt32Array, TypeInt64Array, TypeFloatArray:
		return true
	}
	return false
}

// IsNumeric reports whether the field holds numeric values, single or array.
func (f Field) IsNumeric() bool {
	switch f.Type {
	case TypeInt32, TypeInt64, TypeFloat, TypeInt32Array, TypeInt64Array, TypeFloatArray:
		return true
	}
	return false
}

// Valid reports whether t is one of the supported types.
func (t Type) Valid() bool {
	switch t {
	case TypeString, TypeInt32, TypeInt64, TypeFloat,
		TypeStringArray, TypeInt32Array, TypeInt64Array, TypeFloatArray:
		return true
	}
	return false
}

// Schema holds the three field views derived from a declared field list.
type Schema struct {
	// Search contains every declared field, keyed by name.
	Search map[string]Field
	// Facet contains fields declared with facet=true.
	Facet map[string]Field
	// Sort contains single-valued numeric fields.
	Sort map[string]Field
	// Fields preserves the declaration order.
	Fields []Field
}

// New derives the schema views from the declared field list.
func New(fields []Field) (*Schema, error) {
	s := &Schema{
		Search: make(map[string]Field, len(fields)),
		Facet:  make(map[string]Field),
		Sort:   make(map[string]Field),
		Fields: fields,
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field with empty name")
		}
		if !f.Type.Valid() {
			return nil, fmt.Errorf("field `%s` has unknown type %q", f.Name, f.Type)
		}
		if _, dup := s.Search[f.Name]; dup {
			return nil, fmt.Errorf("field `%s` is declared more than once", f.Name)
		}
		s.Search[f.Name] = f
		if f.Facet {
			s.Facet[f.Name] = f
		}
		if f.IsSortable() {
			s.Sort[f.Name] = f
		}
	}
	return s, nil
}
