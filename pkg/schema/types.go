// Package schema defines the logical row schema accepted by zerowire and
// maps it onto the flattened protobuf wire schema expected by the ingestion
// service.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the logical type of a field.
type Kind int

const (
	KindBool Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindBinary
	// KindDate32 is days since the Unix epoch.
	KindDate32
	// KindDate64 is milliseconds since the Unix epoch.
	KindDate64
	KindTimestamp
	KindList
	KindStruct
)

var kindNames = map[Kind]string{
	KindBool:      "bool",
	KindInt8:      "int8",
	KindInt16:     "int16",
	KindInt32:     "int32",
	KindInt64:     "int64",
	KindUint8:     "uint8",
	KindUint16:    "uint16",
	KindUint32:    "uint32",
	KindUint64:    "uint64",
	KindFloat32:   "float32",
	KindFloat64:   "float64",
	KindString:    "string",
	KindBinary:    "binary",
	KindDate32:    "date32",
	KindDate64:    "date64",
	KindTimestamp: "timestamp",
	KindList:      "list",
	KindStruct:    "struct",
}

// String returns the logical type name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// TimeUnit is the resolution of integer timestamp values.
type TimeUnit int

const (
	Microsecond TimeUnit = iota
	Second
	Millisecond
	Nanosecond
)

// DataType is a logical type. Elem is set for lists, Fields for structs and
// Unit for timestamps.
type DataType struct {
	Kind   Kind
	Elem   *DataType
	Fields []Field
	Unit   TimeUnit
}

// String renders the type, e.g. list<struct<a:int64>>.
func (t DataType) String() string {
	switch t.Kind {
	case KindList:
		if t.Elem == nil {
			return "list<?>"
		}
		return "list<" + t.Elem.String() + ">"
	case KindStruct:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = f.Name + ":" + f.Type.String()
		}
		return "struct<" + strings.Join(parts, ",") + ">"
	default:
		return t.Kind.String()
	}
}

// Field is a named, typed column.
type Field struct {
	Name     string
	Type     DataType
	Nullable bool
}

// Schema is an ordered list of fields shared by every row of a batch.
type Schema struct {
	Fields []Field
}

// New builds a schema from fields.
func New(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// NumFields returns the number of top-level fields.
func (s Schema) NumFields() int {
	return len(s.Fields)
}

// FieldIndex returns the position of a top-level field, or -1.
func (s Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether two schemas are structurally identical.
func (s Schema) Equal(other Schema) bool {
	return fieldsEqual(s.Fields, other.Fields)
}

func fieldsEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Nullable != b[i].Nullable || !typesEqual(a[i].Type, b[i].Type) {
			return false
		}
	}
	return true
}

func typesEqual(a, b DataType) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindList:
		if a.Elem == nil || b.Elem == nil {
			return a.Elem == b.Elem
		}
		return typesEqual(*a.Elem, *b.Elem)
	case KindStruct:
		return fieldsEqual(a.Fields, b.Fields)
	case KindTimestamp:
		return a.Unit == b.Unit
	}
	return true
}

// Primitive type constructors.
func Bool() DataType    { return DataType{Kind: KindBool} }
func Int8() DataType    { return DataType{Kind: KindInt8} }
func Int16() DataType   { return DataType{Kind: KindInt16} }
func Int32() DataType   { return DataType{Kind: KindInt32} }
func Int64() DataType   { return DataType{Kind: KindInt64} }
func Uint8() DataType   { return DataType{Kind: KindUint8} }
func Uint16() DataType  { return DataType{Kind: KindUint16} }
func Uint32() DataType  { return DataType{Kind: KindUint32} }
func Uint64() DataType  { return DataType{Kind: KindUint64} }
func Float32() DataType { return DataType{Kind: KindFloat32} }
func Float64() DataType { return DataType{Kind: KindFloat64} }
func String() DataType  { return DataType{Kind: KindString} }
func Binary() DataType  { return DataType{Kind: KindBinary} }
func Date32() DataType  { return DataType{Kind: KindDate32} }
func Date64() DataType  { return DataType{Kind: KindDate64} }

// Timestamp returns a timestamp type whose integer values are in unit.
func Timestamp(unit TimeUnit) DataType {
	return DataType{Kind: KindTimestamp, Unit: unit}
}

// ListOf returns list<elem>.
func ListOf(elem DataType) DataType {
	return DataType{Kind: KindList, Elem: &elem}
}

// StructOf returns a nested record type.
func StructOf(fields ...Field) DataType {
	return DataType{Kind: KindStruct, Fields: fields}
}

// NewField is shorthand for a Field literal.
func NewField(name string, t DataType, nullable bool) Field {
	return Field{Name: name, Type: t, Nullable: nullable}
}
