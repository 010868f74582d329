package batch

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/schema"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// SchemaFromArrow converts an Arrow schema into a logical schema.
func SchemaFromArrow(as *arrow.Schema) (schema.Schema, error) {
	fields, err := fieldsFromArrow(as.Fields())
	if err != nil {
		return schema.Schema{}, err
	}
	return schema.New(fields...), nil
}

func fieldsFromArrow(afs []arrow.Field) ([]schema.Field, error) {
	fields := make([]schema.Field, 0, len(afs))
	for _, af := range afs {
		dt, err := typeFromArrow(af.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", af.Name, err)
		}
		fields = append(fields, schema.NewField(af.Name, dt, af.Nullable))
	}
	return fields, nil
}

func typeFromArrow(dt arrow.DataType) (schema.DataType, error) {
	switch t := dt.(type) {
	case *arrow.BooleanType:
		return schema.Bool(), nil
	case *arrow.Int8Type:
		return schema.Int8(), nil
	case *arrow.Int16Type:
		return schema.Int16(), nil
	case *arrow.Int32Type:
		return schema.Int32(), nil
	case *arrow.Int64Type:
		return schema.Int64(), nil
	case *arrow.Uint8Type:
		return schema.Uint8(), nil
	case *arrow.Uint16Type:
		return schema.Uint16(), nil
	case *arrow.Uint32Type:
		return schema.Uint32(), nil
	case *arrow.Uint64Type:
		return schema.Uint64(), nil
	case *arrow.Float32Type:
		return schema.Float32(), nil
	case *arrow.Float64Type:
		return schema.Float64(), nil
	case *arrow.StringType, *arrow.LargeStringType:
		return schema.String(), nil
	case *arrow.BinaryType, *arrow.LargeBinaryType:
		return schema.Binary(), nil
	case *arrow.Date32Type:
		return schema.Date32(), nil
	case *arrow.Date64Type:
		return schema.Date64(), nil
	case *arrow.TimestampType:
		return schema.Timestamp(unitFromArrow(t.Unit)), nil
	case *arrow.ListType:
		elem, err := typeFromArrow(t.Elem())
		if err != nil {
			return schema.DataType{}, err
		}
		return schema.ListOf(elem), nil
	case *arrow.StructType:
		fields, err := fieldsFromArrow(t.Fields())
		if err != nil {
			return schema.DataType{}, err
		}
		return schema.StructOf(fields...), nil
	}
	return schema.DataType{}, fmt.Errorf("unsupported arrow type %s", dt)
}

// ArrowSchema converts a logical schema to an Arrow schema.
func ArrowSchema(s schema.Schema) *arrow.Schema {
	return arrow.NewSchema(arrowFields(s.Fields), nil)
}

func arrowFields(fields []schema.Field) []arrow.Field {
	out := make([]arrow.Field, len(fields))
	for i, f := range fields {
		out[i] = arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: f.Nullable}
	}
	return out
}

func arrowType(t schema.DataType) arrow.DataType {
	switch t.Kind {
	case schema.KindBool:
		return arrow.FixedWidthTypes.Boolean
	case schema.KindInt8:
		return arrow.PrimitiveTypes.Int8
	case schema.KindInt16:
		return arrow.PrimitiveTypes.Int16
	case schema.KindInt32:
		return arrow.PrimitiveTypes.Int32
	case schema.KindInt64:
		return arrow.PrimitiveTypes.Int64
	case schema.KindUint8:
		return arrow.PrimitiveTypes.Uint8
	case schema.KindUint16:
		return arrow.PrimitiveTypes.Uint16
	case schema.KindUint32:
		return arrow.PrimitiveTypes.Uint32
	case schema.KindUint64:
		return arrow.PrimitiveTypes.Uint64
	case schema.KindFloat32:
		return arrow.PrimitiveTypes.Float32
	case schema.KindFloat64:
		return arrow.PrimitiveTypes.Float64
	case schema.KindBinary:
		return arrow.BinaryTypes.Binary
	case schema.KindDate32:
		return arrow.FixedWidthTypes.Date32
	case schema.KindDate64:
		return arrow.FixedWidthTypes.Date64
	case schema.KindTimestamp:
		return &arrow.TimestampType{Unit: unitToArrow(t.Unit), TimeZone: "UTC"}
	case schema.KindList:
		if t.Elem == nil {
			return arrow.ListOf(arrow.BinaryTypes.String)
		}
		return arrow.ListOf(arrowType(*t.Elem))
	case schema.KindStruct:
		return arrow.StructOf(arrowFields(t.Fields)...)
	default:
		return arrow.BinaryTypes.String
	}
}

func unitFromArrow(u arrow.TimeUnit) schema.TimeUnit {
	switch u {
	case arrow.Second:
		return schema.Second
	case arrow.Millisecond:
		return schema.Millisecond
	case arrow.Nanosecond:
		return schema.Nanosecond
	default:
		return schema.Microsecond
	}
}

func unitToArrow(u schema.TimeUnit) arrow.TimeUnit {
	switch u {
	case schema.Second:
		return arrow.Second
	case schema.Millisecond:
		return arrow.Millisecond
	case schema.Nanosecond:
		return arrow.Nanosecond
	default:
		return arrow.Microsecond
	}
}

// FromRecord converts an Arrow record into a row batch. Temporal columns
// become time.Time values in UTC.
func FromRecord(rec arrow.Record) (*Batch, error) {
	s, err := SchemaFromArrow(rec.Schema())
	if err != nil {
		return nil, err
	}

	n := int(rec.NumRows())
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = make(Row, rec.NumCols())
	}
	for c := 0; c < int(rec.NumCols()); c++ {
		col := rec.Column(c)
		for i := 0; i < n; i++ {
			v, err := arrowValue(col, i)
			if err != nil {
				return nil, fmt.Errorf("column %s row %d: %w", rec.ColumnName(c), i, err)
			}
			rows[i][c] = v
		}
	}
	return &Batch{Schema: s, Rows: rows}, nil
}

func arrowValue(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return a.Value(i), nil
	case *array.Int16:
		return a.Value(i), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return a.Value(i), nil
	case *array.Uint16:
		return a.Value(i), nil
	case *array.Uint32:
		return a.Value(i), nil
	case *array.Uint64:
		return a.Value(i), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Binary:
		return append([]byte(nil), a.Value(i)...), nil
	case *array.LargeBinary:
		return append([]byte(nil), a.Value(i)...), nil
	case *array.Date32:
		return a.Value(i).ToTime().UTC(), nil
	case *array.Date64:
		return a.Value(i).ToTime().UTC(), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC(), nil
	case *array.List:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		items := make([]any, 0, end-start)
		for j := start; j < end; j++ {
			v, err := arrowValue(values, int(j))
			if err != nil {
				return nil, err
			}
			items = append(items, v)
		}
		return items, nil
	case *array.Struct:
		fields := make([]any, a.NumField())
		for j := range fields {
			v, err := arrowValue(a.Field(j), i)
			if err != nil {
				return nil, err
			}
			fields[j] = v
		}
		return fields, nil
	}
	return nil, fmt.Errorf("unsupported arrow array %s", arr.DataType())
}

// Mismatch is a cell whose value did not fit its column type. Path is the
// dotted column path, with list elements written as name[i].
type Mismatch struct {
	Row   int
	Path  string
	Value string
}

// ToRecord builds an Arrow record from the batch. Values that do not fit
// their column type are written as nulls and reported, nested cells
// included. The caller must Release the record.
func ToRecord(b *Batch, mem memory.Allocator) (arrow.Record, []Mismatch) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	as := ArrowSchema(b.Schema)
	rb := array.NewRecordBuilder(mem, as)
	defer rb.Release()

	var cw cellWriter
	for r, row := range b.Rows {
		cw.row = r
		for c, f := range b.Schema.Fields {
			var v any
			if c < len(row) {
				v = row[c]
			}
			cw.append(rb.Field(c), f.Type, v, f.Name)
		}
	}
	return rb.NewRecord(), cw.mismatched
}

type cellWriter struct {
	row        int
	mismatched []Mismatch
}

func (cw *cellWriter) append(b array.Builder, t schema.DataType, v any, path string) {
	switch bld := b.(type) {
	case *array.ListBuilder:
		if n, at, is := AsSlice(v); is && t.Elem != nil {
			bld.Append(true)
			vb := bld.ValueBuilder()
			for i := 0; i < n; i++ {
				cw.append(vb, *t.Elem, at(i), fmt.Sprintf("%s[%d]", path, i))
			}
			return
		}
	case *array.StructBuilder:
		if values, is := StructValues(t.Fields, v); is {
			bld.Append(true)
			for j, f := range t.Fields {
				cw.append(bld.FieldBuilder(j), f.Type, values[j], path+"."+f.Name)
			}
			return
		}
	}
	if !appendValue(b, t, v) {
		cw.mismatched = append(cw.mismatched, Mismatch{Row: cw.row, Path: path, Value: fmt.Sprintf("%v", v)})
	}
}

// appendValue appends a scalar v, falling back to null when v does not
// match t. Lists and structs reaching it did not match their shape.
func appendValue(b array.Builder, t schema.DataType, v any) bool {
	if v == nil {
		b.AppendNull()
		return true
	}
	ok := false
	switch bld := b.(type) {
	case *array.BooleanBuilder:
		if x, is := v.(bool); is {
			bld.Append(x)
			ok = true
		}
	case *array.Int8Builder:
		if x, is := AsInt64(v); is && x >= -1<<7 && x < 1<<7 {
			bld.Append(int8(x))
			ok = true
		}
	case *array.Int16Builder:
		if x, is := AsInt64(v); is && x >= -1<<15 && x < 1<<15 {
			bld.Append(int16(x))
			ok = true
		}
	case *array.Int32Builder:
		if x, is := AsInt64(v); is && x >= -1<<31 && x < 1<<31 {
			bld.Append(int32(x))
			ok = true
		}
	case *array.Int64Builder:
		if x, is := AsInt64(v); is {
			bld.Append(x)
			ok = true
		}
	case *array.Uint8Builder:
		if x, is := AsUint64(v); is && x < 1<<8 {
			bld.Append(uint8(x))
			ok = true
		}
	case *array.Uint16Builder:
		if x, is := AsUint64(v); is && x < 1<<16 {
			bld.Append(uint16(x))
			ok = true
		}
	case *array.Uint32Builder:
		if x, is := AsUint64(v); is && x < 1<<32 {
			bld.Append(uint32(x))
			ok = true
		}
	case *array.Uint64Builder:
		if x, is := AsUint64(v); is {
			bld.Append(x)
			ok = true
		}
	case *array.Float32Builder:
		if x, is := AsFloat64(v); is {
			bld.Append(float32(x))
			ok = true
		}
	case *array.Float64Builder:
		if x, is := AsFloat64(v); is {
			bld.Append(x)
			ok = true
		}
	case *array.StringBuilder:
		if x, is := v.(string); is {
			bld.Append(x)
			ok = true
		}
	case *array.BinaryBuilder:
		if x, is := v.([]byte); is {
			bld.Append(x)
			ok = true
		}
	case *array.Date32Builder:
		if x, is := v.(time.Time); is {
			bld.Append(arrow.Date32FromTime(x))
			ok = true
		} else if x, is := AsInt64(v); is {
			bld.Append(arrow.Date32(x))
			ok = true
		}
	case *array.Date64Builder:
		if x, is := v.(time.Time); is {
			bld.Append(arrow.Date64FromTime(x))
			ok = true
		} else if x, is := AsInt64(v); is {
			bld.Append(arrow.Date64(x))
			ok = true
		}
	case *array.TimestampBuilder:
		if x, is := v.(time.Time); is {
			if ts, err := arrow.TimestampFromTime(x, unitToArrow(t.Unit)); err == nil {
				bld.Append(ts)
				ok = true
			}
		} else if x, is := AsInt64(v); is {
			bld.Append(arrow.Timestamp(x))
			ok = true
		}
	}
	if !ok {
		b.AppendNull()
	}
	return ok
}

// StructValues resolves a nested record value, given as []any or
// map[string]any, to positional field values.
func StructValues(fields []schema.Field, v any) ([]any, bool) {
	switch rec := v.(type) {
	case []any:
		if len(rec) != len(fields) {
			return nil, false
		}
		return rec, true
	case map[string]any:
		out := make([]any, len(fields))
		for j, f := range fields {
			out[j] = rec[f.Name]
		}
		return out, true
	}
	return nil, false
}
