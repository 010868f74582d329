// Package convert encodes batch rows into protobuf wire records. Encoding is
// fail-isolated: a bad row produces a row-scoped ConversionError and never
// aborts the rest of the batch.
package convert

import (
	"fmt"
	"math"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/schema"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// DefaultMaxRecordBytes is the largest encoded record the service accepts.
const DefaultMaxRecordBytes = 4_194_285

// Encoder encodes single rows against a wire schema. It is stateless and
// safe for concurrent use.
type Encoder struct {
	wire           *schema.WireSchema
	maxRecordBytes int
	marshal        proto.MarshalOptions
}

// NewEncoder creates an encoder. maxRecordBytes <= 0 selects the default.
func NewEncoder(wire *schema.WireSchema, maxRecordBytes int) *Encoder {
	if maxRecordBytes <= 0 {
		maxRecordBytes = DefaultMaxRecordBytes
	}
	return &Encoder{
		wire:           wire,
		maxRecordBytes: maxRecordBytes,
		marshal:        proto.MarshalOptions{Deterministic: true},
	}
}

// Encode encodes the row at index. Exactly one of the results is non-nil.
func (e *Encoder) Encode(index int, row batch.Row) ([]byte, *ingesterrors.RowError) {
	if len(row) != len(e.wire.Fields) {
		return nil, ingesterrors.NewConversionError(index, "",
			fmt.Errorf("row has %d values, schema has %d fields", len(row), len(e.wire.Fields)))
	}

	msg := dynamicpb.NewMessage(e.wire.Message)
	if path, err := setFields(msg, e.wire.Fields, row); err != nil {
		return nil, ingesterrors.NewConversionError(index, path, err)
	}

	data, err := e.marshal.Marshal(msg)
	if err != nil {
		return nil, ingesterrors.NewConversionError(index, "", fmt.Errorf("marshal: %w", err))
	}
	if len(data) > e.maxRecordBytes {
		return nil, ingesterrors.NewConversionError(index, "",
			fmt.Errorf("encoded record is %d bytes, limit is %d", len(data), e.maxRecordBytes))
	}
	return data, nil
}

// setFields populates msg from positional values, returning the path of the
// failing field on error.
func setFields(msg protoreflect.Message, fields []schema.WireField, values []any) (string, error) {
	for i, f := range fields {
		v := values[i]
		if v == nil {
			if !f.Nullable {
				return f.Path, fmt.Errorf("null value in non-nullable field")
			}
			continue
		}
		if path, err := setField(msg, f, v); err != nil {
			return path, err
		}
	}
	return "", nil
}

func setField(msg protoreflect.Message, f schema.WireField, v any) (string, error) {
	fd := f.Descriptor

	if f.Repeated {
		n, at, ok := batch.AsSlice(v)
		if !ok {
			return f.Path, fmt.Errorf("expected list, got %T", v)
		}
		elemType := *f.Logical.Elem
		list := msg.Mutable(fd).List()
		for i := 0; i < n; i++ {
			item := at(i)
			itemPath := fmt.Sprintf("%s[%d]", f.Path, i)
			if item == nil {
				return itemPath, fmt.Errorf("null list element")
			}
			if elemType.Kind == schema.KindStruct {
				elem := list.NewElement()
				if path, err := setStruct(elem.Message(), f.Nested, elemType.Fields, item, itemPath); err != nil {
					return path, err
				}
				list.Append(elem)
				continue
			}
			pv, err := scalarValue(elemType, item)
			if err != nil {
				return itemPath, err
			}
			list.Append(pv)
		}
		return "", nil
	}

	if f.Logical.Kind == schema.KindStruct {
		return setStruct(msg.Mutable(fd).Message(), f.Nested, f.Logical.Fields, v, f.Path)
	}

	pv, err := scalarValue(f.Logical, v)
	if err != nil {
		return f.Path, err
	}
	msg.Set(fd, pv)
	return "", nil
}

func setStruct(msg protoreflect.Message, nested []schema.WireField, logical []schema.Field, v any, path string) (string, error) {
	values, ok := batch.StructValues(logical, v)
	if !ok {
		return path, fmt.Errorf("expected nested record with %d fields, got %T", len(logical), v)
	}
	return setFields(msg, nested, values)
}

// scalarValue converts a Go value to the wire value for logical type t.
func scalarValue(t schema.DataType, v any) (protoreflect.Value, error) {
	switch t.Kind {
	case schema.KindBool:
		if b, ok := v.(bool); ok {
			return protoreflect.ValueOfBool(b), nil
		}
	case schema.KindInt8, schema.KindInt16, schema.KindInt32, schema.KindUint8, schema.KindUint16:
		if i, ok := batch.AsInt64(v); ok {
			lo, hi := intRange(t.Kind)
			if i < lo || i > hi {
				return protoreflect.Value{}, fmt.Errorf("value %d out of range for %s", i, t.Kind)
			}
			return protoreflect.ValueOfInt32(int32(i)), nil
		}
	case schema.KindInt64:
		if i, ok := batch.AsInt64(v); ok {
			return protoreflect.ValueOfInt64(i), nil
		}
	case schema.KindUint32:
		if u, ok := batch.AsUint64(v); ok {
			if u > math.MaxUint32 {
				return protoreflect.Value{}, fmt.Errorf("value %d out of range for uint32", u)
			}
			return protoreflect.ValueOfUint32(uint32(u)), nil
		}
	case schema.KindUint64:
		if u, ok := batch.AsUint64(v); ok {
			return protoreflect.ValueOfUint64(u), nil
		}
	case schema.KindFloat32:
		if f, ok := batch.AsFloat64(v); ok {
			return protoreflect.ValueOfFloat32(float32(f)), nil
		}
	case schema.KindFloat64:
		if f, ok := batch.AsFloat64(v); ok {
			return protoreflect.ValueOfFloat64(f), nil
		}
	case schema.KindString:
		if s, ok := v.(string); ok {
			return protoreflect.ValueOfString(s), nil
		}
	case schema.KindBinary:
		if b, ok := v.([]byte); ok {
			return protoreflect.ValueOfBytes(b), nil
		}
	case schema.KindDate32:
		if ts, ok := v.(time.Time); ok {
			days := batch.DaysSinceEpoch(ts)
			if days < math.MinInt32 || days > math.MaxInt32 {
				return protoreflect.Value{}, fmt.Errorf("date %s out of range for date32", ts)
			}
			return protoreflect.ValueOfInt32(int32(days)), nil
		}
		if i, ok := batch.AsInt64(v); ok && i >= math.MinInt32 && i <= math.MaxInt32 {
			return protoreflect.ValueOfInt32(int32(i)), nil
		}
	case schema.KindDate64:
		if ts, ok := v.(time.Time); ok {
			return protoreflect.ValueOfInt64(ts.UnixMilli()), nil
		}
		if i, ok := batch.AsInt64(v); ok {
			return protoreflect.ValueOfInt64(i), nil
		}
	case schema.KindTimestamp:
		if ts, ok := v.(time.Time); ok {
			return protoreflect.ValueOfInt64(ts.UnixMicro()), nil
		}
		if i, ok := batch.AsInt64(v); ok {
			return protoreflect.ValueOfInt64(toMicros(i, t.Unit)), nil
		}
	default:
		return protoreflect.Value{}, fmt.Errorf("unsupported type %s", t)
	}
	return protoreflect.Value{}, fmt.Errorf("expected %s, got %T", t, v)
}

func intRange(k schema.Kind) (int64, int64) {
	switch k {
	case schema.KindInt8:
		return math.MinInt8, math.MaxInt8
	case schema.KindInt16:
		return math.MinInt16, math.MaxInt16
	case schema.KindUint8:
		return 0, math.MaxUint8
	case schema.KindUint16:
		return 0, math.MaxUint16
	default:
		return math.MinInt32, math.MaxInt32
	}
}

func toMicros(v int64, unit schema.TimeUnit) int64 {
	switch unit {
	case schema.Second:
		return v * 1_000_000
	case schema.Millisecond:
		return v * 1_000
	case schema.Nanosecond:
		return v / 1_000
	default:
		return v
	}
}
