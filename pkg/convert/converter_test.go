package convert

import (
	"strings"
	"testing"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

func orderSchema() schema.Schema {
	return schema.New(
		schema.NewField("id", schema.Int64(), false),
		schema.NewField("customer", schema.String(), true),
		schema.NewField("qty", schema.Int16(), true),
		schema.NewField("placed", schema.Timestamp(schema.Microsecond), true),
		schema.NewField("day", schema.Date32(), true),
		schema.NewField("tags", schema.ListOf(schema.String()), true),
		schema.NewField("ship", schema.StructOf(
			schema.NewField("city", schema.String(), true),
			schema.NewField("zip", schema.Int32(), true),
		), true),
		schema.NewField("lines", schema.ListOf(schema.StructOf(
			schema.NewField("sku", schema.String(), false),
			schema.NewField("price", schema.Float64(), true),
		)), true),
	)
}

func mustMap(t *testing.T, s schema.Schema) *schema.WireSchema {
	t.Helper()
	ws, err := schema.Map(s)
	require.NoError(t, err)
	return ws
}

func decode(t *testing.T, ws *schema.WireSchema, data []byte) protoreflect.Message {
	t.Helper()
	msg := dynamicpb.NewMessage(ws.Message)
	require.NoError(t, proto.Unmarshal(data, msg))
	return msg
}

func TestEncoder_EncodesAllTypes(t *testing.T) {
	ws := mustMap(t, orderSchema())
	enc := NewEncoder(ws, 0)

	placed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	row := batch.Row{
		int64(42),
		"acme",
		int16(3),
		placed,
		placed,
		[]string{"rush", "gift"},
		map[string]any{"city": "Oslo", "zip": int32(150)},
		[]any{
			[]any{"A-1", 9.5},
			map[string]any{"sku": "B-2", "price": nil},
		},
	}

	data, rowErr := enc.Encode(0, row)
	require.Nil(t, rowErr)

	msg := decode(t, ws, data)
	fields := ws.Message.Fields()
	assert.Equal(t, int64(42), msg.Get(fields.ByName("id")).Int())
	assert.Equal(t, "acme", msg.Get(fields.ByName("customer")).String())
	assert.Equal(t, int64(3), msg.Get(fields.ByName("qty")).Int())
	assert.Equal(t, placed.UnixMicro(), msg.Get(fields.ByName("placed")).Int())
	assert.Equal(t, int64(19783), msg.Get(fields.ByName("day")).Int())
	assert.Equal(t, 2, msg.Get(fields.ByName("tags")).List().Len())

	ship := msg.Get(fields.ByName("ship")).Message()
	assert.Equal(t, "Oslo", ship.Get(ship.Descriptor().Fields().ByName("city")).String())

	lines := msg.Get(fields.ByName("lines")).List()
	require.Equal(t, 2, lines.Len())
	second := lines.Get(1).Message()
	assert.Equal(t, "B-2", second.Get(second.Descriptor().Fields().ByName("sku")).String())
	assert.False(t, second.Has(second.Descriptor().Fields().ByName("price")))
}

func TestEncoder_NullsLeaveFieldsUnset(t *testing.T) {
	ws := mustMap(t, orderSchema())
	data, rowErr := NewEncoder(ws, 0).Encode(0, batch.Row{int64(1), nil, nil, nil, nil, nil, nil, nil})
	require.Nil(t, rowErr)

	msg := decode(t, ws, data)
	assert.False(t, msg.Has(ws.Message.Fields().ByName("customer")))
}

func TestEncoder_RowFailures(t *testing.T) {
	ws := mustMap(t, orderSchema())
	enc := NewEncoder(ws, 0)
	valid := func() batch.Row {
		return batch.Row{int64(1), "c", int16(1), nil, nil, nil, nil, nil}
	}

	tests := []struct {
		name  string
		mut   func(batch.Row) batch.Row
		field string
	}{
		{"string in int64", func(r batch.Row) batch.Row { r[0] = "five"; return r }, "id"},
		{"null in required", func(r batch.Row) batch.Row { r[0] = nil; return r }, "id"},
		{"int16 overflow", func(r batch.Row) batch.Row { r[2] = 70000; return r }, "qty"},
		{"list of wrong type", func(r batch.Row) batch.Row { r[5] = []int{1}; return r }, "tags[0]"},
		{"list not a slice", func(r batch.Row) batch.Row { r[5] = "rush"; return r }, "tags"},
		{"nested wrong type", func(r batch.Row) batch.Row { r[6] = map[string]any{"zip": "x"}; return r }, "ship.zip"},
		{"nested arity", func(r batch.Row) batch.Row { r[6] = []any{"Oslo"}; return r }, "ship"},
		{"required nested null", func(r batch.Row) batch.Row { r[7] = []any{[]any{nil, 1.0}}; return r }, "lines.sku"},
		{"short row", func(r batch.Row) batch.Row { return r[:3] }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, rowErr := enc.Encode(7, tt.mut(valid()))
			assert.Nil(t, data)
			require.NotNil(t, rowErr)
			assert.Equal(t, ingesterrors.KindConversion, rowErr.Kind)
			assert.Equal(t, 7, rowErr.RowIndex)
			assert.Equal(t, tt.field, rowErr.Field)
		})
	}
}

func TestEncoder_MaxRecordSize(t *testing.T) {
	ws := mustMap(t, schema.New(schema.NewField("payload", schema.String(), true)))
	enc := NewEncoder(ws, 64)

	_, rowErr := enc.Encode(0, batch.Row{strings.Repeat("x", 32)})
	assert.Nil(t, rowErr)

	_, rowErr = enc.Encode(1, batch.Row{strings.Repeat("x", 128)})
	require.NotNil(t, rowErr)
	assert.Equal(t, ingesterrors.KindConversion, rowErr.Kind)
	assert.Contains(t, rowErr.Error(), "limit is 64")
}

func TestEncoder_DigitLeadingFieldNames(t *testing.T) {
	ws := mustMap(t, schema.New(
		schema.NewField("2024_revenue", schema.Int64(), true),
		schema.NewField("3d", schema.StructOf(schema.NewField("1x", schema.String(), true)), true),
	))

	data, rowErr := NewEncoder(ws, 0).Encode(0, batch.Row{int64(12), []any{"deep"}})
	require.Nil(t, rowErr)

	msg := decode(t, ws, data)
	fields := ws.Message.Fields()
	assert.Equal(t, int64(12), msg.Get(fields.ByJSONName("2024_revenue")).Int())
	nested := msg.Get(fields.ByJSONName("3d")).Message()
	assert.Equal(t, "deep", nested.Get(nested.Descriptor().Fields().ByJSONName("1x")).String())
}

func TestConverter_CollectsAllRows(t *testing.T) {
	// Row 5 carries a string where an int64 is expected.
	s := schema.New(
		schema.NewField("id", schema.Int64(), false),
		schema.NewField("value", schema.Int64(), true),
	)
	b := batch.New(s)
	for i := 0; i < 10; i++ {
		var v any = int64(i * 10)
		if i == 5 {
			v = "fifty"
		}
		b.Append(batch.Row{int64(i), v})
	}

	conv := NewConverter(mustMap(t, s), 0)
	out := conv.Convert(b)

	assert.Equal(t, 10, out.TotalRows)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, 5, out.Failures[0].RowIndex)
	assert.Equal(t, "value", out.Failures[0].Field)
	require.Len(t, out.Successes, 9)
	assert.NotContains(t, out.SuccessIndices(), 5)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 6, 7, 8, 9}, out.SuccessIndices())

	total := 0
	for _, e := range out.Successes {
		total += len(e.Data)
	}
	assert.Equal(t, total, out.TotalBytes)
}

func TestConverter_IntegerTimestampUnits(t *testing.T) {
	s := schema.New(schema.NewField("ts", schema.Timestamp(schema.Millisecond), true))
	ws := mustMap(t, s)

	res := NewConverter(ws, 0).EncodeRow(0, batch.Row{int64(1_700_000_000_000)})
	require.True(t, res.OK())

	msg := decode(t, ws, res.Data)
	assert.Equal(t, int64(1_700_000_000_000_000), msg.Get(ws.Message.Fields().ByName("ts")).Int())
}
