package convert

import (
	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/schema"
)

// Encoded is a successfully converted row.
type Encoded struct {
	Index int
	Data  []byte
}

// RowOutcome is the result of encoding one row: Data on success, Err on
// failure.
type RowOutcome struct {
	Index int
	Data  []byte
	Err   *ingesterrors.RowError
}

// OK reports whether the row encoded successfully.
func (o RowOutcome) OK() bool {
	return o.Err == nil
}

// Outcome holds the per-row results of converting a whole batch. Every row
// index of the batch appears in exactly one of the two lists, both in
// ascending index order.
type Outcome struct {
	TotalRows  int
	Successes  []Encoded
	Failures   []*ingesterrors.RowError
	TotalBytes int
}

// SuccessIndices returns the indices of the converted rows.
func (o *Outcome) SuccessIndices() []int {
	out := make([]int, len(o.Successes))
	for i, s := range o.Successes {
		out[i] = s.Index
	}
	return out
}

// Converter drives the encoder over every row of a batch.
type Converter struct {
	encoder *Encoder
}

// NewConverter creates a converter for one wire schema.
func NewConverter(wire *schema.WireSchema, maxRecordBytes int) *Converter {
	return &Converter{encoder: NewEncoder(wire, maxRecordBytes)}
}

// EncodeRow encodes one row into a RowOutcome.
func (c *Converter) EncodeRow(index int, row batch.Row) RowOutcome {
	data, rowErr := c.encoder.Encode(index, row)
	return RowOutcome{Index: index, Data: data, Err: rowErr}
}

// Convert encodes every row of b. It never stops early: each row's outcome
// is pushed onto the success or failure list.
func (c *Converter) Convert(b *batch.Batch) *Outcome {
	out := &Outcome{TotalRows: b.NumRows()}
	for i, row := range b.Rows {
		res := c.EncodeRow(i, row)
		if !res.OK() {
			out.Failures = append(out.Failures, res.Err)
			continue
		}
		out.Successes = append(out.Successes, Encoded{Index: i, Data: res.Data})
		out.TotalBytes += len(res.Data)
	}
	return out
}
