// Package batch holds the row-oriented batch type passed to SendBatch and
// adapters to and from Apache Arrow records.
package batch

import (
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/schema"
)

// Row is one logical record, positionally aligned with the batch schema.
//
// Accepted values per logical type:
//   - integers: any Go integer type within range
//   - floats: float32, float64 or any Go integer
//   - string: string; binary: []byte
//   - date32/date64/timestamp: time.Time or an integer in the column's unit
//   - list: []any or any typed slice
//   - struct: []any (positional) or map[string]any
//   - nil for null
type Row []any

// Batch is an ordered collection of rows sharing one schema. A batch is not
// modified by SendBatch.
type Batch struct {
	Schema schema.Schema
	Rows   []Row
}

// New creates a batch.
func New(s schema.Schema, rows ...Row) *Batch {
	return &Batch{Schema: s, Rows: rows}
}

// NumRows returns the number of rows.
func (b *Batch) NumRows() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Append adds rows to the batch.
func (b *Batch) Append(rows ...Row) {
	b.Rows = append(b.Rows, rows...)
}

// Validate checks batch-level preconditions. Row arity is checked per row
// during conversion so one short row cannot fail the whole batch.
func (b *Batch) Validate() error {
	if b == nil {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "batch is nil")
	}
	if len(b.Schema.Fields) == 0 {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "batch schema has no fields")
	}
	return nil
}

// Select returns a new batch holding the rows at the given indices, in the
// order given. Out of range indices are skipped.
func (b *Batch) Select(indices []int) *Batch {
	out := &Batch{Schema: b.Schema, Rows: make([]Row, 0, len(indices))}
	for _, i := range indices {
		if i < 0 || i >= len(b.Rows) {
			continue
		}
		out.Rows = append(out.Rows, b.Rows[i])
	}
	return out
}
