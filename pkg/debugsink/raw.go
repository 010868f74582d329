package debugsink

import (
	"os"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/compression"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/json"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"
)

// RawExt is the extension of raw mirror files (Arrow IPC stream format).
const RawExt = ".arrows"

// MismatchColumn trails the batch columns in a raw mirror file. A row's
// value is a JSON object of the cells that did not fit their column type,
// keyed by column path; rows without such cells hold null.
const MismatchColumn = "__mismatched"

const mismatchKey = "zerowire.mismatch_column"

// rawMirror appends input batches to an Arrow IPC stream. One file holds
// one schema, so a schema change rotates.
type rawMirror struct {
	file   *rotatingFile
	mem    memory.Allocator
	codec  compression.Algorithm
	logger *zap.Logger

	writer *ipc.Writer
	schema *arrow.Schema // batch schema, without MismatchColumn
	stored *arrow.Schema
}

func (m *rawMirror) write(b *batch.Batch) error {
	rec, mismatched := batch.ToRecord(b, m.mem)
	defer rec.Release()
	if len(mismatched) > 0 {
		m.logger.Debug("raw mirror kept mismatched values in "+MismatchColumn,
			zap.Int("cells", len(mismatched)))
	}

	if m.writer != nil && !m.schema.Equal(rec.Schema()) {
		if err := m.rotate(); err != nil {
			return err
		}
	}
	if m.writer == nil {
		m.schema = rec.Schema()
		m.stored = storedSchema(m.schema)
		opts := []ipc.Option{ipc.WithSchema(m.stored), ipc.WithAllocator(m.mem)}
		switch m.codec {
		case compression.Zstd:
			opts = append(opts, ipc.WithZstd())
		case compression.LZ4:
			opts = append(opts, ipc.WithLZ4())
		}
		m.writer = ipc.NewWriter(m.file, opts...)
	}

	out, err := m.withMismatches(rec, mismatched)
	if err != nil {
		return err
	}
	defer out.Release()
	if err := m.writer.Write(out); err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to write raw mirror").
			WithDetail("path", m.file.state.CurrentPath)
	}
	if m.file.full() {
		return m.rotate()
	}
	return nil
}

// rotate ends the IPC stream and closes the file.
func (m *rawMirror) rotate() error {
	var werr error
	if m.writer != nil {
		werr = m.writer.Close()
		m.writer = nil
		m.schema = nil
		m.stored = nil
	}
	if err := m.file.closeActive(); err != nil {
		return err
	}
	if werr != nil {
		return ingesterrors.Wrap(werr, ingesterrors.ErrorTypeFile, "failed to end raw mirror stream")
	}
	return nil
}

func storedSchema(s *arrow.Schema) *arrow.Schema {
	fields := append(s.Fields(), arrow.Field{Name: MismatchColumn, Type: arrow.BinaryTypes.String, Nullable: true})
	md := arrow.NewMetadata([]string{mismatchKey}, []string{MismatchColumn})
	return arrow.NewSchema(fields, &md)
}

// withMismatches appends the mismatch column to rec.
func (m *rawMirror) withMismatches(rec arrow.Record, mismatched []batch.Mismatch) (arrow.Record, error) {
	byRow := make(map[int]map[string]string)
	for _, mm := range mismatched {
		if byRow[mm.Row] == nil {
			byRow[mm.Row] = make(map[string]string)
		}
		byRow[mm.Row][mm.Path] = mm.Value
	}

	sb := array.NewStringBuilder(m.mem)
	defer sb.Release()
	for i := 0; i < int(rec.NumRows()); i++ {
		cells, ok := byRow[i]
		if !ok {
			sb.AppendNull()
			continue
		}
		data, err := json.Marshal(cells)
		if err != nil {
			return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConversion, "failed to encode mismatched cells")
		}
		sb.Append(string(data))
	}
	col := sb.NewArray()
	defer col.Release()

	cols := append(append([]arrow.Array(nil), rec.Columns()...), col)
	return array.NewRecord(m.stored, cols, rec.NumRows()), nil
}

// RawRecord is one batch read back from a raw mirror file. Mismatched maps
// a row index to the cells that did not fit their column type, keyed by
// column path.
type RawRecord struct {
	arrow.Record
	Mismatched map[int]map[string]string
}

// ReadRaw reads every record of a raw mirror file. The caller releases
// the records.
func ReadRaw(path string, mem memory.Allocator) ([]RawRecord, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is supplied by the operator
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to open raw mirror")
	}
	defer f.Close()

	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	r, err := ipc.NewReader(f, ipc.WithAllocator(mem))
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to read raw mirror").
			WithDetail("path", path)
	}
	defer r.Release()

	var out []RawRecord
	release := func() {
		for _, rec := range out {
			rec.Release()
		}
	}
	for r.Next() {
		rec, err := splitMismatches(r.Record())
		if err != nil {
			release()
			return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "corrupt raw mirror").
				WithDetail("path", path)
		}
		out = append(out, rec)
	}
	if err := r.Err(); err != nil {
		release()
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "corrupt raw mirror").
			WithDetail("path", path)
	}
	return out, nil
}

// splitMismatches separates the mismatch column from the batch columns.
// The returned record holds its own references.
func splitMismatches(rec arrow.Record) (RawRecord, error) {
	s := rec.Schema()
	n := len(s.Fields())
	if v, ok := s.Metadata().GetValue(mismatchKey); !ok || v != MismatchColumn || n == 0 {
		rec.Retain()
		return RawRecord{Record: rec}, nil
	}

	out := RawRecord{Mismatched: make(map[int]map[string]string)}
	if col, ok := rec.Column(n - 1).(*array.String); ok {
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				continue
			}
			var cells map[string]string
			if err := json.Unmarshal([]byte(col.Value(i)), &cells); err != nil {
				return RawRecord{}, err
			}
			out.Mismatched[i] = cells
		}
	}
	out.Record = array.NewRecord(arrow.NewSchema(s.Fields()[:n-1], nil), rec.Columns()[:n-1], rec.NumRows())
	return out, nil
}
