// Package result aggregates conversion and transmission outcomes into the
// TransmissionResult returned for every batch.
package result

import (
	"fmt"
	"sort"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/convert"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/transmit"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// FailedRow is a row that did not reach the sink, with the error from its
// last attempt.
type FailedRow struct {
	Index int
	Err   *ingesterrors.RowError
}

// TransmissionResult summarizes one SendBatch call.
//
// SuccessfulRows and FailedRows are nil when empty. FailedRows is also nil
// when the stream could never be opened: every row then counts as failed
// and Error holds the cause.
type TransmissionResult struct {
	Success         bool
	Error           error
	Attempts        int
	Latency         time.Duration
	BatchSizeBytes  int
	TotalRows       int
	SuccessfulCount int
	FailedCount     int
	SuccessfulRows  []int
	FailedRows      []FailedRow
}

// Input is everything Aggregate needs.
type Input struct {
	Conversion *convert.Outcome
	Passes     []*transmit.PassOutcome
	// BatchErr is the terminal batch-level error, if any: an open failure
	// that retries could not clear, or retry exhaustion.
	BatchErr error
	Attempts int
	Latency  time.Duration
}

// Aggregate builds the result. A row's final state is taken from the last
// pass that reported it; conversion failures are final from the start.
// Counts come from the sizes of the index sets.
func Aggregate(in Input) *TransmissionResult {
	conv := in.Conversion
	if conv == nil {
		conv = &convert.Outcome{}
	}
	res := &TransmissionResult{
		Attempts:       in.Attempts,
		Latency:        in.Latency,
		BatchSizeBytes: conv.TotalBytes,
		TotalRows:      conv.TotalRows,
	}

	succeeded := make(map[int]bool)
	failed := make(map[int]*ingesterrors.RowError, len(conv.Failures))
	for _, f := range conv.Failures {
		failed[f.RowIndex] = f
	}

	attempted := false
	for _, p := range in.Passes {
		if p == nil || !p.Attempted {
			continue
		}
		attempted = true
		for _, idx := range p.Succeeded {
			succeeded[idx] = true
			delete(failed, idx)
		}
		for _, f := range p.Failed {
			if succeeded[f.RowIndex] {
				continue
			}
			failed[f.RowIndex] = f
		}
	}

	if !attempted && in.BatchErr != nil && len(conv.Failures) == 0 {
		// No row was processed at all: report the batch error alone.
		res.Error = in.BatchErr
		res.FailedCount = res.TotalRows
		return res
	}

	// Converted rows without a transmission outcome failed with the batch
	// error, or were never sent at all.
	for _, s := range conv.Successes {
		if succeeded[s.Index] {
			continue
		}
		if _, ok := failed[s.Index]; ok {
			continue
		}
		cause := in.BatchErr
		if cause == nil {
			cause = ingesterrors.New(ingesterrors.ErrorTypeTransmission, "row was not transmitted")
		}
		failed[s.Index] = ingesterrors.FromRemote(s.Index, cause)
	}

	for idx := range succeeded {
		res.SuccessfulRows = append(res.SuccessfulRows, idx)
	}
	sort.Ints(res.SuccessfulRows)

	for idx, err := range failed {
		res.FailedRows = append(res.FailedRows, FailedRow{Index: idx, Err: err})
	}
	sort.Slice(res.FailedRows, func(i, j int) bool { return res.FailedRows[i].Index < res.FailedRows[j].Index })

	res.SuccessfulCount = len(res.SuccessfulRows)
	res.FailedCount = len(res.FailedRows)
	res.Success = res.SuccessfulCount > 0
	if !res.Success {
		res.Error = in.BatchErr
	}
	return res
}

// FailedIndices returns the failed row indices. When FailedRows is nil but
// every row failed, all indices are returned.
func (r *TransmissionResult) FailedIndices() []int {
	if r.FailedRows == nil && r.FailedCount > 0 && r.FailedCount == r.TotalRows {
		out := make([]int, r.TotalRows)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, len(r.FailedRows))
	for i, f := range r.FailedRows {
		out[i] = f.Index
	}
	return out
}

// FailuresByKind counts the listed failed rows per error kind.
func (r *TransmissionResult) FailuresByKind() map[ingesterrors.RowErrorKind]int {
	out := make(map[ingesterrors.RowErrorKind]int)
	for _, f := range r.FailedRows {
		out[f.Err.Kind]++
	}
	return out
}

// Validate checks the structural invariants of the result.
func (r *TransmissionResult) Validate() error {
	var errs *multierror.Error

	if r.TotalRows != r.SuccessfulCount+r.FailedCount {
		errs = multierror.Append(errs, fmt.Errorf("total_rows %d != successful %d + failed %d",
			r.TotalRows, r.SuccessfulCount, r.FailedCount))
	}
	if r.SuccessfulCount != len(r.SuccessfulRows) {
		errs = multierror.Append(errs, fmt.Errorf("successful_count %d != len(successful_rows) %d",
			r.SuccessfulCount, len(r.SuccessfulRows)))
	}
	if r.FailedRows != nil && r.FailedCount != len(r.FailedRows) {
		errs = multierror.Append(errs, fmt.Errorf("failed_count %d != len(failed_rows) %d",
			r.FailedCount, len(r.FailedRows)))
	}
	if r.FailedRows == nil && r.FailedCount > 0 && r.Error == nil {
		errs = multierror.Append(errs, fmt.Errorf("%d failed rows are not listed and no batch error is set", r.FailedCount))
	}
	if r.Success != (r.SuccessfulCount > 0) {
		errs = multierror.Append(errs, fmt.Errorf("success=%t with %d successful rows", r.Success, r.SuccessfulCount))
	}

	seen := make(map[int]string, r.TotalRows)
	check := func(idx int, list string) {
		if idx < 0 || idx >= r.TotalRows {
			errs = multierror.Append(errs, fmt.Errorf("%s index %d outside [0,%d)", list, idx, r.TotalRows))
			return
		}
		if prev, ok := seen[idx]; ok {
			errs = multierror.Append(errs, fmt.Errorf("index %d listed in %s and %s", idx, prev, list))
			return
		}
		seen[idx] = list
	}
	for _, idx := range r.SuccessfulRows {
		check(idx, "successful_rows")
	}
	for _, f := range r.FailedRows {
		check(f.Index, "failed_rows")
		if f.Err == nil {
			errs = multierror.Append(errs, fmt.Errorf("failed row %d has no error", f.Index))
		} else if f.Err.RowIndex != f.Index {
			errs = multierror.Append(errs, fmt.Errorf("failed row %d carries error for row %d", f.Index, f.Err.RowIndex))
		}
	}

	if r.Error != nil {
		if r.SuccessfulCount > 0 {
			errs = multierror.Append(errs, fmt.Errorf("batch error set with %d successful rows", r.SuccessfulCount))
		}
		if r.FailedRows != nil && len(r.FailedRows) != r.TotalRows {
			errs = multierror.Append(errs, fmt.Errorf("batch error set but only %d of %d rows listed as failed",
				len(r.FailedRows), r.TotalRows))
		}
	}

	return errs.ErrorOrNil()
}

// Fields returns the summary as zap fields.
func (r *TransmissionResult) Fields() []zap.Field {
	fields := []zap.Field{
		zap.Bool("success", r.Success),
		zap.Int("total_rows", r.TotalRows),
		zap.Int("successful", r.SuccessfulCount),
		zap.Int("failed", r.FailedCount),
		zap.Int("attempts", r.Attempts),
		zap.Int("batch_size_bytes", r.BatchSizeBytes),
		zap.Duration("latency", r.Latency),
	}
	if r.Error != nil {
		fields = append(fields, zap.Error(r.Error))
	}
	return fields
}

// SplitBatch separates b into the rows that reached the sink and the rows
// to quarantine for reprocessing.
func SplitBatch(b *batch.Batch, r *TransmissionResult) (ok, quarantined *batch.Batch) {
	return b.Select(r.SuccessfulRows), b.Select(r.FailedIndices())
}
