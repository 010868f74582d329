package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBatchStats_Status(t *testing.T) {
	tests := []struct {
		name  string
		stats BatchStats
		want  string
	}{
		{"all rows", BatchStats{Success: true, Succeeded: 3}, StatusSuccess},
		{"some rows", BatchStats{Success: true, Succeeded: 2, Failed: 1}, StatusPartial},
		{"no rows", BatchStats{Failed: 3}, StatusFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.stats.Status())
		})
	}
}

func TestCollector_RecordBatch(t *testing.T) {
	c := NewCollector("metrics_test_batch")
	c.RecordBatch(BatchStats{
		Success:        true,
		Attempts:       2,
		EncodedBytes:   128,
		Succeeded:      7,
		Failed:         3,
		FailuresByKind: map[string]int{"conversion": 2, "transmission": 1},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(Batches.WithLabelValues("metrics_test_batch", StatusPartial)))
	assert.Equal(t, 7.0, testutil.ToFloat64(RowsTransmitted.WithLabelValues("metrics_test_batch", "succeeded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(RowsTransmitted.WithLabelValues("metrics_test_batch", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(RowFailures.WithLabelValues("metrics_test_batch", "conversion")))
	assert.Equal(t, 128.0, testutil.ToFloat64(EncodedBytes.WithLabelValues("metrics_test_batch")))
}

func TestCollector_StreamOpens(t *testing.T) {
	c := NewCollector("metrics_test_opens")
	c.RecordStreamOpen(nil)
	c.RecordStreamOpen(errors.New("refused"))
	c.RecordStreamOpen(errors.New("refused"))

	assert.Equal(t, 1.0, testutil.ToFloat64(StreamOpens.WithLabelValues("metrics_test_opens", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(StreamOpens.WithLabelValues("metrics_test_opens", "error")))
}

func TestCollector_DebugRotation(t *testing.T) {
	c := NewCollector("metrics_test_rotation")
	c.RecordDebugRotation("proto", 0)
	c.RecordDebugRotation("proto", 2)
	c.RecordDebugRotation("arrow", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(DebugFilesRotated.WithLabelValues("metrics_test_rotation", "proto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(DebugFilesRotated.WithLabelValues("metrics_test_rotation", "arrow")))
	assert.Equal(t, 2.0, testutil.ToFloat64(DebugFilesDeleted.WithLabelValues("metrics_test_rotation", "proto")))
}

func TestCollector_DisabledRecordsNothing(t *testing.T) {
	c := Disabled()
	c.RecordBatch(BatchStats{Success: true, Succeeded: 5})
	c.RecordStreamOpen(nil)
	c.RecordDebugRotation("proto", 3)

	var nilCollector *Collector
	nilCollector.RecordBatch(BatchStats{Succeeded: 1})

	assert.Equal(t, 0.0, testutil.ToFloat64(RowsTransmitted.WithLabelValues("", "succeeded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(DebugFilesRotated.WithLabelValues("", "proto")))
}
