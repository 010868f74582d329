// Package metrics exposes Prometheus collectors for batch transmission and
// debug file rotation.
//
// # Basic Usage
//
//	collector := metrics.NewCollector("main.default.events")
//	timer := metrics.NewTimer("send_batch")
//	res := send(batch)
//	collector.RecordBatch(metrics.BatchStats{
//	    Success:   res.Success,
//	    Latency:   timer.Stop(),
//	    Succeeded: res.SuccessfulCount,
//	})
//
// All collectors are registered with the default registry on package load.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch status label values.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailure = "failure"
)

var (
	// RowsTransmitted counts rows by final outcome.
	// Labels: table, outcome (succeeded/failed)
	RowsTransmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerowire_rows_total",
			Help: "Total number of rows by final outcome",
		},
		[]string{"table", "outcome"},
	)

	// RowFailures counts failed rows by error kind.
	RowFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerowire_row_failures_total",
			Help: "Total number of failed rows by error kind",
		},
		[]string{"table", "kind"},
	)

	// Batches counts SendBatch calls by status.
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerowire_batches_total",
			Help: "Total number of batches by status",
		},
		[]string{"table", "status"},
	)

	// BatchLatency tracks end to end batch latency in seconds.
	BatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zerowire_batch_latency_seconds",
			Help:    "Batch latency in seconds including retries",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 9), // 1ms .. ~65s
		},
		[]string{"table"},
	)

	// BatchAttempts tracks how many transmission passes a batch needed.
	BatchAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zerowire_batch_attempts",
			Help:    "Transmission attempts per batch",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
		[]string{"table"},
	)

	// EncodedBytes counts encoded record bytes handed to the transmitter.
	EncodedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerowire_encoded_bytes_total",
			Help: "Total number of encoded record bytes",
		},
		[]string{"table"},
	)

	// StreamOpens counts ingest stream open attempts.
	// Labels: table, result (ok/error)
	StreamOpens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerowire_stream_opens_total",
			Help: "Total number of ingest stream open attempts",
		},
		[]string{"table", "result"},
	)

	// DebugFilesRotated counts closed debug files by format.
	DebugFilesRotated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerowire_debug_files_rotated_total",
			Help: "Total number of debug files closed by rotation",
		},
		[]string{"table", "format"},
	)

	// DebugFilesDeleted counts debug files removed by retention.
	DebugFilesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zerowire_debug_files_deleted_total",
			Help: "Total number of debug files deleted by retention",
		},
		[]string{"table", "format"},
	)
)

// BatchStats is the summary of one batch recorded by a Collector.
type BatchStats struct {
	Success        bool
	Attempts       int
	Latency        time.Duration
	EncodedBytes   int
	Succeeded      int
	Failed         int
	FailuresByKind map[string]int
}

// Status returns the batch status label.
func (s BatchStats) Status() string {
	switch {
	case s.Success && s.Failed == 0:
		return StatusSuccess
	case s.Success:
		return StatusPartial
	default:
		return StatusFailure
	}
}

// Collector records batch metrics for one table. A disabled collector
// records nothing.
type Collector struct {
	table   string
	enabled bool
}

// NewCollector creates an enabled collector for table.
func NewCollector(table string) *Collector {
	return &Collector{table: table, enabled: true}
}

// Disabled returns a collector that drops every observation.
func Disabled() *Collector {
	return &Collector{}
}

// Table returns the table label value.
func (c *Collector) Table() string {
	return c.table
}

// RecordBatch records the outcome of one batch.
func (c *Collector) RecordBatch(s BatchStats) {
	if c == nil || !c.enabled {
		return
	}
	Batches.WithLabelValues(c.table, s.Status()).Inc()
	BatchLatency.WithLabelValues(c.table).Observe(s.Latency.Seconds())
	BatchAttempts.WithLabelValues(c.table).Observe(float64(s.Attempts))
	EncodedBytes.WithLabelValues(c.table).Add(float64(s.EncodedBytes))
	RowsTransmitted.WithLabelValues(c.table, "succeeded").Add(float64(s.Succeeded))
	RowsTransmitted.WithLabelValues(c.table, "failed").Add(float64(s.Failed))
	for kind, n := range s.FailuresByKind {
		RowFailures.WithLabelValues(c.table, kind).Add(float64(n))
	}
}

// RecordStreamOpen records one stream open attempt.
func (c *Collector) RecordStreamOpen(err error) {
	if c == nil || !c.enabled {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	StreamOpens.WithLabelValues(c.table, result).Inc()
}

// RecordDebugRotation records one closed debug file of format and the
// files retention deleted after it.
func (c *Collector) RecordDebugRotation(format string, deleted int) {
	if c == nil || !c.enabled {
		return
	}
	DebugFilesRotated.WithLabelValues(c.table, format).Inc()
	if deleted > 0 {
		DebugFilesDeleted.WithLabelValues(c.table, format).Add(float64(deleted))
	}
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
