// Package observability provides tracing for zerowire batches.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/zerowire"

// Span wraps a tracing span, buffering attributes until End.
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	case time.Duration:
		attr = attribute.Int64(key, v.Milliseconds())
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End records err (if any) as the span status and ends the span.
func (s *Span) End(err error) {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	s.span.SetAttributes(attribute.Int64("duration_ms", time.Since(s.startTime).Milliseconds()))
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

// BatchTracer starts the spans of one wrapper.
type BatchTracer struct {
	table  string
	tracer trace.Tracer
}

// NewBatchTracer creates a tracer for table. A nil provider uses the
// global one; spans are no-ops until a provider is installed.
func NewBatchTracer(table string, provider trace.TracerProvider) *BatchTracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &BatchTracer{table: table, tracer: provider.Tracer(instrumentationName)}
}

// StartBatch starts the span covering one SendBatch call.
func (bt *BatchTracer) StartBatch(ctx context.Context, batchID string, rows int) (context.Context, *Span) {
	ctx, span := bt.start(ctx, "zerowire.send_batch")
	span.SetAttribute("zerowire.batch_id", batchID)
	span.SetAttribute("zerowire.table", bt.table)
	span.SetAttribute("zerowire.rows", rows)
	return ctx, span
}

// StartPass starts the span covering one transmission pass.
func (bt *BatchTracer) StartPass(ctx context.Context, attempt, rows int) (context.Context, *Span) {
	ctx, span := bt.start(ctx, "zerowire.transmit_pass")
	span.SetAttribute("zerowire.attempt", attempt)
	span.SetAttribute("zerowire.rows", rows)
	return ctx, span
}

func (bt *BatchTracer) start(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := bt.tracer.Start(ctx, name)
	return ctx, &Span{span: span, startTime: time.Now()}
}
