package wrapper

import (
	"github.com/ajitpratap0/zerowire/pkg/debugsink"
	"github.com/ajitpratap0/zerowire/pkg/metrics"
	"github.com/ajitpratap0/zerowire/pkg/retry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithLogger sets the base logger. The global logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(w *Wrapper) { w.logger = l }
}

// WithPolicy replaces the retry policy built from the reliability config.
func WithPolicy(p *retry.Policy) Option {
	return func(w *Wrapper) { w.policy = p }
}

// WithTracerProvider sets the provider used for batch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Wrapper) { w.tracerProvider = tp }
}

// WithCollector replaces the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(w *Wrapper) { w.stats = c }
}

// WithDebugOptions passes options to the debug sink.
func WithDebugOptions(opts ...debugsink.Option) Option {
	return func(w *Wrapper) { w.debugOpts = append(w.debugOpts, opts...) }
}
