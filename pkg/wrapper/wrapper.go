// Package wrapper is the public entry point of zerowire. A Wrapper turns
// columnar batches into wire-format records, transmits them over a shared
// ingest stream with retries and reports a per-row result for every batch.
//
// Basic usage:
//
//	w, err := wrapper.New(cfg, grpcSink, oauthProvider)
//	if err != nil {
//	    return err
//	}
//	defer w.Close(ctx)
//
//	res, err := w.SendBatch(ctx, b)
//	if err != nil {
//	    return err // configuration problem or closed wrapper
//	}
//	for _, f := range res.FailedRows {
//	    log.Printf("row %d: %v", f.Index, f.Err)
//	}
//
// SendBatch is safe for concurrent use. Calls serialize only around the
// shared stream and the debug files.
package wrapper

import (
	"context"
	"strings"
	"sync"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/config"
	"github.com/ajitpratap0/zerowire/pkg/convert"
	"github.com/ajitpratap0/zerowire/pkg/debugsink"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/logger"
	"github.com/ajitpratap0/zerowire/pkg/metrics"
	"github.com/ajitpratap0/zerowire/pkg/observability"
	"github.com/ajitpratap0/zerowire/pkg/result"
	"github.com/ajitpratap0/zerowire/pkg/retry"
	"github.com/ajitpratap0/zerowire/pkg/schema"
	"github.com/ajitpratap0/zerowire/pkg/sink"
	"github.com/ajitpratap0/zerowire/pkg/transmit"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Wrapper sends batches to one table.
type Wrapper struct {
	cfg     *config.Config
	auth    sink.AuthProvider
	logger  *zap.Logger
	policy  *retry.Policy
	stats   *metrics.Collector
	schemas *schema.Registry

	tracerProvider trace.TracerProvider
	tracer         *observability.BatchTracer
	debugOpts      []debugsink.Option

	session     *transmit.Session
	transmitter *transmit.Transmitter
	debug       *debugsink.Sink

	mu     sync.RWMutex
	closed bool
}

// New creates a wrapper. No stream is opened until the first SendBatch. A
// nil auth sends no credentials.
func New(cfg *config.Config, rs sink.RecordSink, auth sink.AuthProvider, opts ...Option) (*Wrapper, error) {
	if cfg == nil {
		return nil, ingesterrors.New(ingesterrors.ErrorTypeConfig, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rs == nil {
		return nil, ingesterrors.New(ingesterrors.ErrorTypeConfig, "record sink is required")
	}
	if auth == nil {
		auth = sink.StaticAuth{}
	}

	w := &Wrapper{
		cfg:  cfg,
		auth: auth,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get()
	}
	w.logger = w.logger.With(zap.String("component", "wrapper"), zap.String("table", cfg.Table))
	if w.policy == nil {
		w.policy = retry.NewPolicy(cfg.Reliability.MaxAttempts, cfg.Reliability.BaseDelay, cfg.Reliability.MaxDelay)
	}
	if w.stats == nil {
		if cfg.Observability.EnableMetrics {
			w.stats = metrics.NewCollector(cfg.Table)
		} else {
			w.stats = metrics.Disabled()
		}
	}
	w.tracer = observability.NewBatchTracer(cfg.Table, w.tracerProvider)
	w.schemas = schema.NewRegistry(schema.NewMapper(schema.MapperConfig{
		MessageName: cfg.Schema.MessageName,
		MaxFields:   cfg.Schema.MaxFields,
	}), w.logger)
	w.schemas.OnSchemaChange(func(_ string, old, new *schema.SchemaVersion) {
		w.logger.Info("batch schema changed, stream will reopen",
			zap.Int("old_version", old.Version),
			zap.Int("new_version", new.Version))
	})

	w.session = transmit.NewSession(rs, auth, cfg.Table, w.logger, transmit.WithCollector(w.stats))
	w.transmitter = transmit.New(w.session, w.logger)

	if cfg.Debug.Enabled() {
		dcfg := cfg.Debug
		if dcfg.BaseName == "" {
			dcfg.BaseName = debugBaseName(cfg.Table)
		}
		opts := append([]debugsink.Option{debugsink.WithCollector(w.stats)}, w.debugOpts...)
		ds, err := debugsink.New(dcfg, w.logger, opts...)
		if err != nil {
			return nil, err
		}
		w.debug = ds
	}
	return w, nil
}

// Schema returns the wire schema for s, mapping it on first use.
func (w *Wrapper) Schema(s schema.Schema) (*schema.WireSchema, error) {
	v, err := w.schemas.Register(w.cfg.Table, s)
	if err != nil {
		return nil, err
	}
	return v.Wire, nil
}

// SendBatch converts and transmits b. Row failures are reported in the
// result; an error is returned only for configuration problems and for a
// closed wrapper.
func (w *Wrapper) SendBatch(ctx context.Context, b *batch.Batch) (*result.TransmissionResult, error) {
	if w.isClosed() {
		return nil, errClosed()
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	wire, err := w.Schema(b.Schema)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewTimer("send_batch")
	batchID := uuid.NewString()
	ctx = logger.ContextWithBatch(ctx, batchID, w.cfg.Table)
	log := logger.WithContext(ctx, w.logger)
	ctx, span := w.tracer.StartBatch(ctx, batchID, b.NumRows())

	if w.debug.RawEnabled() {
		if err := w.debug.WriteRaw(ctx, b); err != nil {
			log.Warn("failed to mirror raw batch", zap.Error(err))
		}
	}

	conv := convert.NewConverter(wire, w.cfg.Encoding.MaxRecordBytes).Convert(b)
	if len(conv.Failures) > 0 {
		log.Debug("rows failed conversion", zap.Int("failed", len(conv.Failures)))
	}

	if w.debug.EncodedEnabled() && len(conv.Successes) > 0 {
		if err := w.debug.WriteEncoded(ctx, conv.Successes); err != nil {
			log.Warn("failed to mirror encoded rows", zap.Error(err))
		}
	}

	run := w.transmit(ctx, log, wire, conv.Successes)
	res := result.Aggregate(result.Input{
		Conversion: conv,
		Passes:     run.passes,
		BatchErr:   run.batchErr,
		Attempts:   run.attempts,
		Latency:    timer.Stop(),
	})

	w.stats.RecordBatch(batchStats(res))
	span.SetAttribute("zerowire.successful", res.SuccessfulCount)
	span.SetAttribute("zerowire.failed", res.FailedCount)
	span.SetAttribute("zerowire.attempts", res.Attempts)
	span.End(res.Error)

	switch {
	case !res.Success && res.TotalRows > 0:
		log.Warn("batch failed", res.Fields()...)
	case res.FailedCount > 0:
		log.Info("batch partially transmitted", res.Fields()...)
	default:
		log.Debug("batch transmitted", res.Fields()...)
	}
	return res, nil
}

type run struct {
	passes   []*transmit.PassOutcome
	batchErr error
	attempts int
}

// transmit runs passes until every row succeeded, only terminal failures
// remain or the attempt budget is spent. A pass that could not open the
// stream is retried whole; otherwise only the retryable failures go again.
// Both share one attempt counter.
func (w *Wrapper) transmit(ctx context.Context, log *zap.Logger, wire *schema.WireSchema, rows []convert.Encoded) run {
	var r run
	if len(rows) == 0 {
		return r
	}

	st := &retry.State{}
	pending := rows
	for {
		pctx, span := w.tracer.StartPass(ctx, st.Attempt+1, len(pending))
		out := w.transmitter.Send(pctx, wire.Descriptor, pending)
		span.End(out.BatchErr)
		r.attempts = st.Attempt + 1

		var (
			lastErr error
			refresh bool
		)
		if !out.Attempted {
			lastErr = out.BatchErr
			refresh = retry.IsAuthentication(lastErr)
			if !w.policy.ShouldRetry(lastErr) {
				r.batchErr = lastErr
				return r
			}
		} else {
			r.passes = append(r.passes, out)
			failures := out.RetryableFailures()
			if len(failures) == 0 {
				return r
			}
			lastErr = failures[len(failures)-1]
			for _, f := range failures {
				if f.Kind == ingesterrors.KindAuthentication {
					refresh = true
				}
			}
			pending = selectRows(pending, failures)
		}

		if err := ctx.Err(); err != nil {
			r.batchErr = ingesterrors.Wrap(err, ingesterrors.ErrorTypeConnection, "send cancelled")
			return r
		}
		if err := w.policy.Next(st, lastErr); err != nil {
			log.Warn("retries exhausted", zap.Int("attempts", st.Attempt), zap.Error(lastErr))
			r.batchErr = err
			return r
		}
		if refresh {
			if _, err := w.auth.Refresh(ctx); err != nil {
				if ingesterrors.TypeOf(err) == ingesterrors.ErrorTypeInternal {
					err = ingesterrors.Wrap(err, ingesterrors.ErrorTypeAuthentication, "failed to refresh access token")
				}
				log.Warn("token refresh failed", zap.Error(err))
				r.batchErr = err
				return r
			}
		}

		log.Debug("retrying transmission",
			zap.Int("attempt", st.Attempt+1),
			zap.Int("rows", len(pending)),
			zap.Duration("delay", st.Delay),
			zap.NamedError("cause", lastErr))
		if err := retry.Wait(ctx, st.Delay); err != nil {
			r.batchErr = ingesterrors.Wrap(err, ingesterrors.ErrorTypeConnection, "send cancelled")
			return r
		}
	}
}

// Flush writes buffered debug data to disk.
func (w *Wrapper) Flush(ctx context.Context) error {
	if w.debug == nil {
		return nil
	}
	return w.debug.Flush(ctx)
}

// Close closes the stream and the debug files. It is safe to call more
// than once; SendBatch fails afterwards.
func (w *Wrapper) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	var errs *multierror.Error
	if err := w.session.Close(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	if w.debug != nil {
		if err := w.debug.Close(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (w *Wrapper) isClosed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

func errClosed() error {
	return ingesterrors.New(ingesterrors.ErrorTypeConfig, "wrapper is closed")
}

func selectRows(rows []convert.Encoded, failures []*ingesterrors.RowError) []convert.Encoded {
	want := make(map[int]struct{}, len(failures))
	for _, f := range failures {
		want[f.RowIndex] = struct{}{}
	}
	out := make([]convert.Encoded, 0, len(failures))
	for _, row := range rows {
		if _, ok := want[row.Index]; ok {
			out = append(out, row)
		}
	}
	return out
}

func batchStats(res *result.TransmissionResult) metrics.BatchStats {
	byKind := make(map[string]int)
	for kind, n := range res.FailuresByKind() {
		byKind[kind.String()] = n
	}
	return metrics.BatchStats{
		Success:        res.Success,
		Attempts:       res.Attempts,
		Latency:        res.Latency,
		EncodedBytes:   res.BatchSizeBytes,
		Succeeded:      res.SuccessfulCount,
		Failed:         res.FailedCount,
		FailuresByKind: byKind,
	}
}

// debugBaseName turns a qualified table name into a file name stem.
func debugBaseName(table string) string {
	return strings.NewReplacer(".", "_", "/", "_", " ", "_").Replace(table)
}
