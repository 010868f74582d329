// Package debugsink mirrors batches to local files for debugging: the raw
// input as Arrow IPC streams under arrow/ and the encoded rows as
// length-delimited protobuf under proto/.
//
// Files rotate when they reach the configured size (and, for the raw
// mirror, when the schema changes). Rotated names carry exactly one
// ordering suffix, {base}_{YYYYMMDD_HHMMSS}{ext} (with a _NNN number when
// several files share one second), or {base}_{seq}{ext} when a timestamped
// name would exceed 255 bytes. After each rotation the
// oldest closed files beyond the per-mirror retention count are deleted.
package debugsink

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/batch"
	"github.com/ajitpratap0/zerowire/pkg/compression"
	"github.com/ajitpratap0/zerowire/pkg/config"
	"github.com/ajitpratap0/zerowire/pkg/convert"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/metrics"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Subdirectories of the output directory.
const (
	RawDir     = "arrow"
	EncodedDir = "proto"
)

// Option configures a Sink.
type Option func(*Sink)

// WithClock overrides the time source used for file names.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithCollector records rotations and retention deletions on c. Nothing
// is recorded without one.
func WithCollector(c *metrics.Collector) Option {
	return func(s *Sink) { s.stats = c }
}

// WithAllocator sets the allocator for raw mirror records.
func WithAllocator(mem memory.Allocator) Option {
	return func(s *Sink) { s.mem = mem }
}

// Sink owns the debug mirror files. All methods are safe for concurrent
// use; writers serialize on a context-aware lock.
type Sink struct {
	cfg    config.DebugConfig
	logger *zap.Logger
	now    func() time.Time
	mem    memory.Allocator
	stats  *metrics.Collector

	lock    *semaphore.Weighted
	raw     *rawMirror
	encoded *encodedMirror
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates the sink and its directories. Mirrors that are disabled in
// cfg are not created and their writes are no-ops.
func New(cfg config.DebugConfig, logger *zap.Logger, opts ...Option) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "debug_sink")),
		now:    time.Now,
		lock:   semaphore.NewWeighted(1),
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.mem == nil {
		s.mem = memory.NewGoAllocator()
	}

	base := cfg.BaseName
	if base == "" {
		base = "batch"
	}

	if cfg.RawEnabled {
		rf, err := newRotatingFile(fileConfig{
			dir:      filepath.Join(cfg.OutputDir, RawDir),
			base:     base,
			ext:      RawExt,
			maxSize:  cfg.MaxFileSize,
			maxFiles: cfg.RawMaxFiles,
			now:      s.now,
			stats:    s.stats,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		s.raw = &rawMirror{file: rf, mem: s.mem, codec: cfg.RawAlgorithm(), logger: s.logger}
	}
	if cfg.EncodedEnabled {
		alg := cfg.EncodedAlgorithm()
		rf, err := newRotatingFile(fileConfig{
			dir:      filepath.Join(cfg.OutputDir, EncodedDir),
			base:     base,
			ext:      encodedExt(alg),
			maxSize:  cfg.MaxFileSize,
			maxFiles: cfg.EncodedMaxFiles,
			now:      s.now,
			stats:    s.stats,
		}, s.logger)
		if err != nil {
			return nil, err
		}
		s.encoded = &encodedMirror{
			file:  rf,
			codec: &compression.Config{Algorithm: alg, Level: compression.Level(cfg.CompressionLevel)},
		}
	}

	if cfg.FlushInterval > 0 && (s.raw != nil || s.encoded != nil) {
		s.wg.Add(1)
		go s.flushLoop(cfg.FlushInterval)
	}
	return s, nil
}

// RawEnabled reports whether the raw mirror is on.
func (s *Sink) RawEnabled() bool { return s != nil && s.raw != nil }

// EncodedEnabled reports whether the encoded mirror is on.
func (s *Sink) EncodedEnabled() bool { return s != nil && s.encoded != nil }

// WriteRaw appends b to the raw mirror.
func (s *Sink) WriteRaw(ctx context.Context, b *batch.Batch) error {
	if !s.RawEnabled() {
		return nil
	}
	return s.locked(ctx, func() error {
		if err := s.raw.write(b); err != nil {
			return err
		}
		if s.cfg.FlushInterval == 0 {
			return s.raw.file.flush()
		}
		return nil
	})
}

// WriteEncoded appends rows to the encoded mirror.
func (s *Sink) WriteEncoded(ctx context.Context, rows []convert.Encoded) error {
	if !s.EncodedEnabled() || len(rows) == 0 {
		return nil
	}
	return s.locked(ctx, func() error {
		if err := s.encoded.write(rows); err != nil {
			return err
		}
		if s.cfg.FlushInterval == 0 {
			return s.encoded.flush()
		}
		return nil
	})
}

// Flush pushes buffered data of both mirrors to disk.
func (s *Sink) Flush(ctx context.Context) error {
	return s.locked(ctx, s.flushLocked)
}

// Rotate closes the active file of every mirror so the next write starts
// a new one.
func (s *Sink) Rotate(ctx context.Context) error {
	return s.locked(ctx, func() error {
		var errs *multierror.Error
		if s.raw != nil {
			errs = multierror.Append(errs, s.raw.rotate())
		}
		if s.encoded != nil {
			errs = multierror.Append(errs, s.encoded.rotate())
		}
		return errs.ErrorOrNil()
	})
}

// Close stops the flush loop and closes both mirrors. Further writes fail.
func (s *Sink) Close(ctx context.Context) error {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	if s.closed {
		s.lock.Release(1)
		return nil
	}
	s.closed = true
	close(s.stop)
	s.lock.Release(1)
	s.wg.Wait()

	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)

	var errs *multierror.Error
	if s.raw != nil {
		errs = multierror.Append(errs, s.raw.rotate())
	}
	if s.encoded != nil {
		errs = multierror.Append(errs, s.encoded.rotate())
	}
	return errs.ErrorOrNil()
}

// RawState returns the naming state of the raw mirror.
func (s *Sink) RawState() FileState {
	if s.raw == nil {
		return FileState{}
	}
	return s.raw.file.State()
}

// EncodedState returns the naming state of the encoded mirror.
func (s *Sink) EncodedState() FileState {
	if s.encoded == nil {
		return FileState{}
	}
	return s.encoded.file.State()
}

func (s *Sink) locked(ctx context.Context, fn func() error) error {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "cancelled while waiting for debug files")
	}
	defer s.lock.Release(1)
	if s.closed {
		return ingesterrors.New(ingesterrors.ErrorTypeFile, "debug sink is closed")
	}
	return fn()
}

func (s *Sink) flushLocked() error {
	var errs *multierror.Error
	if s.raw != nil {
		errs = multierror.Append(errs, s.raw.file.flush())
	}
	if s.encoded != nil {
		errs = multierror.Append(errs, s.encoded.flush())
	}
	return errs.ErrorOrNil()
}

func (s *Sink) flushLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.periodicFlush(interval)
		}
	}
}

func (s *Sink) periodicFlush(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.lock.Release(1)
	if s.closed {
		return
	}
	if err := s.flushLocked(); err != nil {
		s.logger.Warn("periodic debug flush failed", zap.Error(err))
	}
}
