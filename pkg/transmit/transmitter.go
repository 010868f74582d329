// Package transmit sends encoded rows to a RecordSink one at a time and
// records a per-row outcome for each attempted row.
package transmit

import (
	"context"

	"github.com/ajitpratap0/zerowire/pkg/convert"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/metrics"
	"github.com/ajitpratap0/zerowire/pkg/sink"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// PassOutcome is the result of one transmission pass.
//
// When BatchErr is set and Attempted is false the stream could not be
// opened and no row outcomes were recorded.
type PassOutcome struct {
	Attempted bool
	Succeeded []int
	Failed    []*ingesterrors.RowError
	BatchErr  error
}

// RetryableFailures returns the failed rows worth another pass.
func (p *PassOutcome) RetryableFailures() []*ingesterrors.RowError {
	var out []*ingesterrors.RowError
	for _, f := range p.Failed {
		if f.Retryable() {
			out = append(out, f)
		}
	}
	return out
}

// Session owns the stream shared by every call of one wrapper. Access is
// serialized by a weighted semaphore so waiting callers can give up when
// their context ends.
type Session struct {
	sink   sink.RecordSink
	auth   sink.AuthProvider
	table  string
	logger *zap.Logger
	stats  *metrics.Collector

	lock       *semaphore.Weighted
	stream     sink.Stream
	descriptor *descriptorpb.DescriptorProto
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCollector records stream opens on c.
func WithCollector(c *metrics.Collector) SessionOption {
	return func(s *Session) { s.stats = c }
}

// NewSession creates a session. No stream is opened until the first pass.
func NewSession(rs sink.RecordSink, auth sink.AuthProvider, table string, logger *zap.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		sink:   rs,
		auth:   auth,
		table:  table,
		logger: logger.With(zap.String("component", "transmit_session")),
		lock:   semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the open stream, if any.
func (s *Session) Close(ctx context.Context) error {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)
	return s.dropLocked(ctx)
}

func (s *Session) ensureLocked(ctx context.Context, desc *descriptorpb.DescriptorProto) error {
	if s.stream != nil && proto.Equal(s.descriptor, desc) {
		return nil
	}
	if s.stream != nil {
		// Schema changed since the stream was opened.
		if err := s.dropLocked(ctx); err != nil {
			s.logger.Warn("failed to close stream for previous schema", zap.Error(err))
		}
	}

	token, err := s.auth.Token(ctx)
	if err != nil {
		if ingesterrors.TypeOf(err) == ingesterrors.ErrorTypeInternal {
			return ingesterrors.Wrap(err, ingesterrors.ErrorTypeAuthentication, "failed to obtain access token")
		}
		return err
	}

	st, err := s.sink.Open(ctx, sink.OpenRequest{Table: s.table, Descriptor: desc, Token: token})
	s.stats.RecordStreamOpen(err)
	if err != nil {
		if ingesterrors.TypeOf(err) == ingesterrors.ErrorTypeInternal {
			return ingesterrors.Wrap(err, ingesterrors.ErrorTypeConnection, "failed to open stream")
		}
		return err
	}
	s.stream = st
	s.descriptor = desc
	s.logger.Debug("stream opened", zap.String("table", s.table))
	return nil
}

func (s *Session) dropLocked(ctx context.Context) error {
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close(ctx)
	s.stream = nil
	s.descriptor = nil
	return err
}

// Transmitter sends one pass of rows through a session.
type Transmitter struct {
	session *Session
	logger  *zap.Logger
}

// New creates a transmitter.
func New(session *Session, logger *zap.Logger) *Transmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transmitter{session: session, logger: logger.With(zap.String("component", "transmitter"))}
}

// Send ingests rows in order. A failure to open the stream before any row
// is attempted is batch-level. Once open, a failing row is recorded and the
// remaining rows are still sent; a connection failure drops the stream and
// the next row reopens it.
func (t *Transmitter) Send(ctx context.Context, desc *descriptorpb.DescriptorProto, rows []convert.Encoded) *PassOutcome {
	out := &PassOutcome{}
	s := t.session

	if err := s.lock.Acquire(ctx, 1); err != nil {
		out.BatchErr = ingesterrors.Wrap(err, ingesterrors.ErrorTypeConnection, "cancelled while waiting for stream")
		return out
	}
	defer s.lock.Release(1)

	if err := s.ensureLocked(ctx, desc); err != nil {
		out.BatchErr = err
		return out
	}
	out.Attempted = true

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			cause := ingesterrors.Wrap(err, ingesterrors.ErrorTypeConnection, "cancelled before row was sent")
			t.failRemaining(out, rows[i:], cause)
			break
		}

		if s.stream == nil {
			if err := s.ensureLocked(ctx, desc); err != nil {
				t.failRemaining(out, rows[i:], err)
				break
			}
		}

		err := s.stream.Ingest(ctx, row.Data)
		if err == nil {
			out.Succeeded = append(out.Succeeded, row.Index)
			continue
		}

		rowErr := ingesterrors.FromRemote(row.Index, err)
		out.Failed = append(out.Failed, rowErr)
		if rowErr.Kind == ingesterrors.KindConnection || rowErr.Kind == ingesterrors.KindAuthentication {
			t.logger.Warn("stream failed during ingest, reopening",
				zap.Int("row_index", row.Index), zap.Error(err))
			if cerr := s.dropLocked(ctx); cerr != nil {
				t.logger.Debug("close of failed stream returned error", zap.Error(cerr))
			}
		}
	}

	t.logger.Debug("transmission pass complete",
		zap.Int("rows", len(rows)),
		zap.Int("succeeded", len(out.Succeeded)),
		zap.Int("failed", len(out.Failed)))
	return out
}

func (t *Transmitter) failRemaining(out *PassOutcome, rows []convert.Encoded, cause error) {
	for _, row := range rows {
		out.Failed = append(out.Failed, ingesterrors.FromRemote(row.Index, cause))
	}
}
