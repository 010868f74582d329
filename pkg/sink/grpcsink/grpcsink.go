// Package grpcsink implements sink.RecordSink over a bidirectional gRPC
// stream. Each record is sent as a google.protobuf.BytesValue and answered
// by a google.protobuf.StringValue: empty for accepted, otherwise the
// rejection reason.
package grpcsink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/sink"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// DefaultMethod is the full method name of the ingest stream.
	DefaultMethod = "/zerowire.ingest.v1.IngestService/IngestRecords"

	// Metadata keys sent when a stream is opened.
	TableHeader      = "x-zerowire-table"
	DescriptorHeader = "x-zerowire-descriptor-bin"
)

var streamDesc = &grpc.StreamDesc{
	StreamName:    "IngestRecords",
	ClientStreams: true,
	ServerStreams: true,
}

// Options configures the client connection.
type Options struct {
	Method      string
	Insecure    bool
	DialOptions []grpc.DialOption
}

// Sink opens ingest streams on one client connection.
type Sink struct {
	conn   *grpc.ClientConn
	method string
	logger *zap.Logger
}

// Dial creates a sink for target. The connection is established lazily.
func Dial(target string, opts Options, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Method == "" {
		opts.Method = DefaultMethod
	}

	var creds credentials.TransportCredentials
	if opts.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts.DialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "invalid ingest endpoint").
			WithDetail("target", target)
	}
	return &Sink{
		conn:   conn,
		method: opts.Method,
		logger: logger.With(zap.String("component", "grpc_sink"), zap.String("target", target)),
	}, nil
}

// Close closes the client connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}

// Open starts an ingest stream and waits for the server to accept it.
func (s *Sink) Open(ctx context.Context, req sink.OpenRequest) (sink.Stream, error) {
	desc, err := proto.Marshal(req.Descriptor)
	if err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeInternal, "failed to marshal descriptor")
	}

	md := metadata.Pairs(TableHeader, req.Table, DescriptorHeader, string(desc))
	if req.Token != nil && req.Token.AccessToken != "" {
		md.Set("authorization", req.Token.Type()+" "+req.Token.AccessToken)
	}

	// The stream outlives the call that opened it; Close cancels it.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	streamCtx = metadata.NewOutgoingContext(streamCtx, md)

	cs, err := s.conn.NewStream(streamCtx, streamDesc, s.method)
	if err != nil {
		cancel()
		return nil, classify(err, "failed to open ingest stream")
	}

	headerDone := make(chan error, 1)
	go func() {
		hdr, err := cs.Header()
		if err == nil && hdr == nil {
			// Trailers-only response: the stream already ended and its
			// status is only reported by RecvMsg.
			err = cs.RecvMsg(&wrapperspb.StringValue{})
			if err == nil || errors.Is(err, io.EOF) {
				err = status.Error(codes.Unavailable, "stream closed before accepting records")
			}
		}
		headerDone <- err
	}()
	select {
	case err := <-headerDone:
		if err != nil {
			cancel()
			return nil, classify(err, "ingest stream rejected")
		}
	case <-ctx.Done():
		cancel()
		return nil, ingesterrors.Wrap(ctx.Err(), ingesterrors.ErrorTypeConnection, "open cancelled")
	}

	s.logger.Debug("ingest stream opened", zap.String("table", req.Table))
	return &stream{cs: cs, cancel: cancel}, nil
}

type stream struct {
	cs     grpc.ClientStream
	cancel context.CancelFunc
}

// Ingest sends one record and waits for its acknowledgement.
func (st *stream) Ingest(ctx context.Context, record []byte) error {
	if err := ctx.Err(); err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeConnection, "ingest cancelled")
	}
	if err := st.cs.SendMsg(&wrapperspb.BytesValue{Value: record}); err != nil {
		if errors.Is(err, io.EOF) {
			// The real status is only visible on the receive side.
			err = st.cs.RecvMsg(&wrapperspb.StringValue{})
		}
		return classify(err, "failed to send record")
	}

	ack := &wrapperspb.StringValue{}
	if err := st.cs.RecvMsg(ack); err != nil {
		return classify(err, "failed to receive acknowledgement")
	}
	if ack.GetValue() != "" {
		return ingesterrors.New(ingesterrors.ErrorTypeTransmission, "record rejected").
			WithDetail("reason", ack.GetValue())
	}
	return nil
}

// Close half-closes the stream and drains outstanding acknowledgements.
func (st *stream) Close(ctx context.Context) error {
	defer st.cancel()
	if err := st.cs.CloseSend(); err != nil {
		return classify(err, "failed to close stream")
	}
	for {
		err := st.cs.RecvMsg(&wrapperspb.StringValue{})
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classify(err, "stream closed with error")
		}
	}
}

// classify maps gRPC status codes onto the error taxonomy. Any status ends
// the stream, so everything except credential failures is a connection
// error; per-record rejections arrive as acknowledgements instead.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeAuthentication, msg).
			WithDetail("code", st.Code().String())
	default:
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeConnection, fmt.Sprintf("%s (%s)", msg, st.Code()))
	}
}
