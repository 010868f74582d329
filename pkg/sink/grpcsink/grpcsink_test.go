package grpcsink

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/schema"
	"github.com/ajitpratap0/zerowire/pkg/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type fakeService struct {
	mu       sync.Mutex
	received [][]byte
	table    string
	desc     *descriptorpb.DescriptorProto
}

func (f *fakeService) handle(_ any, ss grpc.ServerStream) error {
	md, _ := metadata.FromIncomingContext(ss.Context())
	if auth := md.Get("authorization"); len(auth) == 0 || auth[0] != "Bearer good" {
		return status.Error(codes.Unauthenticated, "token expired")
	}

	desc := &descriptorpb.DescriptorProto{}
	if raw := md.Get(DescriptorHeader); len(raw) > 0 {
		if err := proto.Unmarshal([]byte(raw[0]), desc); err != nil {
			return status.Error(codes.InvalidArgument, "bad descriptor")
		}
	}
	f.mu.Lock()
	f.table = md.Get(TableHeader)[0]
	f.desc = desc
	f.mu.Unlock()

	if err := ss.SendHeader(metadata.MD{}); err != nil {
		return err
	}
	for {
		rec := &wrapperspb.BytesValue{}
		if err := ss.RecvMsg(rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		ack := &wrapperspb.StringValue{}
		if string(rec.GetValue()) == "reject" {
			ack.Value = "row violates table constraint"
		} else {
			f.mu.Lock()
			f.received = append(f.received, rec.GetValue())
			f.mu.Unlock()
		}
		if err := ss.SendMsg(ack); err != nil {
			return err
		}
	}
}

func startServer(t *testing.T) (*Sink, *fakeService) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	svc := &fakeService{}
	srv := grpc.NewServer(grpc.UnknownServiceHandler(svc.handle))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	s, err := Dial("passthrough:///bufnet", Options{
		Insecure: true,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, svc
}

func openRequest(t *testing.T, token string) sink.OpenRequest {
	t.Helper()
	ws, err := schema.Map(schema.New(schema.NewField("id", schema.Int64(), false)))
	require.NoError(t, err)
	return sink.OpenRequest{
		Table:      "main.default.events",
		Descriptor: ws.Descriptor,
		Token:      &oauth2.Token{AccessToken: token, TokenType: "Bearer"},
	}
}

func TestSink_IngestRoundTrip(t *testing.T) {
	s, svc := startServer(t)
	ctx := context.Background()

	st, err := s.Open(ctx, openRequest(t, "good"))
	require.NoError(t, err)

	require.NoError(t, st.Ingest(ctx, []byte("row-1")))
	err = st.Ingest(ctx, []byte("reject"))
	require.Error(t, err)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeTransmission))
	require.NoError(t, st.Ingest(ctx, []byte("row-2")), "a rejected row does not break the stream")
	require.NoError(t, st.Close(ctx))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, [][]byte{[]byte("row-1"), []byte("row-2")}, svc.received)
	assert.Equal(t, "main.default.events", svc.table)
	assert.Equal(t, "IngestRecord", svc.desc.GetName())
}

func TestSink_OpenRejectsBadToken(t *testing.T) {
	s, _ := startServer(t)

	_, err := s.Open(context.Background(), openRequest(t, "expired"))
	require.Error(t, err)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeAuthentication))
}

func TestClassify(t *testing.T) {
	err := classify(status.Error(codes.Unavailable, "down"), "send")
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeConnection))

	err = classify(status.Error(codes.PermissionDenied, "nope"), "send")
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeAuthentication))

	assert.NoError(t, classify(nil, "noop"))
}
