package testutil

import (
	"context"
	"sync"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/sink"
	"golang.org/x/oauth2"
)

// IngestFunc decides the outcome of one Ingest call. call counts every
// Ingest on the sink starting at 0.
type IngestFunc func(call int, record []byte) error

// FakeSink is an in-memory sink.RecordSink. Open consumes OpenErrs in order
// (a nil entry opens normally; an exhausted list always opens) and every
// stream delegates to OnIngest.
type FakeSink struct {
	mu       sync.Mutex
	openErrs []error
	onIngest IngestFunc

	opens    int
	calls    int
	closed   int
	accepted [][]byte
	requests []sink.OpenRequest
}

// NewFakeSink creates a sink that accepts every record.
func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

// FailOpens queues errors returned by the next Open calls.
func (f *FakeSink) FailOpens(errs ...error) *FakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErrs = append(f.openErrs, errs...)
	return f
}

// OnIngest sets the ingest hook.
func (f *FakeSink) OnIngest(fn IngestFunc) *FakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onIngest = fn
	return f
}

// Open implements sink.RecordSink.
func (f *FakeSink) Open(ctx context.Context, req sink.OpenRequest) (sink.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	f.requests = append(f.requests, req)
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeConnection, "open cancelled")
	}
	return &fakeStream{sink: f}, nil
}

// Opens returns the number of Open calls.
func (f *FakeSink) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// Closed returns the number of closed streams.
func (f *FakeSink) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Accepted returns a copy of every accepted record in arrival order.
func (f *FakeSink) Accepted() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.accepted))
	copy(out, f.accepted)
	return out
}

// Requests returns the OpenRequests seen so far.
func (f *FakeSink) Requests() []sink.OpenRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sink.OpenRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

type fakeStream struct {
	sink *FakeSink
}

func (s *fakeStream) Ingest(_ context.Context, record []byte) error {
	f := s.sink
	f.mu.Lock()
	call := f.calls
	f.calls++
	fn := f.onIngest
	f.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(call, record)
	}

	if err == nil {
		f.mu.Lock()
		f.accepted = append(f.accepted, append([]byte(nil), record...))
		f.mu.Unlock()
	}
	return err
}

func (s *fakeStream) Close(context.Context) error {
	s.sink.mu.Lock()
	defer s.sink.mu.Unlock()
	s.sink.closed++
	return nil
}

// FakeAuth is a sink.AuthProvider whose failures can be scripted.
type FakeAuth struct {
	mu         sync.Mutex
	token      string
	tokenErr   error
	refreshErr error
	refreshes  int
}

// NewFakeAuth creates a provider returning token.
func NewFakeAuth(token string) *FakeAuth {
	return &FakeAuth{token: token}
}

// FailToken makes Token return err.
func (a *FakeAuth) FailToken(err error) *FakeAuth {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokenErr = err
	return a
}

// FailRefresh makes Refresh return err.
func (a *FakeAuth) FailRefresh(err error) *FakeAuth {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshErr = err
	return a
}

// Token implements sink.AuthProvider.
func (a *FakeAuth) Token(context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tokenErr != nil {
		return nil, a.tokenErr
	}
	return &oauth2.Token{AccessToken: a.token, TokenType: "Bearer"}, nil
}

// Refresh implements sink.AuthProvider. A successful refresh clears any
// scripted Token failure.
func (a *FakeAuth) Refresh(context.Context) (*oauth2.Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes++
	if a.refreshErr != nil {
		return nil, a.refreshErr
	}
	a.tokenErr = nil
	return &oauth2.Token{AccessToken: a.token, TokenType: "Bearer"}, nil
}

// Refreshes returns the number of Refresh calls.
func (a *FakeAuth) Refreshes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshes
}
