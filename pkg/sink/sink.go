// Package sink defines the collaborators zerowire transmits through: the
// RecordSink that owns the network transport and the AuthProvider that
// supplies credentials for it.
package sink

import (
	"context"

	"golang.org/x/oauth2"
	"google.golang.org/protobuf/types/descriptorpb"
)

// AuthProvider supplies access tokens for opening streams.
type AuthProvider interface {
	// Token returns the current token, fetching one if none is cached.
	Token(ctx context.Context) (*oauth2.Token, error)
	// Refresh discards the cached token and fetches a new one. It is called
	// after the sink reports an authentication failure.
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// OpenRequest describes the stream to open.
type OpenRequest struct {
	// Table is the fully qualified destination table.
	Table string
	// Descriptor describes the wire records that will be ingested.
	Descriptor *descriptorpb.DescriptorProto
	// Token authorizes the stream.
	Token *oauth2.Token
}

// RecordSink opens ingestion streams. Implementations should return errors
// typed with ingesterrors so failures can be classified: authentication
// and connection errors from Open are batch-level.
type RecordSink interface {
	Open(ctx context.Context, req OpenRequest) (Stream, error)
}

// Stream ingests encoded records one at a time.
type Stream interface {
	// Ingest sends one record and waits for its acknowledgement. A
	// transmission-typed error rejects only this record; a connection-typed
	// error means the stream is no longer usable.
	Ingest(ctx context.Context, record []byte) error
	// Close flushes and closes the stream.
	Close(ctx context.Context) error
}

// StaticAuth is an AuthProvider returning a fixed token.
type StaticAuth struct {
	AccessToken string
}

// Token returns the fixed token.
func (s StaticAuth) Token(context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: s.AccessToken, TokenType: "Bearer"}, nil
}

// Refresh returns the fixed token.
func (s StaticAuth) Refresh(ctx context.Context) (*oauth2.Token, error) {
	return s.Token(ctx)
}
