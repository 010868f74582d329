package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenServer(t *testing.T, status *atomic.Int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if code := status.Load(); code != http.StatusOK {
			w.WriteHeader(int(code))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":3600}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestProvider_CachesAndRefreshes(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv, calls := tokenServer(t, &status)

	p := NewProvider(Config{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}, nil)
	ctx := context.Background()

	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)

	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)
	assert.Equal(t, int32(1), calls.Load())

	tok, err = p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok.AccessToken)
}

func TestProvider_ThresholdForcesFetch(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv, calls := tokenServer(t, &status)

	p := NewProvider(Config{TokenURL: srv.URL, RefreshThreshold: 2 * time.Hour}, nil)
	_, err := p.Token(context.Background())
	require.NoError(t, err)
	_, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProvider_FailureIsAuthenticationError(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnauthorized)
	srv, _ := tokenServer(t, &status)

	p := NewProvider(Config{TokenURL: srv.URL}, nil)
	_, err := p.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeAuthentication))
}
