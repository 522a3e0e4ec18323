package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/ir"
)

func newTestPair(t *testing.T) (*Server, *HTTPClient) {
	t.Helper()
	srv := NewServer()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, NewHTTPClient(ts.URL+"/", 5*time.Second)
}

func TestHTTPClient_ExecuteAndDedupe(t *testing.T) {
	srv, client := newTestPair(t)
	ctx := context.Background()

	res, err := client.Execute(ctx, bookRequest(t, "act-1", "p1"))
	require.NoError(t, err)
	assert.Equal(t, Result{ServerID: "srv-1"}, res)

	res, err = client.Execute(ctx, bookRequest(t, "act-1", "p1"))
	require.NoError(t, err)
	assert.Equal(t, Result{ServerID: "srv-1", Duplicate: true}, res)

	assert.Equal(t, 1, srv.Applied())
}

func TestHTTPClient_FailureRoundTrip(t *testing.T) {
	srv, client := newTestPair(t)
	ctx := context.Background()

	srv.FailNext(1)
	_, err := client.Execute(ctx, bookRequest(t, "act-1", "p1"))
	require.Error(t, err)
	assert.Equal(t, CodeUnavailable, FailureCode(err))
	assert.True(t, IsRetryable(err))

	_, err = client.Execute(ctx, cancelRequest(t, "act-2", "srv-404"))
	assert.Equal(t, CodeUnknownAppointment, FailureCode(err))
	assert.False(t, IsRetryable(err))
}

func TestHTTPClient_SendsHeaders(t *testing.T) {
	var gotKey, gotVersion string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(HeaderIdempotencyKey)
		gotVersion = r.Header.Get(HeaderClientVersion)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"server_id":"x"}`))
	}))
	defer ts.Close()

	client := NewHTTPClient(ts.URL, time.Second)
	_, err := client.Execute(context.Background(), bookRequest(t, "act-7", "p1"))
	require.NoError(t, err)
	assert.Equal(t, "act-7", gotKey)
	assert.Equal(t, ir.ClientVersion, gotVersion)
}

func TestHTTPClient_NonJSONErrorBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, time.Second).Execute(context.Background(), bookRequest(t, "act-1", "p1"))
	require.Error(t, err)
	assert.Equal(t, "http_502", FailureCode(err))
	assert.True(t, IsRetryable(err))
}

func TestHTTPClient_MissingKey(t *testing.T) {
	_, client := newTestPair(t)
	_, err := client.Execute(context.Background(), bookRequest(t, "", "p1"))
	assert.Equal(t, CodeInvalidRequest, FailureCode(err))
}

func TestHTTPClient_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewHTTPClient(url, time.Second).Execute(context.Background(), bookRequest(t, "act-1", "p1"))
	require.Error(t, err)
	assert.Equal(t, CodeTransport, FailureCode(err))
	assert.True(t, IsRetryable(err))
}

func TestHTTPClient_Probe(t *testing.T) {
	_, client := newTestPair(t)
	require.NoError(t, client.Probe(context.Background()))

	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	assert.Error(t, NewHTTPClient(ts.URL, time.Second).Probe(context.Background()))
}
