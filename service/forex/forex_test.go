package forex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New("secret",
		WithBaseURL(srv.URL+"/"),
		WithBackoff(retrier.ConstantBackoff(2, time.Millisecond)),
		WithRateLimit(time.Millisecond, 100),
	)
	require.NoError(t, err)
	return p.(*client)
}

func TestFetch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fetch-all", r.URL.Path)
		assert.Equal(t, "USD", r.URL.Query().Get("from"))
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"base":"USD","results":{"EUR":0.92,"GBP":0.8},"updated":"2024-01-01 00:00:00","ms":3}`))
	})

	rates, err := c.Fetch(context.Background(), "usd")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"EUR": 0.92, "GBP": 0.8}, rates)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"base":"USD","results":{"EUR":0.92}}`))
	})

	rates, err := c.Fetch(context.Background(), "USD")
	require.NoError(t, err)
	assert.Equal(t, 0.92, rates["EUR"])
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Fetch(context.Background(), "USD")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchEmptyResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"USD","results":{}}`))
	})

	_, err := c.Fetch(context.Background(), "USD")
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestFetchCanceledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"base":"USD","results":{"EUR":1}}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "USD")
	assert.Error(t, err)
}

func TestDoLeavesCallerRequestUntouched(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "USD", r.URL.Query().Get("from"))
		_, _ = w.Write([]byte(`{"base":"USD","results":{"EUR":0.92}}`))
	})

	req, err := http.NewRequest(http.MethodGet, c.baseURL.String()+"fetch-all?from=USD", nil)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, c.Do(context.Background(), req, &resp))
	assert.Equal(t, 0.92, resp.Results["EUR"])
	assert.Equal(t, "from=USD", req.URL.RawQuery)
}
