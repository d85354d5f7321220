package delivery_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"herald/service/delivery"
	"herald/service/notification"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSigner struct {
	header string
	err    error
}

func (s stubSigner) Authorization(string) (string, error) {
	return s.header, s.err
}

func newTestClient(cfg delivery.Config) *delivery.Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return delivery.NewClient(stubSigner{header: "vapid t=token, k=key"}, logger, cfg)
}

// testContext stands in for testing.T.Context, which needs Go 1.24; the
// context is likewise canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func TestSendSetsHeaders(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(delivery.Config{})
	result, err := client.Send(testContext(t), server.URL+"/send/abc", []byte("sealed message"), delivery.Options{
		TTL:     3600,
		Urgency: notification.UrgencyHigh,
		Topic:   "updates",
	})
	require.NoError(t, err)

	assert.True(t, result.Delivered())
	assert.Equal(t, http.StatusCreated, result.StatusCode)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "3600", got.Header.Get("TTL"))
	assert.Equal(t, "high", got.Header.Get("Urgency"))
	assert.Equal(t, "updates", got.Header.Get("Topic"))
	assert.Equal(t, "vapid t=token, k=key", got.Header.Get("Authorization"))
	assert.Equal(t, "aes128gcm", got.Header.Get("Content-Encoding"))
	assert.Equal(t, "application/octet-stream", got.Header.Get("Content-Type"))
	assert.Equal(t, []byte("sealed message"), gotBody)
}

func TestSendEmptyBodyOmitsContentHeaders(t *testing.T) {
	var got *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(delivery.Config{})
	result, err := client.Send(testContext(t), server.URL, nil, delivery.Options{})
	require.NoError(t, err)

	assert.True(t, result.Delivered())
	require.NotNil(t, got)
	assert.Equal(t, "0", got.Header.Get("TTL"), "TTL header is mandatory")
	assert.Empty(t, got.Header.Get("Content-Encoding"))
	assert.Empty(t, got.Header.Get("Urgency"))
	assert.Empty(t, got.Header.Get("Topic"))
}

func TestSendClassifiesResponses(t *testing.T) {
	tests := []struct {
		code int
		want delivery.Status
	}{
		{http.StatusOK, delivery.StatusDelivered},
		{http.StatusCreated, delivery.StatusDelivered},
		{http.StatusNoContent, delivery.StatusDelivered},
		{http.StatusNotFound, delivery.StatusGone},
		{http.StatusGone, delivery.StatusGone},
		{http.StatusRequestEntityTooLarge, delivery.StatusPayloadTooLarge},
		{http.StatusBadRequest, delivery.StatusBadRequest},
		{http.StatusForbidden, delivery.StatusBadRequest},
		{http.StatusTooManyRequests, delivery.StatusTransient},
		{http.StatusInternalServerError, delivery.StatusTransient},
		{http.StatusBadGateway, delivery.StatusTransient},
		{http.StatusServiceUnavailable, delivery.StatusTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.code), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer server.Close()

			result, err := newTestClient(delivery.Config{}).Send(testContext(t), server.URL, []byte("x"), delivery.Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.code, result.StatusCode)
		})
	}
}

func TestSendParsesRetryAfterSeconds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	result, err := newTestClient(delivery.Config{}).Send(testContext(t), server.URL, []byte("x"), delivery.Options{})
	require.NoError(t, err)

	assert.Equal(t, delivery.StatusTransient, result.Status)
	assert.Equal(t, 30*time.Second, result.RetryAfter)
}

func TestSendParsesRetryAfterDate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	result, err := newTestClient(delivery.Config{}).Send(testContext(t), server.URL, []byte("x"), delivery.Options{})
	require.NoError(t, err)

	assert.Equal(t, delivery.StatusTransient, result.Status)
	assert.Greater(t, result.RetryAfter, 60*time.Second)
	assert.LessOrEqual(t, result.RetryAfter, 90*time.Second)
}

func TestSendNetworkFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	result, err := newTestClient(delivery.Config{}).Send(testContext(t), endpoint, []byte("x"), delivery.Options{})
	require.NoError(t, err)

	assert.Equal(t, delivery.StatusTransient, result.Status)
	assert.Zero(t, result.StatusCode)
	assert.Error(t, result.Err)
}

func TestSendTimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(delivery.Config{Timeout: 20 * time.Millisecond})
	result, err := client.Send(testContext(t), server.URL, []byte("x"), delivery.Options{})
	require.NoError(t, err)

	assert.Equal(t, delivery.StatusTransient, result.Status)
	assert.Error(t, result.Err)
}

func TestSendDoesNotRetry(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result, err := newTestClient(delivery.Config{}).Send(testContext(t), server.URL, []byte("x"), delivery.Options{})
	require.NoError(t, err)

	assert.Equal(t, delivery.StatusTransient, result.Status)
	assert.EqualValues(t, 1, hits.Load(), "retry decisions belong to the caller")
}

func TestSendCircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(delivery.Config{})
	for i := 0; i < 5; i++ {
		result, err := client.Send(testContext(t), server.URL, []byte("x"), delivery.Options{})
		require.NoError(t, err)
		assert.Equal(t, delivery.StatusTransient, result.Status)
	}

	// The breaker for this host is open now; the request never leaves.
	result, err := client.Send(testContext(t), server.URL, []byte("x"), delivery.Options{})
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusTransient, result.Status)
	assert.ErrorIs(t, result.Err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 5, hits.Load())
}

func TestSendSignerFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := delivery.NewClient(stubSigner{err: fmt.Errorf("no key")}, logger, delivery.Config{})

	result, err := client.Send(testContext(t), "https://push.example.com/send/abc", []byte("x"), delivery.Options{})
	require.Error(t, err)
	assert.Nil(t, result)
}
