package httpclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Sumudu01/NayanaPharma/pkg/errors"
)

func testConfig() Config {
	return Config{
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    time.Millisecond,
		RetryWaitMax:    5 * time.Millisecond,
		MaxConnsPerHost: 4,
		UserAgent:       "nayana-pharma-test",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "nayana-pharma-test", r.UserAgent())
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"c1"}}`))
	}))
	defer srv.Close()

	resp, err := New(testConfig()).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrorsOr501(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusNotImplemented} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		resp, err := New(testConfig()).Get(context.Background(), srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
		srv.Close()

		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, int32(1), calls.Load())
	}
}

func TestClient_ContextCanceledBeforeRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RetryWaitMin = time.Hour
	cfg.RetryWaitMax = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(cfg).Get(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeJSON(t *testing.T) {
	type customer struct {
		ID string `json:"id"`
	}

	t.Run("unwraps data envelope", func(t *testing.T) {
		var c customer
		err := DecodeJSON(response(http.StatusOK, `{"data":{"id":"cust-9"}}`), &c, "customers")
		require.NoError(t, err)
		assert.Equal(t, "cust-9", c.ID)
	})

	t.Run("plain body", func(t *testing.T) {
		var c customer
		require.NoError(t, DecodeJSON(response(http.StatusOK, `{"id":"cust-3"}`), &c, "customers"))
		assert.Equal(t, "cust-3", c.ID)
	})

	t.Run("error status", func(t *testing.T) {
		var c customer
		err := DecodeJSON(response(http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"cust-4"}}`), &c, "customers")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func response(status int, body string) *http.Response {
	rec := httptest.NewRecorder()
	rec.WriteHeader(status)
	_, _ = rec.WriteString(body)
	return rec.Result()
}

func TestParseResponseError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
		code   string
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"para-500"}}`, apperrors.ErrNotFound, "NOT_FOUND"},
		{"bad request", http.StatusBadRequest, `{"error":{"code":"VALIDATION_ERROR","message":"bad id"}}`, apperrors.ErrInvalidInput, "INVALID_INPUT"},
		{"conflict", http.StatusConflict, `{"error":{"code":"CONFLICT","message":"x"}}`, apperrors.ErrConflict, "CONFLICT"},
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`, apperrors.ErrServiceUnavail, "PERSISTENCE_FAILURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseResponseError(response(tt.status, tt.body), "catalog")
			assert.ErrorIs(t, err, tt.target)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

func TestParseResponseError_UnmappedStatusKeepsStatus(t *testing.T) {
	err := ParseResponseError(response(http.StatusTeapot, "short and stout"), "catalog")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusTeapot, appErr.Status)
	assert.Equal(t, "DOWNSTREAM_ERROR", appErr.Code)
	assert.Contains(t, appErr.Message, "short and stout")
}

func breakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Timeout:      50 * time.Millisecond,
		FailureRatio: 0.5,
		MinRequests:  2,
	}
}

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 0
	cb := NewCircuitBreakerClient(New(cfg), breakerConfig("catalog-trip"), testLogger())

	for i := 0; i < 2; i++ {
		_, err := cb.Get(context.Background(), srv.URL)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	healthy.Store(true)
	time.Sleep(60 * time.Millisecond)

	resp, err := cb.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cb := NewCircuitBreakerClient(New(testConfig()), breakerConfig("catalog-4xx"), testLogger())
	for i := 0; i < 5; i++ {
		resp, err := cb.Get(context.Background(), srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_FallbackWhenOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 0
	cb := NewCircuitBreakerClient(New(cfg), breakerConfig("catalog-fallback"), testLogger()).
		WithFallback(func(_ context.Context, err error) (*http.Response, error) {
			return response(http.StatusOK, `{"data":{"id":"cached"}}`), nil
		})

	for i := 0; i < 2; i++ {
		_, _ = cb.Get(context.Background(), srv.URL)
	}

	resp, err := cb.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, DecodeJSON(resp, &out, "catalog"))
	assert.Equal(t, "cached", out.ID)
}
