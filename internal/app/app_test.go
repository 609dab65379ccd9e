package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumudu01/NayanaPharma/internal/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Environment:           "development",
		LogLevel:              "error",
		HTTPPort:              0,
		CORSAllowedOrigins:    []string{"*"},
		StoreDriver:           config.DriverMemory,
		ReservationTTLSeconds: 900,
		SweepIntervalSeconds:  1,
		SweepBatchSize:        500,
		LowStockThreshold:     10,
		SaleDeletePolicy:      config.SaleDeleteRetain,
		CartSessionTTLHours:   24,
		IdempotencyTTLHours:   24,
	}
}

func TestNewApp_MemoryDriverServesAPI(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := NewApp(memoryConfig(), logger)
	require.NoError(t, err)

	serve := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := serve(http.MethodPost, "/inventory/products", `{"id":"para-500","name":"Paracetamol 500mg","unitPrice":"1.20","initialStock":12}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = serve(http.MethodPost, "/cart/C1/lines", `{"productId":"para-500","quantity":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(http.MethodGet, "/inventory/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"productId":"para-500"`)

	rec = serve(http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewApp_RejectsUnknownDeletePolicy(t *testing.T) {
	cfg := memoryConfig()
	cfg.SaleDeletePolicy = "shred"

	_, err := NewApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sale delete policy")
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := NewApp(memoryConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
