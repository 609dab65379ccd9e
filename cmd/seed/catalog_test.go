package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumudu01/NayanaPharma/pkg/httpclient"
)

func TestSeedCatalog_SkipsExistingProducts(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{"amox-250": true}

	r := chi.NewRouter()
	r.Post("/inventory/products", func(w http.ResponseWriter, r *http.Request) {
		var p productSeed
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if seen[p.ID] {
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, `{"error":{"code":"ALREADY_EXISTS","message":"product already exists"}}`)
			return
		}
		seen[p.ID] = true
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"id": p.ID}})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	created, skipped, err := seedCatalog(t.Context(), httpclient.New(httpclient.DefaultConfig()), srv.URL+"/", starterCatalog, logger)
	require.NoError(t, err)
	assert.Equal(t, len(starterCatalog)-1, created)
	assert.Equal(t, 1, skipped)
	assert.Len(t, seen, len(starterCatalog))
}

func TestSeedCatalog_StopsOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":"VALIDATION_ERROR","message":"bad"}}`)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	created, _, err := seedCatalog(t.Context(), httpclient.New(httpclient.DefaultConfig()), srv.URL, starterCatalog[:2], logger)
	require.Error(t, err)
	assert.Equal(t, 0, created)
	assert.Contains(t, err.Error(), "register para-500")
}

func TestStarterCatalog_PricesHaveTwoDecimals(t *testing.T) {
	ids := map[string]bool{}
	for _, p := range starterCatalog {
		assert.False(t, ids[p.ID], "duplicate id %s", p.ID)
		ids[p.ID] = true
		assert.True(t, p.UnitPrice.Equal(p.UnitPrice.Truncate(2)), p.ID)
		assert.GreaterOrEqual(t, p.InitialStock, 0)
	}
}
