package pandu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t testing.TB) (*API, *KeyPool) {
	t.Helper()

	pool := NewKeyPool(newMemStore(), nil, nil)
	p := &Pandu{
		keyPool:   pool,
		discord:   &Discord{},
		startedAt: time.Now(),
	}

	cfg := DefaultConfig()
	cfg.API.Listen = "127.0.0.1:0"

	api, err := newAPI(p, cfg.API)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = api.listener.Close()
	})
	return api, pool
}

func TestHealthEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	api.httpServer.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status         string `json:"status"`
		Discord        bool   `json:"discord"`
		StoreConnected bool   `json:"store_connected"`
		Uptime         string `json:"uptime"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.Discord)
	assert.True(t, body.StoreConnected)
	assert.NotEmpty(t, body.Uptime)
}

func TestPoolEndpoint(t *testing.T) {
	api, pool := newTestAPI(t)
	ctx := context.Background()

	require.True(t, pool.AddAPIKey(ctx, "groq", "gsk_endpoint_key_001").Success)
	require.True(t, pool.AddAPIKey(ctx, "groq", "gsk_endpoint_key_002").Success)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/pool", nil)
	api.httpServer.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Connected bool                 `json:"connected"`
		Providers map[string]PoolCount `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Connected)
	assert.Equal(
		t,
		PoolCount{Total: 2, Active: 1, Standby: 1},
		body.Providers["groq"],
	)
}

func TestProvidersEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	api.httpServer.Handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Groq")
	assert.Contains(t, w.Body.String(), "Pollinations (Free)")
}
