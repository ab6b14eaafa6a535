package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localagent/internal/domain"
	"localagent/internal/infra/config"
	"localagent/internal/infra/logger"
)

func newNetworkManager(t *testing.T, cfg config.NetworkConfig) *Manager {
	t.Helper()
	nt := NewNetworkTool(cfg, logger.Discard())
	t.Cleanup(func() { _ = nt.Cleanup(context.Background()) })
	m := NewManager(nil, logger.Discard())
	require.NoError(t, m.Register(nt))
	return m
}

func request(t *testing.T, m *Manager, params map[string]any) (*NetworkResponse, error) {
	t.Helper()
	out, err := m.Execute(context.Background(), NetworkToolID, "request", params)
	if err != nil {
		return nil, err
	}
	return out.(*NetworkResponse), nil
}

func TestNetworkToolGETJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "LocalAgent/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, defaultAccept, r.Header.Get("Accept"))
		assert.Equal(t, "v", r.URL.Query().Get("k"))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"ok":true,"n":2}`))
	}))
	defer srv.Close()

	m := newNetworkManager(t, config.NetworkConfig{})
	resp, err := request(t, m, map[string]any{"url": srv.URL, "query": map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"ok": true, "n": float64(2)}, resp.Data)
	assert.Contains(t, resp.Headers["Content-Type"], "application/json")
}

func TestNetworkToolPOSTBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))
		body, _ := io.ReadAll(r.Body)
		var v map[string]any
		assert.NoError(t, json.Unmarshal(body, &v))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("got " + v["name"].(string)))
	}))
	defer srv.Close()

	m := newNetworkManager(t, config.NetworkConfig{})
	resp, err := request(t, m, map[string]any{
		"method":  "post",
		"url":     srv.URL,
		"headers": map[string]any{"X-Custom": "yes"},
		"body":    map[string]any{"name": "ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, "got ada", resp.Data)
}

func TestNetworkToolRejectsBadInput(t *testing.T) {
	m := newNetworkManager(t, config.NetworkConfig{})

	for _, params := range []map[string]any{
		{"url": "ftp://example.com"},
		{"url": "http://example.com", "method": "TRACE"},
		{"url": "http://example.com", "headers": map[string]any{"X": "a\r\nInjected: 1"}},
		{"method": "GET"},
	} {
		_, err := request(t, m, params)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "%v: %v", params, err)
	}
}

func TestNetworkToolTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	m := newNetworkManager(t, config.NetworkConfig{})
	_, err := request(t, m, map[string]any{"url": srv.URL, "timeout": 0.05})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTimeout))
	assert.Equal(t, domain.CodeNetworkTimeout, domain.ErrorCodeOf(err))
}

func TestNetworkToolBlocksPrivate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newNetworkManager(t, config.NetworkConfig{BlockPrivate: true})
	_, err := request(t, m, map[string]any{"url": srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSSRFBlocked))
}

func TestNetworkToolCircuitBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := newNetworkManager(t, config.NetworkConfig{
		Breaker: config.BreakerConfig{MaxFailures: 2, OpenTimeout: time.Hour},
	})

	for i := 0; i < 2; i++ {
		resp, err := request(t, m, map[string]any{"url": srv.URL})
		require.NoError(t, err, "5xx responses are returned to the caller")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}

	_, err := request(t, m, map[string]any{"url": srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCircuitOpen))
	assert.Equal(t, int32(2), hits.Load())
}

func TestNetworkToolRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := newNetworkManager(t, config.NetworkConfig{RequestsPerSecond: 0.001, Burst: 1})
	_, err := request(t, m, map[string]any{"url": srv.URL})
	require.NoError(t, err)

	_, err = request(t, m, map[string]any{"url": srv.URL, "timeout": 0.05})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimit))
}

func TestDecodeBody(t *testing.T) {
	assert.Equal(t, map[string]any{"a": float64(1)}, decodeBody("application/json", []byte(`{"a":1}`), false))
	assert.Equal(t, "{bad", decodeBody("application/json", []byte(`{bad`), false))
	assert.Equal(t, `{"a":`, decodeBody("application/json", []byte(`{"a":`), true))
	assert.Equal(t, "hi", decodeBody("text/plain", []byte("hi"), false))
	assert.Equal(t, []any{"x"}, decodeBody("application/problem+json", []byte(`["x"]`), false))
}
