package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sdko-org/api-proxy/internal/config"
	"github.com/sdko-org/api-proxy/internal/metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.Config {
	cfg := config.DefaultConfig()
	cfg.Upstream.BaseURL = baseURL
	cfg.Upstream.APIKey = "upstream-secret"
	cfg.Auth.AllowedKeys = "secret1, secret2"
	cfg.RateLimit.MinIntervalSeconds = 0.001
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newUpstream(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"events":[]}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func get(t *testing.T, h http.Handler, target, key string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if key != "" {
		r.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestBuildHandlerFullPipeline(t *testing.T) {
	up, calls := newUpstream(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := buildHandler(ctx, testConfig(up.URL), quietLogger(), metrics.NewRecorder(nil), nil)

	require.Equal(t, http.StatusUnauthorized, get(t, h, "/events?q=python", "").Code)
	require.Zero(t, calls.Load())

	w := get(t, h, "/events?q=python", "secret2")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"events":[]}`, w.Body.String())

	w = get(t, h, "/events?q=python", "secret1")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hit", w.Header().Get("X-Proxy-Cache"))
	require.EqualValues(t, 1, calls.Load())

	require.Equal(t, http.StatusOK, get(t, h, "/-/metrics", "").Code)
}

func TestBuildHandlerReducedPipeline(t *testing.T) {
	up, calls := newUpstream(t)
	cfg := testConfig(up.URL)
	cfg.Auth.Enabled = false
	cfg.RateLimit.Enabled = false
	cfg.Metrics.Enabled = false

	h := buildHandler(context.Background(), cfg, quietLogger(), nil, nil)

	require.Equal(t, http.StatusOK, get(t, h, "/events", "").Code)
	require.EqualValues(t, 1, calls.Load())
}

func TestBuildHandlerClientLimit(t *testing.T) {
	up, _ := newUpstream(t)
	cfg := testConfig(up.URL)
	cfg.ClientLimit.Requests = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := buildHandler(ctx, cfg, quietLogger(), nil, nil)

	require.Equal(t, http.StatusOK, get(t, h, "/events", "secret1").Code)
	require.Equal(t, http.StatusTooManyRequests, get(t, h, "/events", "secret1").Code)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	flag := cmd.Flags().Lookup("config")
	require.NotNil(t, flag)
	require.Equal(t, "c", flag.Shorthand)

	envFlag := cmd.Flags().Lookup("env-file")
	require.NotNil(t, envFlag)
	require.Equal(t, ".env", envFlag.DefValue)
}

func TestRunFailsOnInvalidConfig(t *testing.T) {
	t.Setenv("BASE_URL", "")
	t.Setenv("API_KEY", "")
	require.Error(t, run(context.Background(), "", ""))
}
