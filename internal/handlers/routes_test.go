package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/gorilla/mux"
	"github.com/sdko-org/api-proxy/internal/auth"
	"github.com/sdko-org/api-proxy/internal/cache"
	"github.com/sdko-org/api-proxy/internal/clock"
	"github.com/sdko-org/api-proxy/internal/config"
	"github.com/sdko-org/api-proxy/internal/metrics"
	"github.com/sdko-org/api-proxy/internal/proxy"
	"github.com/sdko-org/api-proxy/internal/ratelimit"
	"github.com/sdko-org/api-proxy/internal/upstream"
	"github.com/stretchr/testify/require"
)

type upstreamStub struct {
	calls    atomic.Int64
	keys     chan string
	lastPath atomic.Value
}

func (u *upstreamStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.calls.Add(1)
	u.lastPath.Store(r.URL.EscapedPath())
	select {
	case u.keys <- r.Header.Get("X-API-Key"):
	default:
	}
	switch r.URL.Path {
	case "/events", "/feeds//daily":
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"events":[]}`)
	default:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "not here")
	}
}

func newProxyServer(t *testing.T) (*httpexpect.Expect, *upstreamStub) {
	t.Helper()
	stub := &upstreamStub{keys: make(chan string, 16)}
	up := httptest.NewServer(stub)
	t.Cleanup(up.Close)

	logger := quietLogger()
	fake := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	rec := metrics.NewRecorder(nil)
	pipeline := proxy.New(proxy.Options{
		Upstream: upstream.NewClient(logger, config.UpstreamConfig{
			BaseURL:        up.URL,
			APIKey:         "upstream-secret",
			Header:         "X-API-Key",
			TimeoutSeconds: 5,
		}),
		Cache:         cache.NewResponseCache(),
		TTL:           60 * time.Second,
		Authenticator: auth.New([]string{"secret1"}, true),
		Limiter:       ratelimit.New(time.Second, fake),
		Clock:         fake,
		Recorder:      rec,
		Logger:        logger,
	})

	r := mux.NewRouter()
	r.Use(LoggingMiddleware(logger, nil))
	RegisterRoutes(r, NewProxyHandler(logger, pipeline, "X-API-Key"), rec.Handler(), "/-/metrics")

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  srv.URL,
		Reporter: httpexpect.NewRequireReporter(t),
	}), stub
}

func TestProxyEndToEnd(t *testing.T) {
	e, stub := newProxyServer(t)

	first := e.GET("/events").
		WithQuery("q", "python").
		WithHeader("X-API-Key", "secret1").
		Expect()
	first.Status(http.StatusOK)
	first.Header(cacheStatusHeader).IsEqual("miss")
	first.JSON().Object().Value("events").Array().IsEmpty()
	require.Equal(t, "upstream-secret", <-stub.keys)

	second := e.GET("/events").
		WithQuery("q", "python").
		WithHeader("X-API-Key", "secret1").
		Expect()
	second.Status(http.StatusOK)
	second.Header(cacheStatusHeader).IsEqual("hit")
	second.JSON().Object().Value("events").Array().IsEmpty()
	require.EqualValues(t, 1, stub.calls.Load())
}

func TestProxyRejectsBadCredentials(t *testing.T) {
	e, stub := newProxyServer(t)

	e.GET("/events").WithQuery("q", "python").
		Expect().
		Status(http.StatusUnauthorized).
		JSON().Object().Value("detail").String().IsEqual("Unauthorized")

	e.GET("/events").WithQuery("q", "python").
		WithHeader("X-API-Key", "wrong").
		Expect().
		Status(http.StatusUnauthorized)

	require.Zero(t, stub.calls.Load())
}

func TestProxyPassesThroughUpstreamErrors(t *testing.T) {
	e, stub := newProxyServer(t)

	for i := 0; i < 2; i++ {
		resp := e.GET("/missing").
			WithHeader("X-API-Key", "secret1").
			Expect()
		resp.Status(http.StatusNotFound)
		resp.Body().IsEqual("not here")
	}
	require.EqualValues(t, 2, stub.calls.Load())
}

func TestProxyForwardsUncleanPaths(t *testing.T) {
	e, stub := newProxyServer(t)

	e.GET("/feeds//daily").
		WithHeader("X-API-Key", "secret1").
		Expect().
		Status(http.StatusOK).
		JSON().Object().ContainsKey("events")

	require.Equal(t, "/feeds//daily", stub.lastPath.Load())
	require.EqualValues(t, 1, stub.calls.Load())
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	e, stub := newProxyServer(t)

	e.GET("/-/healthz").Expect().
		Status(http.StatusOK).
		JSON().Object().Value("status").String().IsEqual("ok")

	e.GET("/events").WithHeader("X-API-Key", "secret1").Expect().Status(http.StatusOK)

	e.GET("/-/metrics").Expect().
		Status(http.StatusOK).
		Body().Contains(`apiproxy_requests_total{outcome="forwarded",status_code="200"} 1`)

	require.EqualValues(t, 1, stub.calls.Load())
}

func TestNonGetIsRejected(t *testing.T) {
	e, stub := newProxyServer(t)

	e.POST("/events").WithHeader("X-API-Key", "secret1").
		Expect().
		Status(http.StatusMethodNotAllowed)
	require.Zero(t, stub.calls.Load())
}
