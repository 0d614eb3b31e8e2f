package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "apiproxy"

// Recorder publishes Prometheus metrics for the forwarding pipeline. A nil
// Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	upstreamCalls   *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	limiterWait     prometheus.Histogram
	cacheEntries    prometheus.Gauge
}

// NewRecorder registers the proxy collectors on reg, or on a fresh registry
// when reg is nil.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Proxy requests by terminal outcome.",
	}, []string{"outcome", "status_code"})

	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Latency of proxy requests including limiter waits.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"outcome"})

	upstreamCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Calls dispatched to the upstream API.",
	}, []string{"status_code"})

	upstreamLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "duration_seconds",
		Help:      "Latency of upstream calls.",
		Buckets:   prometheus.DefBuckets,
	})

	limiterWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for the upstream rate limiter.",
		Buckets:   []float64{0, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	cacheEntries := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Entries held by the response cache, stale ones included.",
	})

	reg.MustRegister(requests, requestLatency, upstreamCalls, upstreamLatency, limiterWait, cacheEntries)

	return &Recorder{
		gatherer:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		requests:        requests,
		requestLatency:  requestLatency,
		upstreamCalls:   upstreamCalls,
		upstreamLatency: upstreamLatency,
		limiterWait:     limiterWait,
		cacheEntries:    cacheEntries,
	}
}

func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

func (r *Recorder) ObserveRequest(outcome string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(outcome, strconv.Itoa(statusCode)).Inc()
	r.requestLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveUpstream records one upstream call. A zero status code means the
// call failed before a response arrived.
func (r *Recorder) ObserveUpstream(statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	label := "error"
	if statusCode > 0 {
		label = strconv.Itoa(statusCode)
	}
	r.upstreamCalls.WithLabelValues(label).Inc()
	r.upstreamLatency.Observe(duration.Seconds())
}

func (r *Recorder) ObserveLimiterWait(wait time.Duration) {
	if r == nil {
		return
	}
	r.limiterWait.Observe(wait.Seconds())
}

func (r *Recorder) SetCacheEntries(n int) {
	if r == nil {
		return
	}
	r.cacheEntries.Set(float64(n))
}
