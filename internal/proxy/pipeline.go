// Package proxy implements the forwarding pipeline: authenticate, probe the
// response cache, pass the upstream rate limiter, forward, and cache
// successful responses.
package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/sdko-org/api-proxy/internal/auth"
	"github.com/sdko-org/api-proxy/internal/cache"
	"github.com/sdko-org/api-proxy/internal/clock"
	"github.com/sdko-org/api-proxy/internal/metrics"
	"github.com/sdko-org/api-proxy/internal/ratelimit"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

type Outcome string

const (
	OutcomeUnauthorized        Outcome = "unauthorized"
	OutcomeCacheHit            Outcome = "cache_hit"
	OutcomeForwarded           Outcome = "forwarded"
	OutcomeForwardedError      Outcome = "forwarded_error"
	OutcomeUpstreamUnreachable Outcome = "upstream_unreachable"
)

const contentTypeJSON = "application/json"

// Upstream is the outbound side of the pipeline.
type Upstream interface {
	URL(path string) string
	Get(ctx context.Context, path string, params map[string]string) (*http.Response, error)
}

type Request struct {
	Credential string
	Path       string
	Query      map[string]string
}

type Result struct {
	Outcome     Outcome
	Status      int
	Body        []byte
	ContentType string
}

// FromCache reports whether the result was served without an upstream call.
func (r Result) FromCache() bool {
	return r.Outcome == OutcomeCacheHit
}

type Options struct {
	Upstream      Upstream
	Cache         *cache.ResponseCache
	TTL           time.Duration
	Authenticator *auth.Authenticator
	// Limiter is optional; without it calls are forwarded immediately.
	Limiter  *ratelimit.Limiter
	Clock    clock.Clock
	Recorder *metrics.Recorder
	Logger   *logrus.Logger
}

type Pipeline struct {
	upstream Upstream
	cache    *cache.ResponseCache
	ttl      time.Duration
	auth     *auth.Authenticator
	limiter  *ratelimit.Limiter
	clock    clock.Clock
	recorder *metrics.Recorder
	log      *logrus.Entry
}

func New(opts Options) *Pipeline {
	c := opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	rc := opts.Cache
	if rc == nil {
		rc = cache.NewResponseCache()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{
		upstream: opts.Upstream,
		cache:    rc,
		ttl:      opts.TTL,
		auth:     opts.Authenticator,
		limiter:  opts.Limiter,
		clock:    c,
		recorder: opts.Recorder,
		log:      logger.WithField("component", "pipeline"),
	}
}

func (p *Pipeline) Handle(ctx context.Context, req Request) Result {
	start := time.Now()
	res := p.handle(ctx, req)
	p.recorder.ObserveRequest(string(res.Outcome), res.Status, time.Since(start))
	return res
}

func (p *Pipeline) handle(ctx context.Context, req Request) Result {
	if !p.auth.Authenticate(req.Credential) {
		return detailResult(OutcomeUnauthorized, http.StatusUnauthorized, "Unauthorized")
	}

	key := cache.Key(p.upstream.URL(req.Path), req.Query)
	if entry, ok := p.cache.Get(key); ok && entry.Fresh(p.clock.Now(), p.ttl) {
		return Result{
			Outcome:     OutcomeCacheHit,
			Status:      http.StatusOK,
			Body:        entry.Payload,
			ContentType: contentTypeJSON,
		}
	}

	dispatchAt := p.admit(req.Path)

	callStart := time.Now()
	resp, err := p.upstream.Get(ctx, req.Path, req.Query)
	if err != nil {
		p.recorder.ObserveUpstream(0, time.Since(callStart))
		return detailResult(OutcomeUpstreamUnreachable, http.StatusBadGateway, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	p.recorder.ObserveUpstream(resp.StatusCode, time.Since(callStart))
	if err != nil {
		return detailResult(OutcomeUpstreamUnreachable, http.StatusBadGateway, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return Result{
			Outcome:     OutcomeForwardedError,
			Status:      resp.StatusCode,
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
		}
	}

	if !gjson.ValidBytes(body) {
		p.log.WithField("path", req.Path).Warn("Upstream returned a non-JSON success body")
		return detailResult(OutcomeUpstreamUnreachable, http.StatusBadGateway, "upstream returned invalid JSON")
	}

	p.cache.Put(key, body, dispatchAt)
	p.recorder.SetCacheEntries(p.cache.Len())

	return Result{
		Outcome:     OutcomeForwarded,
		Status:      http.StatusOK,
		Body:        body,
		ContentType: contentTypeJSON,
	}
}

// admit passes the limiter, if any, and returns the instant the upstream
// call is dispatched.
func (p *Pipeline) admit(path string) time.Time {
	if p.limiter == nil {
		return p.clock.Now()
	}
	adm := p.limiter.Acquire()
	p.recorder.ObserveLimiterWait(adm.Waited)
	if adm.Waited > 0 {
		p.log.WithFields(logrus.Fields{
			"path": path,
			"wait": adm.Waited,
		}).Info("Waited to respect upstream rate limit")
	}
	return adm.DispatchAt
}

func detailResult(outcome Outcome, status int, detail string) Result {
	body, _ := json.Marshal(map[string]string{"detail": detail})
	return Result{
		Outcome:     outcome,
		Status:      status,
		Body:        body,
		ContentType: contentTypeJSON,
	}
}
