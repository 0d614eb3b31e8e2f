package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/sdko-org/api-proxy/internal/proxy"
	"github.com/sirupsen/logrus"
)

const cacheStatusHeader = "X-Proxy-Cache"

// Forwarder runs one request through the forwarding pipeline.
type Forwarder interface {
	Handle(ctx context.Context, req proxy.Request) proxy.Result
}

// ProxyHandler adapts inbound HTTP requests to the forwarding pipeline.
type ProxyHandler struct {
	pipeline   Forwarder
	authHeader string
	log        *logrus.Entry
}

func NewProxyHandler(logger *logrus.Logger, pipeline Forwarder, authHeader string) *ProxyHandler {
	return &ProxyHandler{
		pipeline:   pipeline,
		authHeader: authHeader,
		log:        logger.WithField("component", "proxy_handler"),
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := proxy.Request{
		Credential: r.Header.Get(h.authHeader),
		Path:       strings.TrimPrefix(r.URL.EscapedPath(), "/"),
		Query:      flattenQuery(r),
	}

	res := h.pipeline.Handle(r.Context(), req)

	if res.Outcome != proxy.OutcomeUnauthorized {
		if res.FromCache() {
			w.Header().Set(cacheStatusHeader, "hit")
		} else {
			w.Header().Set(cacheStatusHeader, "miss")
		}
	}
	if res.Outcome == proxy.OutcomeUpstreamUnreachable {
		h.log.WithFields(logrus.Fields{
			"path":   req.Path,
			"detail": string(res.Body),
		}).Warn("Upstream unreachable")
	}
	writeResult(w, res)
}

// flattenQuery keeps the last value of a repeated parameter.
func flattenQuery(r *http.Request) map[string]string {
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	params := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			params[k] = vs[len(vs)-1]
		}
	}
	return params
}
