package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sdko-org/api-proxy/internal/config"
	"github.com/sirupsen/logrus"
)

const userAgent = "APIProxy/1.0"

// Client issues GET requests against the upstream API with the server-side
// credential attached.
type Client struct {
	httpClient *http.Client
	baseURL    string
	header     string
	apiKey     string
	log        *logrus.Entry
}

type loggingTransport struct {
	next http.RoundTripper
	log  *logrus.Entry
}

func NewClient(logger *logrus.Logger, cfg config.UpstreamConfig) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
			Transport: &loggingTransport{
				next: http.DefaultTransport,
				log:  logger.WithField("component", "upstream_transport"),
			},
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		header:  cfg.Header,
		apiKey:  cfg.APIKey,
		log:     logger.WithField("component", "upstream_client"),
	}
}

// URL returns the upstream address for path, without query.
func (c *Client) URL(path string) string {
	return c.baseURL + "/" + strings.TrimPrefix(path, "/")
}

func (c *Client) Get(ctx context.Context, path string, params map[string]string) (*http.Response, error) {
	u, err := url.Parse(c.URL(path))
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(c.header, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Warn("Upstream request failed")
		return nil, err
	}
	return resp, nil
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.Redacted(),
	})

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		log.WithError(err).Debug("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}
