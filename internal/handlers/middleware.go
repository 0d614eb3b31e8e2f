package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"github.com/sdko-org/api-proxy/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// AccessLogSink persists one record per handled request.
type AccessLogSink interface {
	RecordAccess(ctx context.Context, entry models.AccessLog) error
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytesSent  int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytesSent += n
	return n, err
}

// LoggingMiddleware logs every request and, when sink is non-nil, stores an
// access log record in the background.
func LoggingMiddleware(logger *logrus.Logger, sink AccessLogSink) func(http.Handler) http.Handler {
	logEntry := logger.WithField("component", "http_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				duration := time.Since(start)
				entry := models.AccessLog{
					Timestamp:   start,
					Method:      r.Method,
					Path:        r.URL.Path,
					Status:      lrw.statusCode,
					Duration:    duration,
					ClientIP:    getClientIP(r),
					UserAgent:   r.UserAgent(),
					BytesSent:   lrw.bytesSent,
					CacheStatus: lrw.Header().Get(cacheStatusHeader),
				}

				logEntry.WithFields(logrus.Fields{
					"method":     entry.Method,
					"path":       entry.Path,
					"status":     entry.Status,
					"duration":   entry.Duration,
					"client_ip":  entry.ClientIP,
					"bytes":      entry.BytesSent,
					"user_agent": entry.UserAgent,
					"cache":      entry.CacheStatus,
				}).Info("Request processed")

				if sink == nil {
					return
				}
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()

					if err := sink.RecordAccess(ctx, entry); err != nil {
						logEntry.WithError(err).Warn("Failed to save access log")
					}
				}()
			}()

			next.ServeHTTP(lrw, r)
		})
	}
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter throttles inbound requests per client, identified by the
// credential header when present and by IP otherwise. It is independent of
// the upstream limiter.
type ClientLimiter struct {
	limit     rate.Limit
	burst     int
	keyHeader string
	idle      time.Duration

	mu      sync.Mutex
	clients map[string]*clientBucket
}

func NewClientLimiter(requests int, window time.Duration, keyHeader string) *ClientLimiter {
	return &ClientLimiter{
		limit:     rate.Limit(float64(requests) / window.Seconds()),
		burst:     requests,
		keyHeader: keyHeader,
		idle:      3 * window,
		clients:   make(map[string]*clientBucket),
	}
}

func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(l.clientKey(r), time.Now()) {
			writeDetail(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *ClientLimiter) clientKey(r *http.Request) string {
	if l.keyHeader != "" {
		if key := r.Header.Get(l.keyHeader); key != "" {
			return "key:" + key
		}
	}
	return "ip:" + getClientIP(r)
}

func (l *ClientLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	bucket, exists := l.clients[key]
	if !exists {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = bucket
	}
	bucket.lastSeen = now
	l.mu.Unlock()

	return bucket.limiter.AllowN(now, 1)
}

// Run drops idle clients every minute until ctx is done.
func (l *ClientLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			l.cleanup(now)
		case <-ctx.Done():
			return
		}
	}
}

func (l *ClientLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, client := range l.clients {
		if now.Sub(client.lastSeen) > l.idle {
			delete(l.clients, key)
		}
	}
}

var corsMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch,
	http.MethodDelete, http.MethodConnect, http.MethodOptions, http.MethodTrace,
}

// CORSMiddleware allows any origin, method and header, with credentials.
func CORSMiddleware() func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowOriginFunc:  func(string) bool { return true },
		AllowedMethods:   corsMethods,
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler
}

func getClientIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		var err error
		ip, _, err = net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
	}
	if strings.Contains(ip, ",") {
		parts := strings.Split(ip, ",")
		ip = strings.TrimSpace(parts[0])
	}
	return ip
}
