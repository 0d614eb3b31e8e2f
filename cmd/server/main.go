package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/sdko-org/api-proxy/internal/auth"
	"github.com/sdko-org/api-proxy/internal/cache"
	"github.com/sdko-org/api-proxy/internal/clock"
	"github.com/sdko-org/api-proxy/internal/config"
	"github.com/sdko-org/api-proxy/internal/database"
	"github.com/sdko-org/api-proxy/internal/handlers"
	"github.com/sdko-org/api-proxy/internal/httpserver"
	"github.com/sdko-org/api-proxy/internal/logging"
	"github.com/sdko-org/api-proxy/internal/metrics"
	"github.com/sdko-org/api-proxy/internal/proxy"
	"github.com/sdko-org/api-proxy/internal/ratelimit"
	"github.com/sdko-org/api-proxy/internal/upstream"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:          "api-proxy",
		Short:        "Authenticated caching reverse proxy for a single upstream API",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath, envFile)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	cmd.Flags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file read when present; empty to skip")
	return cmd
}

func run(ctx context.Context, configPath, envFile string) error {
	cfg, err := config.NewLoader(configPath).WithEnvFile(envFile).Load(ctx)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}

	var sink handlers.AccessLogSink
	if cfg.AccessLog.Enabled {
		db, err := database.NewPostgresDB(logger, cfg.AccessLog.Postgres)
		if err != nil {
			return err
		}
		store := database.NewAccessLogStore(db)
		defer store.Close()
		sink = store
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder(nil)
	}

	handler := buildHandler(ctx, cfg, logger, recorder, sink)

	server, err := httpserver.New(logger, cfg.Listen, handler)
	if err != nil {
		return err
	}
	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Error("Server failed")
		return err
	}
	return nil
}

func buildHandler(ctx context.Context, cfg config.Config, logger *logrus.Logger, recorder *metrics.Recorder, sink handlers.AccessLogSink) http.Handler {
	authenticator := auth.New(auth.ParseKeys(cfg.Auth.AllowedKeys), cfg.Auth.Enabled)
	if authenticator.Enabled() && authenticator.KeyCount() == 0 {
		logger.Warn("Authentication enabled with no allowed keys; every request will be rejected")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.MinInterval(), clock.Real{})
	}

	pipeline := proxy.New(proxy.Options{
		Upstream:      upstream.NewClient(logger, cfg.Upstream),
		Cache:         cache.NewResponseCache(),
		TTL:           cfg.Cache.TTL(),
		Authenticator: authenticator,
		Limiter:       limiter,
		Clock:         clock.Real{},
		Recorder:      recorder,
		Logger:        logger,
	})

	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger, sink))
	if cfg.ClientLimit.Requests > 0 {
		clientLimiter := handlers.NewClientLimiter(cfg.ClientLimit.Requests, cfg.ClientLimit.Window(), cfg.Auth.Header)
		go clientLimiter.Run(ctx)
		r.Use(clientLimiter.Middleware)
	}

	var metricsHandler http.Handler
	if recorder != nil {
		metricsHandler = recorder.Handler()
	}
	handlers.RegisterRoutes(r, handlers.NewProxyHandler(logger, pipeline, cfg.Auth.Header), metricsHandler, cfg.Metrics.Path)

	logger.WithFields(logrus.Fields{
		"upstream":     cfg.Upstream.BaseURL,
		"auth":         cfg.Auth.Enabled,
		"rate_limit":   cfg.RateLimit.Enabled,
		"min_interval": cfg.RateLimit.MinInterval(),
		"cache_ttl":    cfg.Cache.TTL(),
		"client_keys":  authenticator.KeyCount(),
	}).Info("Proxy configured")

	if cfg.CORS.Enabled {
		return handlers.CORSMiddleware()(r)
	}
	return r
}
