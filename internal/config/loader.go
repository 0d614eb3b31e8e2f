package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envKeys maps the recognised environment variables onto config paths.
// Anything else in the environment is ignored.
var envKeys = map[string]string{
	"LISTEN_ADDR":              "listen.address",
	"TLS_LISTEN_ADDR":          "listen.tls_address",
	"LOG_LEVEL":                "logging.level",
	"LOG_FORMAT":               "logging.format",
	"BASE_URL":                 "upstream.base_url",
	"API_KEY":                  "upstream.api_key",
	"UPSTREAM_KEY_HEADER":      "upstream.header",
	"UPSTREAM_TIMEOUT":         "upstream.timeout_seconds",
	"AUTH_ENABLED":             "auth.enabled",
	"CLIENT_KEY_HEADER":        "auth.header",
	"ALLOWED_API_KEYS":         "auth.allowed_keys",
	"CACHE_TTL":                "cache.ttl_seconds",
	"RATE_LIMIT_ENABLED":       "rate_limit.enabled",
	"MIN_INTERVAL":             "rate_limit.min_interval_seconds",
	"CLIENT_RATE_LIMIT":        "client_limit.requests",
	"CLIENT_RATE_LIMIT_WINDOW": "client_limit.window_seconds",
	"CORS_ENABLED":             "cors.enabled",
	"METRICS_ENABLED":          "metrics.enabled",
	"METRICS_PATH":             "metrics.path",
	"ACCESS_LOG_ENABLED":       "access_log.enabled",
	"POSTGRES_HOST":            "access_log.postgres.host",
	"POSTGRES_PORT":            "access_log.postgres.port",
	"POSTGRES_USER":            "access_log.postgres.user",
	"POSTGRES_PASSWORD":        "access_log.postgres.password",
	"POSTGRES_DATABASE":        "access_log.postgres.database",
	"POSTGRES_SSL_MODE":        "access_log.postgres.ssl_mode",
}

// DefaultEnvFile is read from the working directory when present.
const DefaultEnvFile = ".env"

// Loader builds the runtime configuration from defaults, an optional YAML
// file, an optional dotenv file and the process environment, in increasing
// order of precedence.
type Loader struct {
	file    string
	envFile string
}

func NewLoader(file string) *Loader {
	return &Loader{file: file, envFile: DefaultEnvFile}
}

// WithEnvFile replaces the dotenv path. An empty path skips the dotenv step.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if l.file != "" {
		if err := ctx.Err(); err != nil {
			return Config{}, err
		}
		if _, err := os.Stat(l.file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", l.file)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", l.file, err)
		}
		if err := k.Load(file.Provider(l.file), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", l.file, err)
		}
	}

	if err := l.loadEnvFile(k); err != nil {
		return Config{}, err
	}

	transform := func(s string) string {
		return envKeys[s]
	}
	if err := k.Load(env.Provider("", ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadEnvFile applies the recognised variables of the dotenv file. A missing
// file is not an error.
func (l *Loader) loadEnvFile(k *koanf.Koanf) error {
	if l.envFile == "" {
		return nil
	}
	if _, err := os.Stat(l.envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", l.envFile, err)
	}

	raw, err := file.Provider(l.envFile).ReadBytes()
	if err != nil {
		return fmt.Errorf("config: read env file %s: %w", l.envFile, err)
	}
	vars, err := dotenv.Parser().Unmarshal(raw)
	if err != nil {
		return fmt.Errorf("config: parse env file %s: %w", l.envFile, err)
	}

	values := make(map[string]any, len(vars))
	for name, value := range vars {
		if path, ok := envKeys[name]; ok {
			values[path] = value
		}
	}
	if err := k.Load(confmap.Provider(values, "."), nil); err != nil {
		return fmt.Errorf("config: load env file %s: %w", l.envFile, err)
	}
	return nil
}

func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"listen": map[string]any{
			"address":     cfg.Listen.Address,
			"tls_address": cfg.Listen.TLSAddress,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
		},
		"upstream": map[string]any{
			"base_url":        cfg.Upstream.BaseURL,
			"api_key":         cfg.Upstream.APIKey,
			"header":          cfg.Upstream.Header,
			"timeout_seconds": cfg.Upstream.TimeoutSeconds,
		},
		"auth": map[string]any{
			"enabled":      cfg.Auth.Enabled,
			"header":       cfg.Auth.Header,
			"allowed_keys": cfg.Auth.AllowedKeys,
		},
		"cache": map[string]any{
			"ttl_seconds": cfg.Cache.TTLSeconds,
		},
		"rate_limit": map[string]any{
			"enabled":              cfg.RateLimit.Enabled,
			"min_interval_seconds": cfg.RateLimit.MinIntervalSeconds,
		},
		"client_limit": map[string]any{
			"requests":       cfg.ClientLimit.Requests,
			"window_seconds": cfg.ClientLimit.WindowSeconds,
		},
		"cors": map[string]any{
			"enabled": cfg.CORS.Enabled,
		},
		"metrics": map[string]any{
			"enabled": cfg.Metrics.Enabled,
			"path":    cfg.Metrics.Path,
		},
		"access_log": map[string]any{
			"enabled": cfg.AccessLog.Enabled,
			"postgres": map[string]any{
				"host":     cfg.AccessLog.Postgres.Host,
				"port":     cfg.AccessLog.Postgres.Port,
				"user":     cfg.AccessLog.Postgres.User,
				"password": cfg.AccessLog.Postgres.Password,
				"database": cfg.AccessLog.Postgres.Database,
				"ssl_mode": cfg.AccessLog.Postgres.SSLMode,
			},
		},
	}
}
