package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type Config struct {
	Listen      ListenConfig      `koanf:"listen"`
	Logging     LoggingConfig     `koanf:"logging"`
	Upstream    UpstreamConfig    `koanf:"upstream"`
	Auth        AuthConfig        `koanf:"auth"`
	Cache       CacheConfig       `koanf:"cache"`
	RateLimit   RateLimitConfig   `koanf:"rate_limit"`
	ClientLimit ClientLimitConfig `koanf:"client_limit"`
	CORS        CORSConfig        `koanf:"cors"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	AccessLog   AccessLogConfig   `koanf:"access_log"`
}

type ListenConfig struct {
	Address string `koanf:"address"`
	// TLSAddress enables a second listener serving a self-signed certificate.
	TLSAddress string `koanf:"tls_address"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type UpstreamConfig struct {
	BaseURL        string  `koanf:"base_url"`
	APIKey         string  `koanf:"api_key"`
	Header         string  `koanf:"header"`
	TimeoutSeconds float64 `koanf:"timeout_seconds"`
}

func (u UpstreamConfig) Timeout() time.Duration {
	return seconds(u.TimeoutSeconds)
}

type AuthConfig struct {
	Enabled bool   `koanf:"enabled"`
	Header  string `koanf:"header"`
	// AllowedKeys is a comma-separated list.
	AllowedKeys string `koanf:"allowed_keys"`
}

type CacheConfig struct {
	TTLSeconds float64 `koanf:"ttl_seconds"`
}

func (c CacheConfig) TTL() time.Duration {
	return seconds(c.TTLSeconds)
}

type RateLimitConfig struct {
	Enabled            bool    `koanf:"enabled"`
	MinIntervalSeconds float64 `koanf:"min_interval_seconds"`
}

func (r RateLimitConfig) MinInterval() time.Duration {
	return seconds(r.MinIntervalSeconds)
}

// ClientLimitConfig throttles inbound requests per client. Zero requests
// disables it.
type ClientLimitConfig struct {
	Requests      int     `koanf:"requests"`
	WindowSeconds float64 `koanf:"window_seconds"`
}

func (c ClientLimitConfig) Window() time.Duration {
	return seconds(c.WindowSeconds)
}

type CORSConfig struct {
	Enabled bool `koanf:"enabled"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type AccessLogConfig struct {
	Enabled  bool           `koanf:"enabled"`
	Postgres PostgresConfig `koanf:"postgres"`
}

type PostgresConfig struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	SSLMode  string `koanf:"ssl_mode"`
}

func DefaultConfig() Config {
	return Config{
		Listen:  ListenConfig{Address: ":8080"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Upstream: UpstreamConfig{
			Header:         "X-API-Key",
			TimeoutSeconds: 30,
		},
		Auth:        AuthConfig{Enabled: true, Header: "X-API-Key"},
		Cache:       CacheConfig{TTLSeconds: 60},
		RateLimit:   RateLimitConfig{Enabled: true, MinIntervalSeconds: 1},
		ClientLimit: ClientLimitConfig{WindowSeconds: 60},
		CORS:        CORSConfig{Enabled: true},
		Metrics:     MetricsConfig{Enabled: true, Path: "/-/metrics"},
		AccessLog: AccessLogConfig{
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     "5432",
				User:     "proxy",
				Password: "password",
				Database: "api_proxy",
				SSLMode:  "disable",
			},
		},
	}
}

func (c Config) Validate() error {
	var errs []error

	if c.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("config: upstream base url required"))
	} else if u, err := url.Parse(c.Upstream.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: upstream base url %q must be an absolute http(s) url", c.Upstream.BaseURL))
	}
	if c.Upstream.APIKey == "" {
		errs = append(errs, errors.New("config: upstream api key required"))
	}
	if strings.TrimSpace(c.Upstream.Header) == "" {
		errs = append(errs, errors.New("config: upstream header name required"))
	}
	if c.Upstream.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("config: upstream timeout must not be negative"))
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.Header) == "" {
		errs = append(errs, errors.New("config: auth header name required"))
	}
	if c.Cache.TTLSeconds < 0 {
		errs = append(errs, errors.New("config: cache ttl must not be negative"))
	}
	if c.RateLimit.MinIntervalSeconds < 0 {
		errs = append(errs, errors.New("config: rate limit interval must not be negative"))
	}
	if c.ClientLimit.Requests < 0 {
		errs = append(errs, errors.New("config: client rate limit must not be negative"))
	}
	if c.ClientLimit.Requests > 0 && c.ClientLimit.WindowSeconds <= 0 {
		errs = append(errs, errors.New("config: client rate limit window must be positive"))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("config: metrics path %q must start with /", c.Metrics.Path))
	}

	return errors.Join(errs...)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
