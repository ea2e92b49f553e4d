package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Camo     CamoConfig
	Database DatabaseConfig
	Observe  ObserveConfig
	Server   ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`

	// TrustForwardedFor takes the client address from X-Forwarded-For. Only
	// enable behind a proxy that sets the header.
	TrustForwardedFor bool `env:"SERVER_TRUST_FORWARDED_FOR, default=false"`

	// PixelPath is a PNG to serve in place of the built-in transparent pixel.
	PixelPath string `env:"PIXEL_PATH"`
}

type DatabaseConfig struct {
	// URL selects the event store: postgres://, sqlite:// or file:.
	URL string `env:"DATABASE_URL, required"`
}

// CamoConfig specifies how the proxied pixel URL is resolved, cached and
// purged.
type CamoConfig struct {
	// ProfileURL is the page that renders the pixel through the image proxy.
	// When empty, FallbackURL is used without any network access.
	ProfileURL  string `env:"CAMO_PROFILE_URL"`
	FallbackURL string `env:"CAMO_FALLBACK_URL"`

	// Marker is matched against the original source of each image on the
	// profile page to find the pixel.
	Marker string `env:"CAMO_MARKER, default=/view"`

	// CacheLocation is where the resolved URL is persisted: a local path,
	// file:// URL or s3://bucket/key. Empty keeps it in memory only.
	CacheLocation string `env:"CAMO_CACHE_LOCATION"`

	Freshness    time.Duration `env:"CAMO_FRESHNESS, default=24h"`
	HTTPTimeout  time.Duration `env:"CAMO_HTTP_TIMEOUT, default=10s"`
	PurgeTimeout time.Duration `env:"CAMO_PURGE_TIMEOUT, default=30s"`

	PurgeQueueSize int `env:"CAMO_PURGE_QUEUE_SIZE, default=64"`
	PurgeWorkers   int `env:"CAMO_PURGE_WORKERS, default=2"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=pageview"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

// LoadCamo reads only the camo settings, for tools that never touch the
// event store.
func LoadCamo(ctx context.Context) (CamoConfig, error) {
	return loadCamo(ctx, nil)
}

func loadCamo(ctx context.Context, lookup envconfig.Lookuper) (CamoConfig, error) {
	var cfg CamoConfig
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup,
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid camo configuration: %w", err)
	}

	return cfg, nil
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Camo.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid camo configuration: %w", err)
	}

	err = cfg.Observe.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid observe configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the camo configuration is usable.
func (c *CamoConfig) Validate() error {
	var errs []error

	if c.Freshness <= 0 {
		errs = append(errs, errors.New("CAMO_FRESHNESS must be positive"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("CAMO_HTTP_TIMEOUT must be positive"))
	}
	if c.PurgeTimeout <= 0 {
		errs = append(errs, errors.New("CAMO_PURGE_TIMEOUT must be positive"))
	}
	if c.PurgeQueueSize < 1 {
		errs = append(errs, errors.New("CAMO_PURGE_QUEUE_SIZE must be at least 1"))
	}
	if c.PurgeWorkers < 1 {
		errs = append(errs, errors.New("CAMO_PURGE_WORKERS must be at least 1"))
	}

	if c.ProfileURL != "" {
		u, err := url.Parse(c.ProfileURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("CAMO_PROFILE_URL must be an absolute http(s) URL: %q", c.ProfileURL))
		}
	}

	if rest, ok := strings.CutPrefix(c.CacheLocation, "s3://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			errs = append(errs, fmt.Errorf("CAMO_CACHE_LOCATION must name a bucket and key: %q", c.CacheLocation))
		}
	}

	return errors.Join(errs...)
}

// Validate checks that the telemetry exporter type is known.
func (c *ObserveConfig) Validate() error {
	if c.Enabled && c.Type != "grpc" && c.Type != "stdout" {
		return fmt.Errorf("OBSERVE_TYPE must be \"grpc\" or \"stdout\", got %q", c.Type)
	}
	return nil
}
