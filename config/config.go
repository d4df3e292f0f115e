// Package config loads readcached settings from READCACHE_* environment
// variables.
//
// Credential-bearing values may hold secret references, resolved after
// parsing through the secret package:
//
//	READCACHE_DATABASE_URL=secretref:file:/run/secrets/readcache_dsn
//	READCACHE_REST_API_KEY=secretref:env:ANON_KEY
package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jonwraymond/readcache/observe"
	"github.com/jonwraymond/readcache/secret"
)

// Remote source kinds.
const (
	SourcePostgres = "postgres"
	SourceREST     = "rest"
	SourceNone     = "none"
)

// Invalidation feed kinds.
const (
	FeedPGNotify  = "pgnotify"
	FeedWebsocket = "websocket"
	FeedNone      = "none"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the daemon configuration.
type Config struct {
	ServiceName     string        `env:"READCACHE_SERVICE_NAME"     envDefault:"readcached"`
	ListenAddr      string        `env:"READCACHE_LISTEN_ADDR"      envDefault:":8088"`
	ShutdownTimeout time.Duration `env:"READCACHE_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Storage
	StoragePath   string        `env:"READCACHE_STORAGE_PATH"      envDefault:"readcache.db"`
	MaxPages      int           `env:"READCACHE_STORAGE_MAX_PAGES"`
	MaxEntryBytes int64         `env:"READCACHE_MAX_ENTRY_BYTES"`
	MaxTotalBytes int64         `env:"READCACHE_MAX_TOTAL_BYTES"`
	SweepInterval time.Duration `env:"READCACHE_SWEEP_INTERVAL"    envDefault:"5m"`

	// Remote freshness source
	Source      string `env:"READCACHE_SOURCE"       envDefault:"postgres"`
	DatabaseURL string `env:"READCACHE_DATABASE_URL"`
	RESTURL     string `env:"READCACHE_REST_URL"`
	RESTAPIKey  string `env:"READCACHE_REST_API_KEY"`

	// Invalidation feed
	Feed          string `env:"READCACHE_FEED"           envDefault:"pgnotify"`
	NotifyChannel string `env:"READCACHE_NOTIFY_CHANNEL" envDefault:"readcache_invalidation"`
	FeedURL       string `env:"READCACHE_FEED_URL"`

	// Identity
	JWTSecret      string   `env:"READCACHE_JWT_SECRET"`
	JWTIssuer      string   `env:"READCACHE_JWT_ISSUER"`
	JWTAudience    string   `env:"READCACHE_JWT_AUDIENCE"    envDefault:"authenticated"`
	OperatorKeys   []string `env:"READCACHE_OPERATOR_KEYS"   envSeparator:","`
	AllowAnonymous bool     `env:"READCACHE_ALLOW_ANONYMOUS" envDefault:"true"`

	// Telemetry
	LogLevel        string  `env:"READCACHE_LOG_LEVEL"        envDefault:"info"`
	TracingExporter string  `env:"READCACHE_TRACING_EXPORTER" envDefault:"none"`
	TraceSamplePct  float64 `env:"READCACHE_TRACE_SAMPLE_PCT" envDefault:"0.1"`
	MetricsExporter string  `env:"READCACHE_METRICS_EXPORTER" envDefault:"none"`
}

// Load parses the process environment, resolves secret references and
// validates the result.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, env.Options{})
}

// LoadFrom is Load over an explicit environment instead of the process's.
func LoadFrom(ctx context.Context, environ map[string]string) (*Config, error) {
	return load(ctx, env.Options{Environment: environ})
}

func load(ctx context.Context, opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	resolver, err := secret.NewDefaultResolver()
	if err != nil {
		return nil, err
	}
	defer resolver.Close()
	if err := cfg.resolveSecrets(ctx, resolver); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveSecrets(ctx context.Context, r *secret.Resolver) error {
	fields := map[string]*string{
		"READCACHE_DATABASE_URL": &c.DatabaseURL,
		"READCACHE_REST_API_KEY": &c.RESTAPIKey,
		"READCACHE_JWT_SECRET":   &c.JWTSecret,
	}
	for name, field := range fields {
		if *field == "" {
			continue
		}
		v, err := r.ResolveValue(ctx, *field)
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		*field = v
	}
	for i, key := range c.OperatorKeys {
		v, err := r.ResolveValue(ctx, key)
		if err != nil {
			return fmt.Errorf("config: READCACHE_OPERATOR_KEYS[%d]: %w", i, err)
		}
		c.OperatorKeys[i] = v
	}
	return nil
}

// Validate checks that the chosen source and feed have what they need.
func (c *Config) Validate() error {
	var errs []error

	switch c.Source {
	case SourcePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("READCACHE_DATABASE_URL is required for the postgres source"))
		}
	case SourceREST:
		if c.RESTURL == "" {
			errs = append(errs, errors.New("READCACHE_REST_URL is required for the rest source"))
		}
	case SourceNone:
	default:
		errs = append(errs, fmt.Errorf("unknown READCACHE_SOURCE %q", c.Source))
	}

	switch c.Feed {
	case FeedPGNotify:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("READCACHE_DATABASE_URL is required for the pgnotify feed"))
		}
	case FeedWebsocket:
		if c.FeedURL == "" {
			errs = append(errs, errors.New("READCACHE_FEED_URL is required for the websocket feed"))
		}
	case FeedNone:
	default:
		errs = append(errs, fmt.Errorf("unknown READCACHE_FEED %q", c.Feed))
	}

	if c.StoragePath == "" {
		errs = append(errs, errors.New("READCACHE_STORAGE_PATH is required"))
	}
	if c.MaxEntryBytes < 0 || c.MaxTotalBytes < 0 {
		errs = append(errs, errors.New("size limits must not be negative"))
	}
	if c.MaxEntryBytes > 0 && c.MaxTotalBytes > 0 && c.MaxEntryBytes > c.MaxTotalBytes {
		errs = append(errs, errors.New("READCACHE_MAX_ENTRY_BYTES exceeds READCACHE_MAX_TOTAL_BYTES"))
	}
	if slices.Contains(c.OperatorKeys, "") {
		errs = append(errs, errors.New("READCACHE_OPERATOR_KEYS contains an empty key"))
	}

	obs := c.Observe("")
	if err := obs.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Observe returns the telemetry configuration.
func (c *Config) Observe(version string) observe.Config {
	return observe.Config{
		ServiceName: c.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   c.TracingExporter != "none",
			Exporter:  c.TracingExporter,
			SamplePct: c.TraceSamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.MetricsExporter != "none",
			Exporter: c.MetricsExporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.LogLevel,
		},
	}
}
