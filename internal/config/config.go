// Package config loads and validates the broker's configuration. It follows
// the teacher repo's internal/config shape (viper-backed YAML + env
// overlay, a Load/Validate pair) but departs from it in one respect the
// spec demands: safety-relevant options get NO defaults. Startup fails
// loudly if they are unset rather than silently picking a value.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store configures the Redis connection backing all durable state.
type Store struct {
	URL                string        `mapstructure:"url"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	DB                 int           `mapstructure:"db"`
	PoolSizeMultiplier int           `mapstructure:"pool_size_multiplier"`
	MinIdleConns       int           `mapstructure:"min_idle_conns"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRetries         int           `mapstructure:"max_retries"`
}

// Hub configures the connection hub's listener and liveness policy.
type Hub struct {
	ListenAddress     string        `mapstructure:"listen_address"`
	AuthToken         string        `mapstructure:"auth_token"`
	MaxConnections    int           `mapstructure:"max_connections"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`

	// SendRatePerSecond and SendBurst bound how fast the hub pushes frames
	// to a single connection, protecting it from a burst of progress/event
	// traffic overwhelming a slow client. Zero means unlimited.
	SendRatePerSecond float64 `mapstructure:"send_rate_per_second"`
	SendBurst         int     `mapstructure:"send_burst"`

	// HTTPRatePerSecond and HTTPBurst bound the HTTP upgrade endpoint
	// itself (pre-websocket), per client IP.
	HTTPRatePerSecond float64 `mapstructure:"http_rate_per_second"`
	HTTPBurst         int     `mapstructure:"http_burst"`

	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
}

// Matcher configures the atomic claim routine's scan policy.
type Matcher struct {
	MaxScan int `mapstructure:"max_scan"`
}

// Recovery configures the periodic orphan/stuck-job sweep.
type Recovery struct {
	Interval    time.Duration `mapstructure:"interval"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// Archive configures archival of completed/failed jobs.
type Archive struct {
	OlderThan time.Duration   `mapstructure:"older_than"`
	Dir       string          `mapstructure:"dir"`
	S3        ArchiveS3       `mapstructure:"s3"`
	Postgres  ArchivePostgres `mapstructure:"postgres"`
}

// ArchiveS3 optionally mirrors archived partitions to S3, grounded on the
// teacher's internal/long-term-archives S3 exporter.
type ArchiveS3 struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// ArchivePostgres optionally mirrors archived records into a Postgres
// table, grounded on the teacher's storage-backends family listing
// lib/pq as a supported sink.
type ArchivePostgres struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// EventSink optionally mirrors the durable events stream to NATS JetStream,
// grounded on the teacher's internal/event-hooks NATS publisher, adapted
// from a webhook-subscription delivery target to a single secondary fan-out
// target for the events stream.
type EventSink struct {
	NATSEnabled bool   `mapstructure:"nats_enabled"`
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
}

// CircuitBreaker tunes the breaker guarding Redis calls on the hub's claim
// path, reused from the teacher's internal/breaker.
type CircuitBreaker struct {
	FailureThreshold float64       `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	CooldownPeriod   time.Duration `mapstructure:"cooldown_period"`
	MinSamples       int           `mapstructure:"min_samples"`
}

// Tracing configures OpenTelemetry export, mirroring the teacher's
// internal/obs/tracing.go TracingConfig shape.
type Tracing struct {
	Enabled          bool              `mapstructure:"enabled"`
	Endpoint         string            `mapstructure:"endpoint"`
	Environment      string            `mapstructure:"environment"`
	SamplingStrategy string            `mapstructure:"sampling_strategy"`
	SamplingRate     float64           `mapstructure:"sampling_rate"`
	BatchTimeout     time.Duration     `mapstructure:"batch_timeout"`
	Headers          map[string]string `mapstructure:"headers"`
	Insecure         bool              `mapstructure:"insecure"`
}

// Observability configures logging, metrics, and tracing. None of these are
// safety-relevant, so sane defaults are permitted here.
type Observability struct {
	MetricsPort         int           `mapstructure:"metrics_port"`
	LogLevel            string        `mapstructure:"log_level"`
	Tracing             Tracing       `mapstructure:"tracing"`
	QueueSampleInterval time.Duration `mapstructure:"queue_sample_interval"`
}

// Config is the broker's full configuration tree.
type Config struct {
	Store          Store          `mapstructure:"store"`
	Hub            Hub            `mapstructure:"hub"`
	Matcher        Matcher        `mapstructure:"matcher"`
	Recovery       Recovery       `mapstructure:"recovery"`
	Archive        Archive        `mapstructure:"archive"`
	EventSink      EventSink      `mapstructure:"event_sink"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	Observability  Observability  `mapstructure:"observability"`
}

// Load reads configuration from a YAML file (if present) overlaid with
// environment variables, then validates it. Unlike the teacher's Load, it
// sets NO defaults for safety-relevant fields — Validate rejects a zero
// value for any of them, and Load itself rejects an unset matcher.max_scan
// (for which zero is a legal, explicit value).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Non-safety ergonomics only.
	v.SetDefault("observability.metrics_port", 9090)
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.queue_sample_interval", 2*time.Second)
	v.SetDefault("circuit_breaker.failure_threshold", 0.5)
	v.SetDefault("circuit_breaker.window", time.Minute)
	v.SetDefault("circuit_breaker.cooldown_period", 30*time.Second)
	v.SetDefault("circuit_breaker.min_samples", 20)
	v.SetDefault("store.pool_size_multiplier", 10)
	v.SetDefault("store.min_idle_conns", 5)
	v.SetDefault("store.dial_timeout", 5*time.Second)
	v.SetDefault("store.read_timeout", 3*time.Second)
	v.SetDefault("store.write_timeout", 3*time.Second)
	v.SetDefault("store.max_retries", 3)

	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if !v.IsSet("matcher.max_scan") {
		return nil, fmt.Errorf("matcher.max_scan is required")
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces that every safety-relevant option is explicitly set and
// that relational constraints between options hold. It fails loudly per
// spec §6.3: "Unset values MUST cause startup to fail loudly; defaults for
// safety-relevant options are forbidden."
func Validate(cfg *Config) error {
	if cfg.Store.URL == "" {
		return fmt.Errorf("store.url is required")
	}
	if cfg.Hub.ListenAddress == "" {
		return fmt.Errorf("hub.listen_address is required")
	}
	if cfg.Hub.MaxConnections <= 0 {
		return fmt.Errorf("hub.max_connections must be set and > 0")
	}
	if cfg.Hub.HeartbeatInterval <= 0 {
		return fmt.Errorf("hub.heartbeat_interval must be set and > 0")
	}
	if cfg.Hub.ConnectionTimeout <= 0 {
		return fmt.Errorf("hub.connection_timeout must be set and > 0")
	}
	if cfg.Hub.ConnectionTimeout <= cfg.Hub.HeartbeatInterval {
		return fmt.Errorf("hub.connection_timeout must exceed hub.heartbeat_interval")
	}
	if cfg.Recovery.Interval <= 0 {
		return fmt.Errorf("recovery.interval must be set and > 0")
	}
	if cfg.Recovery.GracePeriod <= 0 {
		return fmt.Errorf("recovery.grace_period must be set and > 0")
	}
	if cfg.Matcher.MaxScan < 0 {
		return fmt.Errorf("matcher.max_scan must be >= 0")
	}
	if cfg.Archive.OlderThan <= 0 {
		return fmt.Errorf("archive.older_than must be set and > 0")
	}
	if cfg.Archive.Dir == "" {
		return fmt.Errorf("archive.dir is required")
	}
	if cfg.Observability.MetricsPort <= 0 || cfg.Observability.MetricsPort > 65535 {
		return fmt.Errorf("observability.metrics_port must be 1..65535")
	}
	if cfg.EventSink.NATSEnabled && cfg.EventSink.NATSURL == "" {
		return fmt.Errorf("event_sink.nats_url is required when event_sink.nats_enabled is true")
	}
	return nil
}
