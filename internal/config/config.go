package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vango-dev/localstore/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "localstore.json"

	// DefaultBackend is the storage backend used when none is configured.
	DefaultBackend = BackendMemory

	// DefaultTimeout bounds each storage call.
	DefaultTimeout = "5s"

	// DefaultPort is the default port for `localstore serve`.
	DefaultPort = 7420

	// DefaultHost is the default host for `localstore serve`.
	DefaultHost = "localhost"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendS3     = "s3"
)

// Config represents the complete localstore.json configuration.
// Every field can be overridden by the LOCALSTORE_* variable in its env tag.
type Config struct {
	// Backend selects the storage backend.
	Backend string `json:"backend,omitempty" env:"LOCALSTORE_BACKEND"`

	// Timeout bounds each storage call (e.g., "5s").
	Timeout string `json:"timeout,omitempty" env:"LOCALSTORE_TIMEOUT"`

	// Tracing wraps the backend in OpenTelemetry spans.
	Tracing bool `json:"tracing,omitempty" env:"LOCALSTORE_TRACING"`

	// Redis contains Redis backend configuration.
	Redis RedisConfig `json:"redis,omitempty"`

	// SQL contains SQL backend configuration.
	SQL SQLConfig `json:"sql,omitempty"`

	// NATS contains NATS JetStream backend configuration.
	NATS NATSConfig `json:"nats,omitempty"`

	// S3 contains S3 backend configuration.
	S3 S3Config `json:"s3,omitempty"`

	// Relay contains relay client configuration.
	Relay RelayConfig `json:"relay,omitempty"`

	// Server contains `localstore serve` configuration.
	Server ServerConfig `json:"server,omitempty"`

	// Metrics contains Prometheus configuration.
	Metrics MetricsConfig `json:"metrics,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// RedisConfig contains Redis backend settings.
type RedisConfig struct {
	// Addr is the Redis address (host:port).
	Addr string `json:"addr,omitempty" env:"LOCALSTORE_REDIS_ADDR"`

	// Password is the Redis password.
	Password string `json:"password,omitempty" env:"LOCALSTORE_REDIS_PASSWORD"`

	// DB is the Redis database number.
	DB int `json:"db,omitempty" env:"LOCALSTORE_REDIS_DB"`

	// Prefix is prepended to every key (default: "localstore:").
	Prefix string `json:"prefix,omitempty" env:"LOCALSTORE_REDIS_PREFIX"`

	// Channel is the pub/sub channel for change messages.
	Channel string `json:"channel,omitempty" env:"LOCALSTORE_REDIS_CHANNEL"`
}

// SQLConfig contains SQL backend settings.
type SQLConfig struct {
	// Driver is the database/sql driver name (default: "sqlite").
	Driver string `json:"driver,omitempty" env:"LOCALSTORE_SQL_DRIVER"`

	// DSN is the data source name.
	DSN string `json:"dsn,omitempty" env:"LOCALSTORE_SQL_DSN"`

	// Table is the table name (default: "localstore_items").
	Table string `json:"table,omitempty" env:"LOCALSTORE_SQL_TABLE"`
}

// NATSConfig contains NATS JetStream backend settings.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string `json:"url,omitempty" env:"LOCALSTORE_NATS_URL"`

	// Bucket is the key-value bucket name (default: "localstore").
	Bucket string `json:"bucket,omitempty" env:"LOCALSTORE_NATS_BUCKET"`
}

// S3Config contains S3 backend settings.
type S3Config struct {
	// Bucket is the S3 bucket name.
	Bucket string `json:"bucket,omitempty" env:"LOCALSTORE_S3_BUCKET"`

	// Prefix is the object key prefix (default: "localstore/").
	Prefix string `json:"prefix,omitempty" env:"LOCALSTORE_S3_PREFIX"`

	// Region overrides the AWS region from the environment.
	Region string `json:"region,omitempty" env:"LOCALSTORE_S3_REGION"`
}

// RelayConfig contains relay client settings. When URL is set, backends
// without a native change signal announce writes through the relay.
type RelayConfig struct {
	// URL is the relay websocket URL (e.g., "ws://localhost:7420/relay").
	URL string `json:"url,omitempty" env:"LOCALSTORE_RELAY_URL"`
}

// ServerConfig contains `localstore serve` settings.
type ServerConfig struct {
	// Host is the host to bind to.
	Host string `json:"host,omitempty" env:"LOCALSTORE_SERVER_HOST"`

	// Port is the port to listen on.
	Port int `json:"port,omitempty" env:"LOCALSTORE_SERVER_PORT"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Enabled exposes /metrics from `localstore serve`.
	Enabled bool `json:"enabled,omitempty" env:"LOCALSTORE_METRICS_ENABLED"`

	// Namespace is the metrics namespace (default: "localstore").
	Namespace string `json:"namespace,omitempty" env:"LOCALSTORE_METRICS_NAMESPACE"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads configuration from the specified directory.
// It looks for localstore.json in the directory.
func Load(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ConfigFileName)
	return LoadFile(configPath)
}

// LoadFile reads configuration from the specified file path, then applies
// environment overrides and defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("E141").
				WithDetail("No localstore.json found in " + filepath.Dir(path)).
				WithSuggestion("Create localstore.json or run without --config to use defaults")
		}
		return nil, errors.New("E120").Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New("E120").
			WithLocation(path, 0, 0).
			WithDetail("Failed to parse localstore.json: " + err.Error()).
			WithSuggestion("Check that localstore.json is valid JSON")
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.configPath = path
	cfg.applyDefaults()

	return cfg, nil
}

// FromEnv builds a configuration from defaults and LOCALSTORE_* variables
// only.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// ApplyEnv overrides fields from LOCALSTORE_* environment variables. Unset
// variables leave fields untouched.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return errors.New("E122").
			WithDetail("Invalid LOCALSTORE_* environment variable").
			Wrap(err)
	}
	return nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("E120").Wrap(err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("E120").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = DefaultBackend
	}
	if c.Timeout == "" {
		c.Timeout = DefaultTimeout
	}

	// Redis
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "localstore:"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "localstore:changes"
	}

	// SQL
	if c.SQL.Driver == "" {
		c.SQL.Driver = "sqlite"
	}
	if c.SQL.DSN == "" && c.SQL.Driver == "sqlite" {
		c.SQL.DSN = "localstore.db"
	}
	if c.SQL.Table == "" {
		c.SQL.Table = "localstore_items"
	}

	// NATS
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = "localstore"
	}

	// S3
	if c.S3.Prefix == "" {
		c.S3.Prefix = "localstore/"
	}

	// Server
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}

	// Metrics
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "localstore"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQL, BackendRedis, BackendNATS:
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New("E122").
				WithDetail("s3.bucket is required for the s3 backend")
		}
	default:
		return errors.New("E121").
			WithDetail("Unknown backend " + strconv.Quote(c.Backend)).
			WithSuggestion("Use one of: memory, sql, redis, nats, s3")
	}

	if d, err := time.ParseDuration(c.Timeout); err != nil || d <= 0 {
		return errors.New("E122").
			WithDetail("timeout must be a positive duration like \"5s\", got " + strconv.Quote(c.Timeout))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New("E122").
			WithDetail("Port must be between 0 and 65535")
	}

	if c.Redis.DB < 0 {
		return errors.New("E122").
			WithDetail("redis.db must not be negative")
	}

	return nil
}

// TimeoutDuration returns the parsed storage timeout, or the default when
// it cannot be parsed.
func (c *Config) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultTimeout)
	}
	return d
}

// ServerAddress returns the listen address for `localstore serve`.
func (c *Config) ServerAddress() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}
