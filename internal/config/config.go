package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"tap-newrelic/internal/stream"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// APIKeyEnv is read when no API key is given in the file or on the command line.
const APIKeyEnv = "TAP_NEWRELIC_API_KEY"

// Config represents the application configuration
type Config struct {
	APIKey       string     `yaml:"api_key"`
	APIURL       string     `yaml:"api_url"`
	AccountID    int64      `yaml:"account_id"`
	StartDate    string     `yaml:"start_date"`
	Streams      []string   `yaml:"streams"`
	LogLevel     string     `yaml:"log_level"`
	Concurrency  int        `yaml:"concurrency"`
	ShowProgress bool       `yaml:"show_progress"`
	DryRun       bool       `yaml:"dry_run"`
	Checkpoint   Checkpoint `yaml:"checkpoint"`
	HTTP         HTTP       `yaml:"http"`
	Sink         Sink       `yaml:"sink"`
	Metrics      Metrics    `yaml:"metrics"`
}

// Checkpoint selects where stream watermarks are persisted
type Checkpoint struct {
	Backend string `yaml:"backend"` // sqlite or state
	Path    string `yaml:"path"`
}

// HTTP configures the NerdGraph client
type HTTP struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	Retries        int `yaml:"retries"`
	RetryBackoffMs int `yaml:"retry_backoff_ms"`
}

// Sink selects where records are written
type Sink struct {
	Type string   `yaml:"type"` // singer or s3
	S3   S3Config `yaml:"s3"`
}

// S3Config represents S3-compatible storage configuration
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Secure    bool   `yaml:"secure"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// Metrics configures the Prometheus endpoint; an empty address disables it
type Metrics struct {
	Addr string `yaml:"addr"`
}

const (
	BackendSQLite = "sqlite"
	BackendState  = "state"

	SinkSinger = "singer"
	SinkS3     = "s3"
)

// Load loads configuration from file and command line flags.
// JSON tap configs load too, since YAML is a superset of JSON.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		APIURL:       "https://api.newrelic.com/graphql",
		LogLevel:     "info",
		Concurrency:  1,
		ShowProgress: true,
		Checkpoint: Checkpoint{
			Backend: BackendSQLite,
			Path:    "./checkpoint.db",
		},
		HTTP: HTTP{
			TimeoutSeconds: 60,
			Retries:        5,
			RetryBackoffMs: 500,
		},
		Sink: Sink{Type: SinkSinger},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(APIKeyEnv)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error

	if flags.Changed("api-key") {
		cfg.APIKey, _ = flags.GetString("api-key")
	}
	if flags.Changed("api-url") {
		cfg.APIURL, _ = flags.GetString("api-url")
	}
	if flags.Changed("account-id") {
		if cfg.AccountID, err = flags.GetInt64("account-id"); err != nil {
			return err
		}
	}
	if flags.Changed("start-date") {
		cfg.StartDate, _ = flags.GetString("start-date")
	}
	if flags.Changed("stream") {
		if cfg.Streams, err = flags.GetStringSlice("stream"); err != nil {
			return err
		}
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("show-progress") {
		cfg.ShowProgress, _ = flags.GetBool("show-progress")
	}
	if flags.Changed("dry-run") {
		cfg.DryRun, _ = flags.GetBool("dry-run")
	}

	if flags.Changed("checkpoint") {
		cfg.Checkpoint.Path, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("checkpoint-backend") {
		cfg.Checkpoint.Backend, _ = flags.GetString("checkpoint-backend")
	}
	// --state is the Singer way to pass bookmarks
	if flags.Changed("state") {
		cfg.Checkpoint.Backend = BackendState
		cfg.Checkpoint.Path, _ = flags.GetString("state")
	}

	if flags.Changed("timeout-seconds") {
		cfg.HTTP.TimeoutSeconds, _ = flags.GetInt("timeout-seconds")
	}
	if flags.Changed("retries") {
		cfg.HTTP.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.HTTP.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}

	if flags.Changed("sink") {
		cfg.Sink.Type, _ = flags.GetString("sink")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}

	return nil
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required (set api_key or %s)", APIKeyEnv)
	}
	if c.APIURL == "" {
		return fmt.Errorf("api url is required")
	}
	if c.AccountID <= 0 {
		return fmt.Errorf("account id must be positive")
	}
	if c.StartDate == "" {
		return fmt.Errorf("start date is required")
	}
	if _, err := c.StartTimestamp(); err != nil {
		return err
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http timeout must be positive")
	}
	if c.HTTP.Retries <= 0 {
		return fmt.Errorf("retries must be positive")
	}
	if c.HTTP.RetryBackoffMs < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}

	switch c.Checkpoint.Backend {
	case BackendSQLite, BackendState:
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Path == "" {
		return fmt.Errorf("checkpoint path is required")
	}

	switch c.Sink.Type {
	case SinkSinger:
	case SinkS3:
		if c.Sink.S3.Endpoint == "" {
			return fmt.Errorf("s3 sink endpoint is required")
		}
		if c.Sink.S3.Bucket == "" {
			return fmt.Errorf("s3 sink bucket is required")
		}
	default:
		return fmt.Errorf("unknown sink type %q", c.Sink.Type)
	}

	return nil
}

// StartTimestamp parses start_date, accepting RFC3339 or a bare date.
func (c *Config) StartTimestamp() (stream.Timestamp, error) {
	ts, err := stream.ParseTimestamp(strings.TrimSpace(c.StartDate))
	if err != nil {
		return stream.Timestamp{}, fmt.Errorf("invalid start date %q: %w", c.StartDate, err)
	}
	return ts, nil
}

// Timeout returns the per-request HTTP timeout.
func (h HTTP) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the initial retry backoff.
func (h HTTP) RetryBackoff() time.Duration {
	return time.Duration(h.RetryBackoffMs) * time.Millisecond
}
