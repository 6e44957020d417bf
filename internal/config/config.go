package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Log       LogConfig        `yaml:"log"`
	Store     StoreConfig      `yaml:"store"`
	Lifecycle LifecycleConfig  `yaml:"lifecycle"`
	Quotes    QuotesConfig     `yaml:"quotes"`
	Fanout    FanoutConfig     `yaml:"fanout"`
	Webhooks  WebhooksConfig   `yaml:"webhooks"`
	Endpoints []EndpointConfig `yaml:"endpoints" validate:"dive"`
	Kafka     KafkaConfig      `yaml:"kafka"`
	Redis     RedisConfig      `yaml:"redis"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port            string        `yaml:"port" default:"8080"`
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Mode            string        `yaml:"mode" default:"release" validate:"oneof=debug release test"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" default:"65536" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", s.Host, strings.TrimPrefix(s.Port, ":"))
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" default:"sqlite" validate:"eq=sqlite"`
	DSN    string `yaml:"dsn" default:"signal-relay.db" validate:"required"`
}

// LogConfig controls the zerolog output
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

// StoreConfig bounds the in-memory signal window
type StoreConfig struct {
	Capacity int  `yaml:"capacity" default:"100" validate:"gt=0"`
	WarmLoad bool `yaml:"warm_load" default:"true"`
}

// LifecycleConfig configures the periodic evaluator
type LifecycleConfig struct {
	Interval   time.Duration `yaml:"interval" default:"1h" validate:"gt=0"`
	Workers    int           `yaml:"workers" default:"8" validate:"gt=0"`
	RunOnStart bool          `yaml:"run_on_start" default:"false"`
	LockTTL    time.Duration `yaml:"lock_ttl" default:"10m"`
}

// QuotesConfig configures the price fallback chain
type QuotesConfig struct {
	Timeout              time.Duration  `yaml:"timeout" default:"5s" validate:"gt=0"`
	FailureWarnThreshold int            `yaml:"failure_warn_threshold" default:"3" validate:"gt=0"`
	Retries              int            `yaml:"retries" default:"1" validate:"gte=0,lte=5"`
	RetryDelay           time.Duration  `yaml:"retry_delay" default:"250ms"`
	Finnhub              ProviderConfig `yaml:"finnhub"`
	Binance              ProviderConfig `yaml:"binance"`
	Simulated            SimConfig      `yaml:"simulated"`
}

// ProviderConfig represents a single upstream price source
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// SimConfig controls the deterministic last-resort price source
type SimConfig struct {
	Enabled bool    `yaml:"enabled" default:"true"`
	Spread  float64 `yaml:"spread" default:"0.02" validate:"gte=0,lt=1"`
}

// FanoutConfig configures websocket delivery
type FanoutConfig struct {
	SnapshotSize      int           `yaml:"snapshot_size" default:"50" validate:"gte=0"`
	PingInterval      time.Duration `yaml:"ping_interval" default:"30s" validate:"gt=0"`
	WriteTimeout      time.Duration `yaml:"write_timeout" default:"10s" validate:"gt=0"`
	SendBuffer        int           `yaml:"send_buffer" default:"64" validate:"gt=0"`
	FallbackBroadcast bool          `yaml:"fallback_broadcast" default:"false"`
}

// WebhooksConfig configures inbound webhook routing
type WebhooksConfig struct {
	// ProviderPaths maps an opaque path segment to a provider name.
	ProviderPaths   map[string]string `yaml:"provider_paths"`
	MinPrefixLength int               `yaml:"min_prefix_length" default:"8" validate:"gte=4"`
	SeedFile        string            `yaml:"seed_file" default:"webhooks.yaml"`
}

// EndpointConfig represents a downstream endpoint configuration
type EndpointConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Type     string `yaml:"type" validate:"oneof=telegram wechat dingtalk webhook"`
	URL      string `yaml:"url"`
	Token    string `yaml:"token,omitempty"`
	ChatID   string `yaml:"chat_id,omitempty"`
	IsActive bool   `yaml:"is_active" default:"true"`
}

// KafkaConfig configures the event stream sink
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" default:"false"`
	Brokers []string `yaml:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `yaml:"topic" default:"signal-events"`
}

// RedisConfig configures the cross-instance evaluator lock
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" default:"false"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" default:"0"`
	Prefix   string `yaml:"prefix" default:"signal-relay"`
}

// UnmarshalYAML applies field defaults before decoding so omitted keys keep them
func (e *EndpointConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain EndpointConfig
	var p plain
	if err := defaults.Set(&p); err != nil {
		return err
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*e = EndpointConfig(p)
	return nil
}

var validate = validator.New()

// Default returns a configuration populated from struct defaults only
func Default() *Config {
	var cfg Config
	_ = defaults.Set(&cfg)
	return &cfg
}

// LoadConfig loads configuration from a YAML file. A missing file yields defaults.
func LoadConfig(filename string) (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	data, err := os.ReadFile(filename)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithEnv loads config from YAML and overrides it with environment variables.
// A .env file in the working directory is read first when present.
func LoadWithEnv(filename string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := LoadConfig(filename)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SIGNAL_RELAY_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("SIGNAL_RELAY_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SIGNAL_RELAY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SIGNAL_RELAY_STORE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SIGNAL_RELAY_STORE_CAPACITY: %w", err)
		}
		cfg.Store.Capacity = n
	}
	if v := os.Getenv("SIGNAL_RELAY_LIFECYCLE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SIGNAL_RELAY_LIFECYCLE_INTERVAL: %w", err)
		}
		cfg.Lifecycle.Interval = d
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Quotes.Finnhub.APIKey = v
		cfg.Quotes.Finnhub.Enabled = true
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct-tag constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// WriteDefaults writes a default config and an empty webhook seed for any of
// the two files that does not exist yet, returning the paths written
func WriteDefaults(configFile, seedFile string) ([]string, error) {
	var written []string
	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		if err := SaveConfig(Default(), configFile); err != nil {
			return written, err
		}
		written = append(written, configFile)
	}
	if _, err := os.Stat(seedFile); errors.Is(err, os.ErrNotExist) {
		if err := SaveWebhookSeed(&WebhookSeed{Webhooks: []WebhookEntry{}}, seedFile); err != nil {
			return written, err
		}
		written = append(written, seedFile)
	}
	return written, nil
}
