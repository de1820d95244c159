// Package config loads and validates the feed engine configuration from a
// YAML file, with ${VAR} environment substitution for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FeedConfig is the root configuration for a feed instance.
type FeedConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Broker    BrokerConfig    `yaml:"broker"`
	Venue     VenueConfig     `yaml:"venue"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Pull      PullConfig      `yaml:"pull"`
	Push      PushConfig      `yaml:"push"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Database  DatabaseConfig  `yaml:"database"`
	Health    HealthConfig    `yaml:"health"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
}

// InstanceConfig identifies this feed instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
	AZ string `yaml:"az"`
}

// BrokerConfig holds broker endpoints and credentials.
type BrokerConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// VenueConfig describes the traded venue: session hours and the wire-symbol
// mapping rules.
type VenueConfig struct {
	Name         string   `yaml:"name"`
	Timezone     string   `yaml:"timezone"`
	Open         string   `yaml:"open"`
	Close        string   `yaml:"close"`
	Holidays     []string `yaml:"holidays"`
	SymbolPrefix string   `yaml:"symbol_prefix"`
	SymbolSuffix string   `yaml:"symbol_suffix"`
}

// DeliveryConfig tunes the mode controller.
type DeliveryConfig struct {
	SessionCheckInterval time.Duration `yaml:"session_check_interval"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	CallTimeout          time.Duration `yaml:"call_timeout"`
}

// PullConfig tunes the batch fetch scheduler.
type PullConfig struct {
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	Debounce          time.Duration `yaml:"debounce"`
	BatchCap          int           `yaml:"batch_cap"`
	ChunkDelay        time.Duration `yaml:"chunk_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	RateLimitBackoff  time.Duration `yaml:"rate_limit_backoff"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
}

// PushConfig tunes the streaming channel.
type PushConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	EventBufferSize  int           `yaml:"event_buffer_size"`
}

// RecorderConfig tunes the optional tick recorder.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DatabaseConfig holds tick-store connection settings.
type DatabaseConfig struct {
	Timeseries DBConfig `yaml:"timeseries"`
}

// DBConfig holds one PostgreSQL connection's settings.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// WatchlistConfig lists symbols subscribed at startup.
type WatchlistConfig struct {
	Symbols []string `yaml:"symbols"`
	Detail  string   `yaml:"detail"`
}

// Load reads and parses a config file. ${VAR} references are expanded from
// the environment before parsing.
func Load(path string) (*FeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg FeedConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads a config file and fills unset fields with defaults.
func LoadWithDefaults(path string) (*FeedConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads a config file, applies defaults, and validates it.
func LoadAndValidate(path string) (*FeedConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
