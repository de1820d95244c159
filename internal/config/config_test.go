package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-feed
  az: us-east-1a
broker:
  rest_url: https://api.broker.example/v1
  ws_url: wss://stream.broker.example/v1/md
venue:
  name: NASDAQ
  timezone: America/New_York
watchlist:
  symbols: [AAPL, MSFT]
  detail: quote+depth
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-feed" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-feed")
	}
	if cfg.Broker.RestURL != "https://api.broker.example/v1" {
		t.Errorf("Broker.RestURL = %q, want %q", cfg.Broker.RestURL, "https://api.broker.example/v1")
	}
	if cfg.Venue.Name != "NASDAQ" {
		t.Errorf("Venue.Name = %q, want NASDAQ", cfg.Venue.Name)
	}
	if len(cfg.Watchlist.Symbols) != 2 || cfg.Watchlist.Symbols[0] != "AAPL" {
		t.Errorf("Watchlist.Symbols = %v, want [AAPL MSFT]", cfg.Watchlist.Symbols)
	}
	if cfg.Watchlist.Detail != "quote+depth" {
		t.Errorf("Watchlist.Detail = %q, want quote+depth", cfg.Watchlist.Detail)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BROKER_KEY", "secret123")

	yaml := `
instance:
  id: test-feed
broker:
  rest_url: https://api.broker.example/v1
  ws_url: wss://stream.broker.example/v1/md
  api_key: ${TEST_BROKER_KEY}
venue:
  name: NASDAQ
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Broker.APIKey != "secret123" {
		t.Errorf("Broker.APIKey = %q, want %q", cfg.Broker.APIKey, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-feed
broker:
  rest_url: https://api.broker.example/v1
  ws_url: wss://stream.broker.example/v1/md
venue:
  name: NASDAQ
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Venue.Open != DefaultVenueOpen {
		t.Errorf("Venue.Open = %q, want default %q", cfg.Venue.Open, DefaultVenueOpen)
	}
	if cfg.Pull.BatchCap != DefaultBatchCap {
		t.Errorf("Pull.BatchCap = %d, want default %d", cfg.Pull.BatchCap, DefaultBatchCap)
	}
	if cfg.Pull.Debounce != DefaultDebounce {
		t.Errorf("Pull.Debounce = %v, want default %v", cfg.Pull.Debounce, DefaultDebounce)
	}
	if cfg.Delivery.SessionCheckInterval != DefaultSessionCheckInterval {
		t.Errorf("Delivery.SessionCheckInterval = %v, want default %v",
			cfg.Delivery.SessionCheckInterval, DefaultSessionCheckInterval)
	}
	if cfg.Push.EventBufferSize != DefaultEventBufferSize {
		t.Errorf("Push.EventBufferSize = %d, want default %d", cfg.Push.EventBufferSize, DefaultEventBufferSize)
	}
	if cfg.Database.Timeseries.Port != DefaultDBPort {
		t.Errorf("Database.Timeseries.Port = %d, want default %d", cfg.Database.Timeseries.Port, DefaultDBPort)
	}
	if cfg.Health.Port != DefaultHealthPort {
		t.Errorf("Health.Port = %d, want default %d", cfg.Health.Port, DefaultHealthPort)
	}
	if cfg.Watchlist.Detail != DefaultWatchlistDetail {
		t.Errorf("Watchlist.Detail = %q, want default %q", cfg.Watchlist.Detail, DefaultWatchlistDetail)
	}
}

func TestValidate(t *testing.T) {
	base := func() *FeedConfig {
		cfg := &FeedConfig{
			Instance: InstanceConfig{ID: "test-feed"},
			Broker: BrokerConfig{
				RestURL: "https://api.broker.example/v1",
				WSURL:   "wss://stream.broker.example/v1/md",
			},
			Venue: VenueConfig{Name: "NASDAQ"},
		}
		cfg.applyDefaults()
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*FeedConfig)
	}{
		{"missing instance id", func(c *FeedConfig) { c.Instance.ID = "" }},
		{"missing rest url", func(c *FeedConfig) { c.Broker.RestURL = "" }},
		{"missing ws url", func(c *FeedConfig) { c.Broker.WSURL = "" }},
		{"missing venue", func(c *FeedConfig) { c.Venue.Name = "" }},
		{"zero batch cap", func(c *FeedConfig) { c.Pull.BatchCap = 0 }},
		{"zero rate limit", func(c *FeedConfig) { c.Pull.RequestsPerSecond = 0 }},
		{"bad health port", func(c *FeedConfig) { c.Health.Port = 70000 }},
		{"bad watchlist detail", func(c *FeedConfig) { c.Watchlist.Detail = "everything" }},
		{"recorder without db host", func(c *FeedConfig) { c.Recorder.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestValidateRecorderWithDatabase(t *testing.T) {
	cfg := &FeedConfig{
		Instance: InstanceConfig{ID: "test-feed"},
		Broker: BrokerConfig{
			RestURL: "https://api.broker.example/v1",
			WSURL:   "wss://stream.broker.example/v1/md",
		},
		Venue:    VenueConfig{Name: "NASDAQ"},
		Recorder: RecorderConfig{Enabled: true},
		Database: DatabaseConfig{
			Timeseries: DBConfig{
				Host:     "localhost",
				Name:     "ticks",
				User:     "feed",
				Password: "secret",
			},
		},
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}
