package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBrokerTimeout        = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultVenueTimezone        = "America/New_York"
	DefaultVenueOpen            = "09:30"
	DefaultVenueClose           = "16:00"
	DefaultSessionCheckInterval = 5 * time.Minute
	DefaultConnectTimeout       = 15 * time.Second
	DefaultCallTimeout          = 10 * time.Second
	DefaultRefreshInterval      = 10 * time.Second
	DefaultDebounce             = 200 * time.Millisecond
	DefaultBatchCap             = 50
	DefaultChunkDelay           = 500 * time.Millisecond
	DefaultRequestsPerSecond    = 2.0
	DefaultRateLimitBackoff     = 5 * time.Second
	DefaultFetchTimeout         = 10 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultSubscribeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultPingInterval         = 15 * time.Second
	DefaultPingTimeout          = 60 * time.Second
	DefaultEventBufferSize      = 10000
	DefaultBatchSize            = 1000
	DefaultFlushInterval        = 1 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultHealthPort           = 8080
	DefaultWatchlistDetail      = "quote"
)

func (c *FeedConfig) applyDefaults() {
	// Broker defaults
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = DefaultBrokerTimeout
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = DefaultMaxRetries
	}

	// Venue defaults
	if c.Venue.Timezone == "" {
		c.Venue.Timezone = DefaultVenueTimezone
	}
	if c.Venue.Open == "" {
		c.Venue.Open = DefaultVenueOpen
	}
	if c.Venue.Close == "" {
		c.Venue.Close = DefaultVenueClose
	}

	// Delivery defaults
	if c.Delivery.SessionCheckInterval == 0 {
		c.Delivery.SessionCheckInterval = DefaultSessionCheckInterval
	}
	if c.Delivery.ConnectTimeout == 0 {
		c.Delivery.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Delivery.CallTimeout == 0 {
		c.Delivery.CallTimeout = DefaultCallTimeout
	}

	// Pull defaults
	if c.Pull.RefreshInterval == 0 {
		c.Pull.RefreshInterval = DefaultRefreshInterval
	}
	if c.Pull.Debounce == 0 {
		c.Pull.Debounce = DefaultDebounce
	}
	if c.Pull.BatchCap == 0 {
		c.Pull.BatchCap = DefaultBatchCap
	}
	if c.Pull.ChunkDelay == 0 {
		c.Pull.ChunkDelay = DefaultChunkDelay
	}
	if c.Pull.RequestsPerSecond == 0 {
		c.Pull.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Pull.RateLimitBackoff == 0 {
		c.Pull.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if c.Pull.FetchTimeout == 0 {
		c.Pull.FetchTimeout = DefaultFetchTimeout
	}

	// Push defaults
	if c.Push.HandshakeTimeout == 0 {
		c.Push.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Push.SubscribeTimeout == 0 {
		c.Push.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.Push.WriteTimeout == 0 {
		c.Push.WriteTimeout = DefaultWriteTimeout
	}
	if c.Push.PingInterval == 0 {
		c.Push.PingInterval = DefaultPingInterval
	}
	if c.Push.PingTimeout == 0 {
		c.Push.PingTimeout = DefaultPingTimeout
	}
	if c.Push.EventBufferSize == 0 {
		c.Push.EventBufferSize = DefaultEventBufferSize
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timeseries)

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}

	// Watchlist defaults
	if c.Watchlist.Detail == "" {
		c.Watchlist.Detail = DefaultWatchlistDetail
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
