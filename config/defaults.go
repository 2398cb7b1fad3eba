package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL = "https://api.mexc.com"
	DefaultWSURL   = "wss://wbs-api.mexc.com/ws"

	DefaultAPITimeout = 30 * time.Second
	DefaultMaxRetries = 3

	DefaultConnectTimeout     = 10 * time.Second
	DefaultPingInterval       = 20 * time.Second
	DefaultReadTimeout        = 60 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultBufferSize         = 1000
	DefaultMaxSubscriptions   = 30 // exchange limit per connection
	DefaultOverflowPolicy     = "evict_oldest"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second

	DefaultTokenValidity       = 60 * time.Minute
	DefaultRefreshMargin       = 1 * time.Minute
	DefaultKeepAliveMaxRetries = 3
	DefaultKeepAliveBackoff    = 1 * time.Second

	DefaultBatchSize      = 500
	DefaultFlushInterval  = 1 * time.Second
	DefaultRecorderBuffer = 10000

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Stream defaults
	if c.Stream.ConnectTimeout == 0 {
		c.Stream.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.ReadTimeout == 0 {
		c.Stream.ReadTimeout = DefaultReadTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultBufferSize
	}
	if c.Stream.MaxSubscriptions == 0 {
		c.Stream.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if c.Stream.OverflowPolicy == "" {
		c.Stream.OverflowPolicy = DefaultOverflowPolicy
	}
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}

	// Keep-alive defaults
	if c.KeepAlive.TokenValidity == 0 {
		c.KeepAlive.TokenValidity = DefaultTokenValidity
	}
	if c.KeepAlive.RefreshMargin == 0 {
		c.KeepAlive.RefreshMargin = DefaultRefreshMargin
	}
	if c.KeepAlive.MaxRetries == 0 {
		c.KeepAlive.MaxRetries = DefaultKeepAliveMaxRetries
	}
	if c.KeepAlive.RetryBackoff == 0 {
		c.KeepAlive.RetryBackoff = DefaultKeepAliveBackoff
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultRecorderBuffer
	}

	// Database defaults
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}
}
