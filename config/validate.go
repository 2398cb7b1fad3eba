package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all values are usable after defaults have been
// applied. Database fields are only validated when the recorder needs
// them; ValidateDatabase covers those.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.WSURL, "ws://") && !strings.HasPrefix(c.API.WSURL, "wss://") {
		return fmt.Errorf("api.ws_url must be a ws:// or wss:// URL, got %q", c.API.WSURL)
	}
	if (c.API.APIKey == "") != (c.API.SecretKey == "") {
		return errors.New("api.api_key and api.secret_key must be set together")
	}

	if c.Stream.MaxSubscriptions < 1 {
		return errors.New("stream.max_subscriptions must be >= 1")
	}
	switch c.Stream.OverflowPolicy {
	case "evict_oldest", "reject":
	default:
		return fmt.Errorf("stream.overflow_policy must be evict_oldest or reject, got %q", c.Stream.OverflowPolicy)
	}
	if c.Stream.BufferSize < 1 {
		return errors.New("stream.buffer_size must be >= 1")
	}
	if c.Stream.ReconnectBaseDelay > c.Stream.ReconnectMaxDelay {
		return errors.New("stream.reconnect_base_delay cannot exceed reconnect_max_delay")
	}

	if c.KeepAlive.RefreshMargin >= c.KeepAlive.TokenValidity {
		return errors.New("keepalive.refresh_margin must be smaller than token_validity")
	}
	if c.KeepAlive.MaxRetries < 1 {
		return errors.New("keepalive.max_retries must be >= 1")
	}

	if c.Recorder.BatchSize < 1 {
		return errors.New("recorder.batch_size must be >= 1")
	}
	if c.Recorder.BufferSize < 1 {
		return errors.New("recorder.buffer_size must be >= 1")
	}

	return nil
}

// ValidateDatabase checks the recorder's database connection settings.
func (c *Config) ValidateDatabase() error {
	db := c.Database
	if db.Host == "" {
		return errors.New("database.host is required")
	}
	if db.Name == "" {
		return errors.New("database.name is required")
	}
	if db.User == "" {
		return errors.New("database.user is required")
	}
	if db.Password == "" {
		return errors.New("database.password is required")
	}
	if db.MaxConns < 1 {
		return errors.New("database.max_conns must be >= 1")
	}
	if db.MinConns < 0 {
		return errors.New("database.min_conns must be >= 0")
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("database.min_conns (%d) cannot exceed max_conns (%d)", db.MinConns, db.MaxConns)
	}
	return nil
}
