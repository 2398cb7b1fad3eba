package stream

import (
	"github.com/streamkit/mexc-stream/config"
)

// SessionConfigFrom maps file configuration onto a SessionConfig,
// filling anything unset with defaults.
func SessionConfigFrom(cfg *config.Config) SessionConfig {
	sc := DefaultSessionConfig()

	if cfg.API.WSURL != "" {
		sc.URL = cfg.API.WSURL
	}
	sc.UseBinaryProtocol = cfg.Stream.Binary()

	if cfg.Stream.ConnectTimeout > 0 {
		sc.ConnectTimeout = cfg.Stream.ConnectTimeout
	}
	if cfg.Stream.PingInterval > 0 {
		sc.PingInterval = cfg.Stream.PingInterval
	}
	if cfg.Stream.ReadTimeout > 0 {
		sc.ReadTimeout = cfg.Stream.ReadTimeout
	}
	if cfg.Stream.WriteTimeout > 0 {
		sc.WriteTimeout = cfg.Stream.WriteTimeout
	}
	if cfg.Stream.BufferSize > 0 {
		sc.BufferSize = cfg.Stream.BufferSize
	}
	if cfg.Stream.MaxSubscriptions > 0 {
		sc.MaxSubscriptions = cfg.Stream.MaxSubscriptions
	}
	if cfg.Stream.OverflowPolicy == "reject" {
		sc.OverflowPolicy = PolicyReject
	}
	if cfg.Stream.ReconnectBaseDelay > 0 {
		sc.ReconnectBaseDelay = cfg.Stream.ReconnectBaseDelay
	}
	if cfg.Stream.ReconnectMaxDelay > 0 {
		sc.ReconnectMaxDelay = cfg.Stream.ReconnectMaxDelay
	}

	if interval := cfg.KeepAlive.RefreshInterval(); interval > 0 {
		sc.KeepAliveInterval = interval
	}
	if cfg.KeepAlive.MaxRetries > 0 {
		sc.KeepAliveRetries = cfg.KeepAlive.MaxRetries
	}
	if cfg.KeepAlive.RetryBackoff > 0 {
		sc.KeepAliveBackoff = cfg.KeepAlive.RetryBackoff
	}

	return sc
}
