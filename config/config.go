package config

import "time"

// Config is the root configuration for the streaming client and the
// optional recorder pipeline.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Stream    StreamConfig    `yaml:"stream"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Database  DBConfig        `yaml:"database"`
}

// APIConfig holds MEXC endpoint and credential settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	APIKey     string        `yaml:"api_key"`
	SecretKey  string        `yaml:"secret_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// StreamConfig holds WebSocket session settings.
type StreamConfig struct {
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
	MaxSubscriptions   int           `yaml:"max_subscriptions"`
	OverflowPolicy     string        `yaml:"overflow_policy"` // "evict_oldest" or "reject"
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	UseBinaryProtocol  *bool         `yaml:"use_binary_protocol"` // nil means true
	Symbols            []string      `yaml:"symbols"`             // used by the demo commands
}

// KeepAliveConfig holds listen-key refresh settings for private
// streams.
type KeepAliveConfig struct {
	TokenValidity time.Duration `yaml:"token_validity"`
	RefreshMargin time.Duration `yaml:"refresh_margin"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// RecorderConfig holds batch writer settings.
type RecorderConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds the recorder's database connection.
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

// Binary reports the effective wire mode (default true).
func (s StreamConfig) Binary() bool {
	return s.UseBinaryProtocol == nil || *s.UseBinaryProtocol
}

// RefreshInterval returns the keep-alive cadence: token validity minus
// the safety margin.
func (k KeepAliveConfig) RefreshInterval() time.Duration {
	return k.TokenValidity - k.RefreshMargin
}
