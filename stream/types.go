package stream

import (
	"errors"
	"time"

	"github.com/streamkit/mexc-stream/codec"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrStale         = errors.New("connection stale (nothing received)")
	ErrTimeout       = errors.New("operation timeout")
	ErrAlreadyClosed = errors.New("already closed")
	ErrClosed        = errors.New("session closed")
	ErrCapacity      = errors.New("subscription limit reached")
	ErrKeepAlive     = errors.New("keep-alive refresh failed")
)

// State is the session connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw message data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Event is one decoded market-data push delivered to a subscription
// callback.
type Event struct {
	Topic      string // canonical topic key
	Symbol     string
	Payload    []byte // event body; raw protobuf bytes in binary mode
	SentAt     time.Time
	ReceivedAt time.Time
}

// Callback consumes events for one subscription. Callbacks run on the
// session's dispatch goroutine and must not block.
type Callback func(Event)

// Policy decides what happens when the subscription limit is reached.
type Policy int

const (
	// PolicyEvictOldest drops the oldest-created subscription to make
	// room. Deterministic: creation order, ties impossible.
	PolicyEvictOldest Policy = iota
	// PolicyReject refuses the new subscription with ErrCapacity.
	PolicyReject
)

func (p Policy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "evict_oldest"
}

// StatusKind classifies session status events.
type StatusKind int

const (
	// StatusStateChange reports a connection state transition.
	StatusStateChange StatusKind = iota
	// StatusReconnected reports a successful reconnect with
	// subscription replay.
	StatusReconnected
	// StatusKeepAliveFailure reports an exhausted listen-key refresh
	// cycle. The private stream is degraded; public topics continue.
	StatusKeepAliveFailure
	// StatusProtocolError reports a server-side error frame.
	StatusProtocolError
)

// StatusEvent is one entry in the session's status stream. Background
// failures are funneled here instead of escaping from goroutines.
type StatusEvent struct {
	Kind  StatusKind
	State State
	Err   error
	At    time.Time
}

// SessionStatus is a point-in-time snapshot.
type SessionStatus struct {
	State         State
	Degraded      bool // keep-alive exhausted retries at least once
	Subscriptions int
}

// ClientConfig configures a single WebSocket connection.
type ClientConfig struct {
	URL              string        // full URL including listenKey query for private streams
	HandshakeTimeout time.Duration // WebSocket handshake deadline
	PingInterval     time.Duration // application-level ping cadence
	ReadTimeout      time.Duration // max silence before the connection is stale
	WriteTimeout     time.Duration // write deadline for sends
	BufferSize       int           // message channel buffer size
	PingFrame        []byte        // application-level ping payload
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     20 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// SessionConfig configures a Session.
type SessionConfig struct {
	URL       string // base websocket URL
	ListenKey string // pre-created listen key; empty means create one

	Codec             codec.Codec // nil means JSONCodec in the configured wire mode
	UseBinaryProtocol bool        // request protobuf pushes (ignored when Codec is set)

	ConnectTimeout   time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
	MaxSubscriptions int
	OverflowPolicy   Policy

	DisableReconnect   bool
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	KeepAliveInterval time.Duration // listen-key refresh cadence
	KeepAliveRetries  int           // bounded retries per refresh cycle
	KeepAliveBackoff  time.Duration // initial retry backoff
}

// DefaultSessionConfig returns sensible defaults for a public session.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		URL:                "wss://wbs-api.mexc.com/ws",
		UseBinaryProtocol:  true,
		ConnectTimeout:     10 * time.Second,
		PingInterval:       20 * time.Second,
		ReadTimeout:        60 * time.Second,
		WriteTimeout:       5 * time.Second,
		BufferSize:         1000,
		MaxSubscriptions:   30, // exchange limit per connection
		OverflowPolicy:     PolicyEvictOldest,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		KeepAliveInterval:  59 * time.Minute, // 60m validity minus 1m margin
		KeepAliveRetries:   3,
		KeepAliveBackoff:   1 * time.Second,
	}
}
