package codec

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrDecode is returned when an inbound frame cannot be decoded. The
// session drops the frame and continues.
var ErrDecode = errors.New("decode frame")

// Kind tags a decoded frame.
type Kind int

const (
	// KindEvent is a market-data push for a subscribed topic.
	KindEvent Kind = iota
	// KindAck acknowledges a subscribe or unsubscribe request.
	KindAck
	// KindPong answers the application-level ping.
	KindPong
	// KindError is a server-reported protocol error.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindAck:
		return "ack"
	case KindPong:
		return "pong"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is the tagged result of decoding one wire message.
type Frame struct {
	Kind Kind

	// Event fields
	Topic   string          // canonical topic key
	Symbol  string          // exchange symbol, when present
	Payload json.RawMessage // event body ("d" object, or raw protobuf bytes)
	SentAt  time.Time       // exchange send time, when present

	// Ack/error fields
	Code int
	Msg  string
}

// Codec serializes subscription requests and deserializes inbound
// frames.
type Codec interface {
	// EncodeSubscribe builds one subscribe frame covering all topics.
	EncodeSubscribe(topics []Topic) ([]byte, error)

	// EncodeUnsubscribe builds one unsubscribe frame for the given
	// canonical topic keys.
	EncodeUnsubscribe(keys []string) ([]byte, error)

	// EncodePing builds the application-level keep-open ping.
	EncodePing() []byte

	// Decode parses one inbound wire message into a tagged Frame.
	Decode(data []byte) (Frame, error)

	// Binary reports whether the codec requests the protobuf wire
	// format from the server.
	Binary() bool
}
