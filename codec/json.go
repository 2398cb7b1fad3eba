package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JSONCodec implements the MEXC spot v3 websocket protocol. Requests
// are always JSON; when binary mode is enabled the server is asked to
// push protobuf frames (".pb" channels) and event payloads are passed
// through undecoded, with only the envelope header (channel, symbol,
// send time) extracted for routing.
type JSONCodec struct {
	binary bool
}

// NewJSONCodec returns a codec for the given wire mode.
func NewJSONCodec(binary bool) *JSONCodec {
	return &JSONCodec{binary: binary}
}

// Binary reports the wire mode.
func (c *JSONCodec) Binary() bool { return c.binary }

// request is the client→server JSON envelope.
type request struct {
	Method string   `json:"method"`
	Params []string `json:"params,omitempty"`
}

// EncodeSubscribe builds a SUBSCRIPTION request for all topics.
func (c *JSONCodec) EncodeSubscribe(topics []Topic) ([]byte, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("encode subscribe: no topics")
	}
	params := make([]string, 0, len(topics))
	for _, t := range topics {
		params = append(params, t.wireChannel(c.binary))
	}
	return json.Marshal(request{Method: "SUBSCRIPTION", Params: params})
}

// EncodeUnsubscribe builds an UNSUBSCRIPTION request for the given
// canonical keys.
func (c *JSONCodec) EncodeUnsubscribe(keys []string) ([]byte, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("encode unsubscribe: no keys")
	}
	params := make([]string, 0, len(keys))
	for _, k := range keys {
		if c.binary {
			k = wireKey(k)
		}
		params = append(params, k)
	}
	return json.Marshal(request{Method: "UNSUBSCRIPTION", Params: params})
}

// wireKey converts a canonical key to its binary wire channel.
// Canonical keys never carry ".pb" themselves.
func wireKey(key string) string {
	return strings.Replace(key, ".v3.api", ".v3.api.pb", 1)
}

// EncodePing builds the application-level ping the server expects to
// see periodically on otherwise idle connections.
func (c *JSONCodec) EncodePing() []byte {
	return []byte(`{"method":"PING"}`)
}

// envelope is the server→client JSON shape. MEXC spot uses short field
// names ("c", "s", "t", "d"); acks carry "id"/"code"/"msg".
type envelope struct {
	ID      *int            `json:"id"`
	Code    *int            `json:"code"`
	Msg     string          `json:"msg"`
	Channel string          `json:"c"`
	Symbol  string          `json:"s"`
	Time    int64           `json:"t"`
	Data    json.RawMessage `json:"d"`
}

// Decode parses one inbound wire message.
func (c *JSONCodec) Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty message", ErrDecode)
	}

	if data[0] != '{' {
		if !c.binary {
			return Frame{}, fmt.Errorf("%w: non-JSON message in JSON mode", ErrDecode)
		}
		return c.decodeBinary(data)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch {
	case env.Channel != "":
		payload := env.Data
		if len(payload) == 0 {
			payload = data
		}
		f := Frame{
			Kind:    KindEvent,
			Topic:   CanonicalKey(env.Channel),
			Symbol:  env.Symbol,
			Payload: payload,
		}
		if env.Time > 0 {
			f.SentAt = time.UnixMilli(env.Time)
		}
		return f, nil

	case env.Msg == "PONG":
		return Frame{Kind: KindPong}, nil

	case env.Code != nil:
		if *env.Code != 0 {
			return Frame{Kind: KindError, Code: *env.Code, Msg: env.Msg}, nil
		}
		return Frame{Kind: KindAck, Msg: env.Msg}, nil

	default:
		return Frame{}, fmt.Errorf("%w: unrecognized message shape", ErrDecode)
	}
}

// decodeBinary extracts the routing header from a protobuf
// PushDataV3ApiWrapper without decoding the event body: field 1 is the
// channel, field 3 the symbol, field 6 the send time (ms). The payload
// is handed to the caller verbatim.
func (c *JSONCodec) decodeBinary(data []byte) (Frame, error) {
	f := Frame{Kind: KindEvent, Payload: data}

	rest := data
	for len(rest) > 0 {
		tag, n := binary.Uvarint(rest)
		if n <= 0 {
			return Frame{}, fmt.Errorf("%w: malformed protobuf tag", ErrDecode)
		}
		rest = rest[n:]

		field, wireType := tag>>3, tag&0x7

		switch wireType {
		case 0: // varint
			v, n := binary.Uvarint(rest)
			if n <= 0 {
				return Frame{}, fmt.Errorf("%w: malformed varint", ErrDecode)
			}
			rest = rest[n:]
			if field == 6 {
				f.SentAt = time.UnixMilli(int64(v))
			}

		case 2: // length-delimited
			l, n := binary.Uvarint(rest)
			if n <= 0 || uint64(len(rest)-n) < l {
				return Frame{}, fmt.Errorf("%w: malformed length prefix", ErrDecode)
			}
			val := rest[n : n+int(l)]
			rest = rest[n+int(l):]
			switch field {
			case 1:
				f.Topic = CanonicalKey(string(val))
			case 3:
				f.Symbol = string(val)
			}

		default:
			return Frame{}, fmt.Errorf("%w: unsupported protobuf wire type %d", ErrDecode, wireType)
		}

		// Header fields sit below the body field range; once both
		// routing fields are known there is nothing left to scan.
		if f.Topic != "" && f.Symbol != "" && !f.SentAt.IsZero() {
			break
		}
	}

	if f.Topic == "" {
		return Frame{}, fmt.Errorf("%w: protobuf frame without channel", ErrDecode)
	}
	return f, nil
}
