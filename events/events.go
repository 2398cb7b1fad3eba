package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Trade sides as sent on the wire.
const (
	SideBuy  = 1
	SideSell = 2
)

// Deal is a single executed trade.
type Deal struct {
	Price    string `json:"p"`
	Quantity string `json:"v"`
	Side     int    `json:"S"`
	Time     int64  `json:"t"` // Milliseconds
}

// Timestamp returns the trade time.
func (d Deal) Timestamp() time.Time {
	return time.UnixMilli(d.Time)
}

// IsBuy reports whether the taker side was a buy.
func (d Deal) IsBuy() bool {
	return d.Side == SideBuy
}

// DealsEvent is a batch of trades pushed on the public deals stream.
type DealsEvent struct {
	Deals []Deal `json:"deals"`
}

// ParseDeals decodes a public deals payload.
func ParseDeals(payload []byte) (DealsEvent, error) {
	var ev DealsEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return DealsEvent{}, fmt.Errorf("parse deals: %w", err)
	}
	return ev, nil
}

// Kline is one candlestick update.
type Kline struct {
	Interval  string `json:"i"`
	StartTime int64  `json:"t"` // Seconds
	EndTime   int64  `json:"T"` // Seconds
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Amount    string `json:"a"`
}

// KlineEvent wraps a candlestick payload from the kline stream.
type KlineEvent struct {
	Kline Kline `json:"k"`
}

// ParseKline decodes a kline payload.
func ParseKline(payload []byte) (KlineEvent, error) {
	var ev KlineEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return KlineEvent{}, fmt.Errorf("parse kline: %w", err)
	}
	return ev, nil
}

// PriceLevel is one price point in a depth update.
type PriceLevel struct {
	Price    string `json:"p"`
	Quantity string `json:"v"`
}

// DepthEvent is an order book update, either incremental or a limited
// snapshot depending on the stream it arrived on. Version orders
// updates within a symbol.
type DepthEvent struct {
	Asks    []PriceLevel `json:"asks"`
	Bids    []PriceLevel `json:"bids"`
	Version string       `json:"r"`
}

// ParseDepth decodes a depth payload.
func ParseDepth(payload []byte) (DepthEvent, error) {
	var ev DepthEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return DepthEvent{}, fmt.Errorf("parse depth: %w", err)
	}
	return ev, nil
}

// BookTickerEvent is the best bid and ask for a symbol.
type BookTickerEvent struct {
	BidPrice    string `json:"b"`
	BidQuantity string `json:"B"`
	AskPrice    string `json:"a"`
	AskQuantity string `json:"A"`
}

// ParseBookTicker decodes a book ticker payload.
func ParseBookTicker(payload []byte) (BookTickerEvent, error) {
	var ev BookTickerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return BookTickerEvent{}, fmt.Errorf("parse book ticker: %w", err)
	}
	return ev, nil
}

// MiniTickerEvent is the rolling 24h statistics for a symbol.
type MiniTickerEvent struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Rate      string `json:"r"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Quantity  string `json:"q"`
	LastRate  string `json:"tr"`
	MilliTime int64  `json:"t"`
	UTCOffset string `json:"z,omitempty"`
}

// ParseMiniTicker decodes a mini ticker payload.
func ParseMiniTicker(payload []byte) (MiniTickerEvent, error) {
	var ev MiniTickerEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return MiniTickerEvent{}, fmt.Errorf("parse mini ticker: %w", err)
	}
	return ev, nil
}
