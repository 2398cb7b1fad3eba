package codec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTopic is returned when a topic fails validation.
var ErrInvalidTopic = errors.New("invalid topic")

// Known spot v3 stream names. Streams not in this table are rejected
// before any frame is sent.
var knownStreams = map[string]streamSpec{
	"public.deals":            {needsSymbol: true},
	"public.kline":            {needsSymbol: true, needsInterval: true, intervalLast: true},
	"public.increase.depth":   {needsSymbol: true},
	"public.limit.depth":      {needsSymbol: true, needsLevel: true},
	"public.bookTicker":       {needsSymbol: true},
	"public.miniTicker":       {needsSymbol: true},
	"public.aggre.deals":      {needsSymbol: true, needsInterval: true},
	"public.aggre.depth":      {needsSymbol: true, needsInterval: true},
	"public.aggre.bookTicker": {needsSymbol: true, needsInterval: true},
	"private.account":         {private: true},
	"private.deals":           {private: true},
	"private.orders":          {private: true},
}

type streamSpec struct {
	needsSymbol   bool
	needsInterval bool
	needsLevel    bool
	intervalLast  bool // kline keys order symbol@interval; aggre keys interval@symbol
	private       bool
}

// Kline intervals accepted by the exchange.
var klineIntervals = map[string]struct{}{
	"Min1": {}, "Min5": {}, "Min15": {}, "Min30": {}, "Min60": {},
	"Hour4": {}, "Hour8": {}, "Day1": {}, "Week1": {}, "Month1": {},
}

// Topic identifies one logical stream subscription before
// canonicalization.
type Topic struct {
	Stream   string   // e.g. "public.deals"
	Interval string   // kline interval or aggregation window, when required
	Params   []string // remaining positional parameters, usually the symbol
}

// Validate checks the topic against the known stream table.
func (t Topic) Validate() error {
	spec, ok := knownStreams[t.Stream]
	if !ok {
		return fmt.Errorf("%w: unknown stream %q", ErrInvalidTopic, t.Stream)
	}

	if spec.private {
		if t.Interval != "" || len(t.Params) != 0 {
			return fmt.Errorf("%w: stream %q takes no parameters", ErrInvalidTopic, t.Stream)
		}
		return nil
	}

	if spec.needsSymbol {
		if len(t.Params) == 0 || t.Params[0] == "" {
			return fmt.Errorf("%w: stream %q requires a symbol", ErrInvalidTopic, t.Stream)
		}
		if t.Params[0] != strings.ToUpper(t.Params[0]) {
			return fmt.Errorf("%w: symbol %q must be uppercase", ErrInvalidTopic, t.Params[0])
		}
	}

	if spec.needsInterval && t.Interval == "" {
		return fmt.Errorf("%w: stream %q requires an interval", ErrInvalidTopic, t.Stream)
	}
	if t.Stream == "public.kline" {
		if _, ok := klineIntervals[t.Interval]; !ok {
			return fmt.Errorf("%w: unknown kline interval %q", ErrInvalidTopic, t.Interval)
		}
	}
	if spec.needsLevel {
		if len(t.Params) < 2 {
			return fmt.Errorf("%w: stream %q requires a depth level", ErrInvalidTopic, t.Stream)
		}
	}

	return nil
}

// Key returns the canonical topic key, e.g.
// "spot@public.deals.v3.api@BTCUSDT". The key is identical in JSON and
// binary mode; the ".pb" suffix is a wire detail only.
func (t Topic) Key() string {
	parts := []string{"spot@" + t.Stream + ".v3.api"}
	if t.Interval != "" && !knownStreams[t.Stream].intervalLast {
		parts = append(parts, t.Interval)
	}
	parts = append(parts, t.Params...)
	if t.Interval != "" && knownStreams[t.Stream].intervalLast {
		parts = append(parts, t.Interval)
	}
	return strings.Join(parts, "@")
}

// wireChannel returns the channel string sent on the wire. Binary mode
// inserts the ".pb" marker after the api version.
func (t Topic) wireChannel(binary bool) string {
	key := t.Key()
	if !binary {
		return key
	}
	return strings.Replace(key, ".v3.api", ".v3.api.pb", 1)
}

// CanonicalKey normalizes an inbound channel string to its canonical
// topic key by stripping the binary wire marker.
func CanonicalKey(channel string) string {
	return strings.Replace(channel, ".v3.api.pb", ".v3.api", 1)
}
